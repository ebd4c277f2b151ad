package timeline

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEntry   = errors.New("unknown entry")
	ErrNotAmbiguous   = errors.New("entry is not ambiguous")
	ErrDuplicateEntry = errors.New("duplicate entry id")
)

// UnknownEntryError is returned for an entry id the timeline does not hold
type UnknownEntryError struct {
	ID string
}

func (e *UnknownEntryError) Error() string {
	return fmt.Sprintf("unknown entry %q", e.ID)
}

func (e *UnknownEntryError) Is(target error) bool {
	return target == ErrUnknownEntry
}

func unknown(id string) error {
	return &UnknownEntryError{ID: id}
}
