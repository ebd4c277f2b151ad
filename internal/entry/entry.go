// Package entry defines the three kinds of timeline entry.
package entry

import (
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/timeline/internal/container"
	"github.com/vthunder/timeline/internal/types"
)

// Kind tags an entry variant
type Kind string

const (
	KindResolved  Kind = "resolved"
	KindAmbiguous Kind = "ambiguous"
	KindRun       Kind = "compacted_run"
)

// Entry is one record in the timeline: *Resolved, *Ambiguous or *CompactedRun
type Entry interface {
	EntryID() string
	Kind() Kind
	// Start is the ordering key
	Start() time.Time
	// End is the end of the covered span (Start + duration for single entries)
	End() time.Time
	// Clone returns a deep copy
	Clone() Entry
}

// NewID returns a fresh entry id
func NewID() string {
	return uuid.New().String()
}

// Resolved is a firmly classified experience
type Resolved struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Duration       time.Duration     `json:"duration"`
	Category       types.Category    `json:"category"`
	Content        string            `json:"content"`
	ConsensusScore float64           `json:"consensus_score"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

func (r *Resolved) EntryID() string  { return r.ID }
func (r *Resolved) Kind() Kind       { return KindResolved }
func (r *Resolved) Start() time.Time { return r.Timestamp }
func (r *Resolved) End() time.Time   { return r.Timestamp.Add(r.Duration) }

func (r *Resolved) Clone() Entry {
	cp := *r
	cp.Attributes = cloneAttrs(r.Attributes)
	return &cp
}

// Location returns the entry's location attribute, if any
func (r *Resolved) Location() (types.Location, bool) {
	return types.ParseLocation(r.Attributes)
}

// Ambiguous is an experience that was not confidently classified. It owns
// its interpretation container exclusively.
type Ambiguous struct {
	ID             string               `json:"id"`
	Timestamp      time.Time            `json:"timestamp"`
	Duration       time.Duration        `json:"duration"`
	ContentRef     string               `json:"content_ref"`
	Content        string               `json:"content,omitempty"`
	ConsensusScore float64              `json:"consensus_score"`
	Attributes     map[string]string    `json:"attributes,omitempty"`
	Container      *container.Container `json:"-"`
}

func (a *Ambiguous) EntryID() string  { return a.ID }
func (a *Ambiguous) Kind() Kind       { return KindAmbiguous }
func (a *Ambiguous) Start() time.Time { return a.Timestamp }
func (a *Ambiguous) End() time.Time   { return a.Timestamp.Add(a.Duration) }

func (a *Ambiguous) Clone() Entry {
	return a.CloneAmbiguous()
}

// CloneAmbiguous is Clone without the interface conversion
func (a *Ambiguous) CloneAmbiguous() *Ambiguous {
	cp := *a
	cp.Attributes = cloneAttrs(a.Attributes)
	if a.Container != nil {
		cp.Container = a.Container.Clone()
	}
	return &cp
}

// Active returns the container's active candidate
func (a *Ambiguous) Active() (container.Candidate, bool) {
	if a.Container == nil {
		return container.Candidate{}, false
	}
	return a.Container.Active()
}

// ActiveCategory returns the active candidate's category, or unresolved
func (a *Ambiguous) ActiveCategory() types.Category {
	if c, ok := a.Active(); ok {
		return c.Category
	}
	return types.CategoryUnresolved
}

// CompactedRun is a lossless fold of consecutive ambiguous entries
type CompactedRun struct {
	ID             string       `json:"id"`
	Count          int          `json:"count"`
	StartTimestamp time.Time    `json:"start_timestamp"`
	EndTimestamp   time.Time    `json:"end_timestamp"`
	Originals      []*Ambiguous `json:"originals"`
}

// NewRun folds originals (already ordered) into a run with the given id
func NewRun(id string, originals []*Ambiguous) *CompactedRun {
	if id == "" {
		id = NewID()
	}
	run := &CompactedRun{ID: id, Originals: originals}
	run.refresh()
	return run
}

func (r *CompactedRun) refresh() {
	r.Count = len(r.Originals)
	if r.Count == 0 {
		return
	}
	r.StartTimestamp = r.Originals[0].Timestamp
	r.EndTimestamp = r.Originals[r.Count-1].Timestamp
}

func (r *CompactedRun) EntryID() string  { return r.ID }
func (r *CompactedRun) Kind() Kind       { return KindRun }
func (r *CompactedRun) Start() time.Time { return r.StartTimestamp }

// End covers the longest-running original
func (r *CompactedRun) End() time.Time {
	end := r.EndTimestamp
	for _, o := range r.Originals {
		if e := o.End(); e.After(end) {
			end = e
		}
	}
	return end
}

func (r *CompactedRun) Clone() Entry {
	cp := *r
	cp.Originals = make([]*Ambiguous, len(r.Originals))
	for i, o := range r.Originals {
		cp.Originals[i] = o.CloneAmbiguous()
	}
	return &cp
}

// Contains reports whether an original with id is folded into the run
func (r *CompactedRun) Contains(id string) bool {
	return r.IndexOf(id) >= 0
}

// IndexOf returns the position of the original with id, or -1
func (r *CompactedRun) IndexOf(id string) int {
	for i, o := range r.Originals {
		if o.ID == id {
			return i
		}
	}
	return -1
}

// Overlaps reports whether e's span intersects [start, end]
func Overlaps(e Entry, start, end time.Time) bool {
	return !e.Start().After(end) && !e.End().Before(start)
}

// CloneAll deep-copies a slice of entries
func CloneAll(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}

func cloneAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
