package speculate

import (
	"context"

	"github.com/vthunder/timeline/internal/entry"
	"github.com/vthunder/timeline/internal/types"
)

// Assessment is a safety authority's verdict on a speculation
type Assessment struct {
	Safe            bool         `json:"safe"`
	Reason          string       `json:"reason,omitempty"`
	SafeAlternative *Speculation `json:"safe_alternative,omitempty"`
}

// SafetyAuthority is consulted before any speculation leaves the engine
type SafetyAuthority interface {
	AssessSpeculationSafety(ctx context.Context, segment entry.Entry, situ types.Context, proposed []Speculation) (Assessment, error)
}

// AllowAll approves everything
type AllowAll struct{}

func (AllowAll) AssessSpeculationSafety(context.Context, entry.Entry, types.Context, []Speculation) (Assessment, error) {
	return Assessment{Safe: true}, nil
}
