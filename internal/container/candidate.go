package container

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vthunder/timeline/internal/types"
)

// Candidate is one hypothesis about what an ambiguous entry represents
type Candidate struct {
	ID               string                `json:"id"`
	Description      string                `json:"description"`
	Category         types.Category        `json:"category"`
	Confidence       float64               `json:"confidence"`        // 0.0-1.0
	EvidenceStrength float64               `json:"evidence_strength"` // 0.0-1.0
	Source           types.CandidateSource `json:"source"`
	CreatedAt        time.Time             `json:"created_at"`
}

// NewCandidate builds a candidate with a fresh ID
func NewCandidate(description string, category types.Category, confidence, evidence float64, source types.CandidateSource, createdAt time.Time) Candidate {
	return Candidate{
		ID:               uuid.New().String(),
		Description:      description,
		Category:         category,
		Confidence:       confidence,
		EvidenceStrength: evidence,
		Source:           source,
		CreatedAt:        createdAt,
	}
}

// FromVote turns a consensus vote into an evaluator-sourced candidate
func FromVote(v types.Vote, createdAt time.Time) Candidate {
	desc := strings.TrimSpace(v.Reasoning)
	if desc == "" {
		desc = fmt.Sprintf("%s (per %s)", v.SuggestedCategory, v.EvaluatorID)
	}
	return NewCandidate(desc, v.SuggestedCategory, types.Clamp01(v.Confidence), types.Clamp01(v.Significance), types.SourceEvaluator, createdAt)
}

// Validate checks value ranges
func (c Candidate) Validate() error {
	if !types.InUnit(c.Confidence) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidCandidate, c.Confidence)
	}
	if !types.InUnit(c.EvidenceStrength) {
		return fmt.Errorf("%w: evidence strength %v outside [0,1]", ErrInvalidCandidate, c.EvidenceStrength)
	}
	if strings.TrimSpace(c.Description) == "" {
		return fmt.Errorf("%w: empty description", ErrInvalidCandidate)
	}
	return nil
}

// normalize fills defaults for optional fields
func (c Candidate) normalize(now time.Time) Candidate {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if !c.Category.Known() {
		c.Category = types.ParseCategory(string(c.Category))
	}
	if c.Source == "" {
		c.Source = types.SourceOther
	}
	return c
}
