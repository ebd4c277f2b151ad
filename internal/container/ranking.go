package container

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vthunder/timeline/internal/types"
)

// Weights are the (w1, w2, w3) coefficients of the ranking score
type Weights struct {
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Evidence   float64 `json:"evidence" yaml:"evidence"`
	Recency    float64 `json:"recency" yaml:"recency"`
}

// Sum returns w1 + w2 + w3
func (w Weights) Sum() float64 {
	return w.Confidence + w.Evidence + w.Recency
}

// Normalize scales the weights so they sum to 1.
// Negative, NaN or all-zero weights are rejected.
func (w Weights) Normalize() (Weights, error) {
	for _, v := range []float64{w.Confidence, w.Evidence, w.Recency} {
		if math.IsNaN(v) || v < 0 {
			return Weights{}, fmt.Errorf("%w: negative or NaN weight", ErrInvalidWeights)
		}
	}
	sum := w.Sum()
	if sum <= 0 {
		return Weights{}, fmt.Errorf("%w: weights sum to zero", ErrInvalidWeights)
	}
	return Weights{
		Confidence: w.Confidence / sum,
		Evidence:   w.Evidence / sum,
		Recency:    w.Recency / sum,
	}, nil
}

// RankingPolicy is a swappable evaluation script. Weights must sum to 1.
type RankingPolicy interface {
	Name() string
	Weights(c Candidate, now time.Time) Weights
}

type staticPolicy struct {
	name string
	w    Weights
}

func (p staticPolicy) Name() string { return p.name }

func (p staticPolicy) Weights(_ Candidate, _ time.Time) Weights { return p.w }

// Static builds a policy with fixed weights (normalized to sum 1)
func Static(name string, w Weights) (RankingPolicy, error) {
	if name == "" {
		return nil, errors.New("ranking script needs a name")
	}
	norm, err := w.Normalize()
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}
	return staticPolicy{name: name, w: norm}, nil
}

func mustStatic(name string, w Weights) RankingPolicy {
	p, err := Static(name, w)
	if err != nil {
		panic(err)
	}
	return p
}

// Built-in evaluation scripts
var (
	Balanced  = mustStatic("balanced", Weights{Confidence: 0.4, Evidence: 0.4, Recency: 0.2})
	Skeptic   = mustStatic("skeptic", Weights{Confidence: 0.2, Evidence: 0.7, Recency: 0.1})
	Intuitive = mustStatic("intuitive", Weights{Confidence: 0.7, Evidence: 0.2, Recency: 0.1})
	Novelty   = mustStatic("novelty", Weights{Confidence: 0.3, Evidence: 0.2, Recency: 0.5})
)

// SourceAware trusts evidence over stated confidence for derived candidates
// (speculation and pattern matches), and confidence for evaluator votes.
type SourceAware struct{}

func (SourceAware) Name() string { return "source_aware" }

func (SourceAware) Weights(c Candidate, _ time.Time) Weights {
	switch c.Source {
	case types.SourceSpeculation, types.SourcePattern:
		return Weights{Confidence: 0.2, Evidence: 0.6, Recency: 0.2}
	case types.SourceManual:
		return Weights{Confidence: 0.5, Evidence: 0.3, Recency: 0.2}
	default:
		return Weights{Confidence: 0.45, Evidence: 0.35, Recency: 0.2}
	}
}

func builtins() map[string]RankingPolicy {
	return map[string]RankingPolicy{
		Balanced.Name():      Balanced,
		Skeptic.Name():       Skeptic,
		Intuitive.Name():     Intuitive,
		Novelty.Name():       Novelty,
		SourceAware{}.Name(): SourceAware{},
	}
}

// BuiltinNames lists the built-in script names in stable order
func BuiltinNames() []string {
	names := make([]string, 0, 5)
	for name := range builtins() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PolicyByName resolves a configured script. Custom scripts shadow builtins.
func PolicyByName(name string, custom map[string]RankingPolicy) (RankingPolicy, error) {
	if p, ok := custom[name]; ok {
		return p, nil
	}
	if p, ok := builtins()[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScript, name)
}

// Recency decays from 1 (just created) toward 0 as the candidate ages.
// bias controls the decay rate per hour; bias 0 disables decay.
func Recency(age time.Duration, bias float64) float64 {
	if age <= 0 || bias <= 0 {
		return 1
	}
	return math.Exp(-bias * age.Hours())
}

// Score computes the ranking score of c at time now under policy p
func Score(p RankingPolicy, c Candidate, now time.Time, bias float64) float64 {
	w := p.Weights(c, now)
	return w.Confidence*c.Confidence +
		w.Evidence*c.EvidenceStrength +
		w.Recency*Recency(now.Sub(c.CreatedAt), bias)
}
