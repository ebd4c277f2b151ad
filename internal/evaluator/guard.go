package evaluator

import (
	"context"
	"fmt"

	"github.com/vthunder/timeline/internal/consensus"
	"github.com/vthunder/timeline/internal/types"
)

// PressureSource reports resource pressure (budget.ResourceBudget)
type PressureSource interface {
	Pressure() (bool, string)
}

// Guarded refuses to evaluate while the budget reports pressure
type Guarded struct {
	inner  consensus.Evaluator
	budget PressureSource
}

// Guard wraps an evaluator with a resource check
func Guard(inner consensus.Evaluator, budget PressureSource) *Guarded {
	return &Guarded{inner: inner, budget: budget}
}

// GuardAll wraps every evaluator with the same budget
func GuardAll(evals []consensus.Evaluator, budget PressureSource) []consensus.Evaluator {
	out := make([]consensus.Evaluator, len(evals))
	for i, ev := range evals {
		out[i] = Guard(ev, budget)
	}
	return out
}

// ID returns the wrapped evaluator's id
func (g *Guarded) ID() string { return g.inner.ID() }

// VoteOnExperienceSignificance implements consensus.Evaluator
func (g *Guarded) VoteOnExperienceSignificance(ctx context.Context, exp types.Experience, situ types.Context) (types.Vote, error) {
	if g.budget != nil {
		if pressured, reason := g.budget.Pressure(); pressured {
			return types.Vote{}, fmt.Errorf("%w: %s", consensus.ErrInsufficientResources, reason)
		}
	}
	return g.inner.VoteOnExperienceSignificance(ctx, exp, situ)
}

// Func adapts a function to consensus.Evaluator
type Func struct {
	Name string
	Fn   func(ctx context.Context, exp types.Experience, situ types.Context) (types.Vote, error)
}

// ID returns the function's name
func (f Func) ID() string { return f.Name }

// VoteOnExperienceSignificance calls Fn
func (f Func) VoteOnExperienceSignificance(ctx context.Context, exp types.Experience, situ types.Context) (types.Vote, error) {
	return f.Fn(ctx, exp, situ)
}

// Fixed returns an evaluator that always casts the same vote
func Fixed(id string, significance float64, category types.Category, confidence float64) Func {
	return Func{Name: id, Fn: func(ctx context.Context, _ types.Experience, _ types.Context) (types.Vote, error) {
		if err := ctx.Err(); err != nil {
			return types.Vote{}, err
		}
		return types.Vote{
			EvaluatorID:       id,
			Significance:      significance,
			SuggestedCategory: category,
			Confidence:        confidence,
		}, nil
	}}
}
