package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vthunder/timeline/internal/logging"
	"github.com/vthunder/timeline/internal/types"
)

var (
	// ErrEvaluatorUnavailable is recovered locally with a neutral vote
	ErrEvaluatorUnavailable = errors.New("evaluator unavailable")
	// ErrInsufficientResources is signaled by an evaluator that declined to run
	ErrInsufficientResources = errors.New("insufficient resources")
)

// DefaultTimeout bounds each evaluator call
const DefaultTimeout = 2 * time.Second

// Evaluator casts a vote on an experience. Implementations must be safe to
// call concurrently with no global lock held.
type Evaluator interface {
	ID() string
	VoteOnExperienceSignificance(ctx context.Context, exp types.Experience, situ types.Context) (types.Vote, error)
}

// FailureKind classifies a per-evaluator failure
type FailureKind string

const (
	FailureUnavailable           FailureKind = "unavailable"
	FailureTimeout               FailureKind = "timeout"
	FailureInsufficientResources FailureKind = "insufficient_resources"
)

// Failure records one evaluator that did not produce a vote
type Failure struct {
	EvaluatorID string      `json:"evaluator_id"`
	Kind        FailureKind `json:"kind"`
	Err         error       `json:"-"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("evaluator %s %s: %v", f.EvaluatorID, f.Kind, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Ballot is the joined result of one collection round. Votes has one entry
// per evaluator in evaluator order; failed evaluators contribute a neutral vote.
type Ballot struct {
	Votes    []types.Vote
	Failures []Failure
}

// Collector fans a vote request out to every evaluator and joins the results
type Collector struct {
	Evaluators []Evaluator
	Timeout    time.Duration
}

// NewCollector creates a collector with the given per-evaluator timeout
func NewCollector(timeout time.Duration, evaluators ...Evaluator) *Collector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Collector{Evaluators: evaluators, Timeout: timeout}
}

type outcome struct {
	vote    types.Vote
	failure *Failure
}

// Collect queries every evaluator concurrently. It returns only once every
// call has either answered or failed; a failure or timeout never aborts the
// round. Cancelling ctx turns outstanding calls into timeouts.
func (c *Collector) Collect(ctx context.Context, exp types.Experience, situ types.Context) Ballot {
	outcomes := make([]outcome, len(c.Evaluators))

	var g errgroup.Group
	for i, ev := range c.Evaluators {
		i, ev := i, ev
		g.Go(func() error {
			outcomes[i] = c.ask(ctx, ev, exp, situ)
			return nil
		})
	}
	_ = g.Wait()

	var b Ballot
	for _, o := range outcomes {
		b.Votes = append(b.Votes, o.vote)
		if o.failure != nil {
			b.Failures = append(b.Failures, *o.failure)
			logging.Debug("consensus", "%s", o.failure.Error())
		}
	}
	return b
}

func (c *Collector) ask(ctx context.Context, ev Evaluator, exp types.Experience, situ types.Context) outcome {
	id := ev.ID()
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		vote types.Vote
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("%w: panic: %v", ErrEvaluatorUnavailable, r)}
			}
		}()
		v, err := ev.VoteOnExperienceSignificance(callCtx, exp, situ)
		done <- reply{vote: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return failed(id, classify(r.err), r.err)
		}
		return outcome{vote: sanitize(id, r.vote)}
	case <-callCtx.Done():
		return failed(id, FailureTimeout, callCtx.Err())
	}
}

func failed(id string, kind FailureKind, err error) outcome {
	return outcome{
		vote:    types.NeutralVote(id),
		failure: &Failure{EvaluatorID: id, Kind: kind, Err: err},
	}
}

func classify(err error) FailureKind {
	switch {
	case errors.Is(err, ErrInsufficientResources):
		return FailureInsufficientResources
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	default:
		return FailureUnavailable
	}
}

// sanitize stamps the evaluator id and clamps values into range
func sanitize(id string, v types.Vote) types.Vote {
	v.EvaluatorID = id
	v.Significance = types.Clamp01(v.Significance)
	v.Confidence = types.Clamp01(v.Confidence)
	if !v.SuggestedCategory.Known() {
		v.SuggestedCategory = types.ParseCategory(string(v.SuggestedCategory))
	}
	return v
}
