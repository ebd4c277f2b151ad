package consensus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vthunder/timeline/internal/types"
)

func vote(id string, sig, conf float64, cat types.Category) types.Vote {
	return types.Vote{EvaluatorID: id, Significance: sig, Confidence: conf, SuggestedCategory: cat}
}

// TestSingleStrongVoteResolves tests that one confident work vote resolves as work
func TestSingleStrongVoteResolves(t *testing.T) {
	votes := []types.Vote{vote("a", 0.9, 0.9, types.CategoryWork)}
	res := Aggregate(votes)

	assert.InDelta(t, 1.0, res.Score, 1e-9)
	assert.Equal(t, types.CategoryWork, res.Dominant)

	d := Decide(res, votes, DefaultDecisionConfig())
	assert.True(t, d.Resolved)
	assert.Equal(t, types.CategoryWork, d.Category)
	assert.Empty(t, d.Seeds)
}

// TestWeakVotesSeedNothing tests that confidence at the 0.3 boundary does not seed
func TestWeakVotesSeedNothing(t *testing.T) {
	votes := []types.Vote{
		vote("a", 0.5, 0.3, types.CategoryWork),
		vote("b", 0.5, 0.3, types.CategoryHome),
	}
	res := Aggregate(votes)
	assert.InDelta(t, 0.5, res.Score, 1e-9)

	d := Decide(res, votes, DefaultDecisionConfig())
	assert.False(t, d.Resolved)
	assert.Equal(t, types.CategoryUnresolved, d.Category)
	assert.Empty(t, d.Seeds)
}

// TestTinyAgreementResolves tests that the score alone decides, however small the weight
func TestTinyAgreementResolves(t *testing.T) {
	votes := []types.Vote{vote("a", 0.1, 0.5, types.CategoryWork)}
	res := Aggregate(votes)
	assert.InDelta(t, 1.0, res.Score, 1e-9)

	d := Decide(res, votes, DefaultDecisionConfig())
	assert.True(t, d.Resolved)
	assert.Equal(t, types.CategoryWork, d.Category)

	// an explicit support floor keeps it open
	d = Decide(res, votes, DecisionConfig{Threshold: 0.6, SeedConfidence: 0.3, MinSupport: 0.1})
	assert.False(t, d.Resolved)
	assert.Len(t, d.Seeds, 1)
}

func TestConfidentUnresolvedVoteSeeds(t *testing.T) {
	votes := []types.Vote{
		vote("a", 0.8, 0.8, types.CategoryUnresolved),
		vote("b", 0.8, 0.8, types.CategoryWork),
	}
	res := Aggregate(votes)
	d := Decide(res, votes, DefaultDecisionConfig())

	assert.False(t, d.Resolved)
	require.Len(t, d.Seeds, 2)
	assert.Equal(t, types.CategoryUnresolved, d.Seeds[0].SuggestedCategory)
	assert.Equal(t, types.CategoryWork, d.Seeds[1].SuggestedCategory)
}

func TestSplitVotesAmbiguous(t *testing.T) {
	votes := []types.Vote{
		vote("a", 0.8, 0.5, types.CategoryWork),
		vote("b", 0.8, 0.5, types.CategoryTravel),
		vote("c", 0.5, 0.2, types.CategoryHome),
	}
	res := Aggregate(votes)
	d := Decide(res, votes, DefaultDecisionConfig())

	assert.False(t, d.Resolved)
	require.Len(t, d.Seeds, 2)
	assert.Equal(t, "a", d.Seeds[0].EvaluatorID)
	assert.Equal(t, "b", d.Seeds[1].EvaluatorID)
}

// TestTieBreaksToEarliestRegistered tests dominant selection on equal weights
func TestTieBreaksToEarliestRegistered(t *testing.T) {
	res := Aggregate([]types.Vote{
		vote("a", 0.5, 0.5, types.CategoryHome),
		vote("b", 0.5, 0.5, types.CategoryWork),
	})
	assert.Equal(t, types.CategoryHome, res.Dominant)
	assert.Equal(t, []types.Category{types.CategoryHome, types.CategoryWork}, res.Order)
	assert.InDelta(t, 0.5, res.Score, 1e-9)
}

func TestEmptyVotesNeutral(t *testing.T) {
	res := Aggregate(nil)
	assert.Equal(t, 1, res.VoteCount)
	assert.Equal(t, types.CategoryUnresolved, res.Dominant)

	d := Decide(res, nil, DefaultDecisionConfig())
	assert.False(t, d.Resolved, "neutral consensus never resolves")
}

func TestZeroWeightVotes(t *testing.T) {
	votes := []types.Vote{vote("a", 0, 0.9, types.CategoryWork)}
	res := Aggregate(votes)
	assert.Equal(t, 0.0, res.Score)

	d := Decide(res, votes, DefaultDecisionConfig())
	assert.False(t, d.Resolved)
	assert.Len(t, d.Seeds, 1)
}

// TestAggregateDeterministic tests repeated aggregation of the same votes
func TestAggregateDeterministic(t *testing.T) {
	votes := []types.Vote{
		vote("a", 0.3, 0.7, types.CategorySocial),
		vote("b", 0.6, 0.4, types.CategoryLeisure),
		vote("c", 0.2, 0.9, types.CategorySocial),
		vote("d", 0.9, 0.1, types.Category("karaoke")),
	}
	first := Aggregate(votes)
	for i := 0; i < 20; i++ {
		again := Aggregate(votes)
		assert.Equal(t, first.Score, again.Score)
		assert.Equal(t, first.Dominant, again.Dominant)
	}
	assert.Contains(t, first.PerCategory, types.CategoryOther)
	assert.Greater(t, first.Spread, 0.0)
}

// mockEvaluator is a scripted evaluator
type mockEvaluator struct {
	mu    sync.Mutex
	id    string
	vote  types.Vote
	err   error
	delay time.Duration
	panic bool
	calls int
}

func (m *mockEvaluator) ID() string { return m.id }

func (m *mockEvaluator) VoteOnExperienceSignificance(ctx context.Context, _ types.Experience, _ types.Context) (types.Vote, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.panic {
		panic("boom")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return types.Vote{}, ctx.Err()
		}
	}
	return m.vote, m.err
}

// TestCollectAbsorbsFailures tests that every failure mode becomes a neutral vote
func TestCollectAbsorbsFailures(t *testing.T) {
	good := &mockEvaluator{id: "good", vote: vote("", 0.9, 0.9, types.CategoryWork)}
	down := &mockEvaluator{id: "down", err: errors.New("connection refused")}
	busy := &mockEvaluator{id: "busy", err: ErrInsufficientResources}
	slow := &mockEvaluator{id: "slow", delay: time.Second}
	crash := &mockEvaluator{id: "crash", panic: true}

	c := NewCollector(20*time.Millisecond, good, down, busy, slow, crash)
	b := c.Collect(context.Background(), types.Experience{Content: "standup"}, types.Context{})

	require.Len(t, b.Votes, 5)
	assert.Equal(t, "good", b.Votes[0].EvaluatorID)
	assert.Equal(t, types.CategoryWork, b.Votes[0].SuggestedCategory)
	for _, v := range b.Votes[1:] {
		assert.Equal(t, types.NeutralVote(v.EvaluatorID), v)
	}

	kinds := map[string]FailureKind{}
	for _, f := range b.Failures {
		kinds[f.EvaluatorID] = f.Kind
	}
	assert.Equal(t, map[string]FailureKind{
		"down":  FailureUnavailable,
		"busy":  FailureInsufficientResources,
		"slow":  FailureTimeout,
		"crash": FailureUnavailable,
	}, kinds)

	res := Aggregate(b.Votes)
	assert.Equal(t, types.CategoryWork, res.Dominant)
}

func TestCollectClampsVotes(t *testing.T) {
	wild := &mockEvaluator{id: "wild", vote: types.Vote{EvaluatorID: "spoof", Significance: 3, Confidence: -1, SuggestedCategory: "Work"}}
	b := NewCollector(time.Second, wild).Collect(context.Background(), types.Experience{}, types.Context{})

	require.Len(t, b.Votes, 1)
	assert.Equal(t, "wild", b.Votes[0].EvaluatorID)
	assert.Equal(t, 1.0, b.Votes[0].Significance)
	assert.Equal(t, 0.0, b.Votes[0].Confidence)
	assert.Equal(t, types.CategoryWork, b.Votes[0].SuggestedCategory)
	assert.Empty(t, b.Failures)
}

func TestCollectCancelled(t *testing.T) {
	slow := &mockEvaluator{id: "slow", delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewCollector(time.Second, slow).Collect(ctx, types.Experience{}, types.Context{})
	require.Len(t, b.Failures, 1)
	assert.True(t, errors.Is(b.Failures[0], context.Canceled))
}

func TestCollectNoEvaluators(t *testing.T) {
	b := NewCollector(0).Collect(context.Background(), types.Experience{}, types.Context{})
	assert.Empty(t, b.Votes)
	assert.False(t, Decide(Aggregate(b.Votes), b.Votes, DefaultDecisionConfig()).Resolved)
}
