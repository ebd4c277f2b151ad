package container

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vthunder/timeline/internal/types"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func confidenceOnly(t *testing.T) RankingPolicy {
	t.Helper()
	p, err := Static("confidence_only", Weights{Confidence: 1})
	require.NoError(t, err)
	return p
}

func cand(desc string, conf float64) Candidate {
	return Candidate{Description: desc, Category: types.CategoryWork, Confidence: conf, Source: types.SourceManual}
}

// TestEvictsLowestScore tests the K=2 scenario: 0.9, 0.5, 0.7 keeps 0.9 and 0.7
func TestEvictsLowestScore(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	c := New(Options{Capacity: 2, Policy: confidenceOnly(t), Clock: clock})

	for _, tc := range []struct {
		desc string
		conf float64
	}{{"a", 0.9}, {"b", 0.5}} {
		res, err := c.Add(cand(tc.desc, tc.conf))
		require.NoError(t, err)
		assert.True(t, res.Accepted)
		assert.Nil(t, res.Evicted)
	}

	res, err := c.Add(cand("c", 0.7))
	require.NoError(t, err)
	require.NotNil(t, res.Evicted)
	assert.Equal(t, "b", res.Evicted.Description)
	assert.Equal(t, 2, c.Count())

	var kept []string
	for _, k := range c.Candidates() {
		kept = append(kept, k.Description)
	}
	assert.Equal(t, []string{"a", "c"}, kept)

	active, ok := c.Active()
	require.True(t, ok)
	assert.Equal(t, "a", active.Description)
}

// TestNewCandidateCanBeEvicted tests that an incoming candidate scoring lowest is dropped immediately
func TestNewCandidateCanBeEvicted(t *testing.T) {
	c := New(Options{Capacity: 1, Policy: confidenceOnly(t), Clock: clockwork.NewFakeClockAt(epoch)})

	_, err := c.Add(cand("strong", 0.8))
	require.NoError(t, err)

	res, err := c.Add(cand("weak", 0.2))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	require.NotNil(t, res.Evicted)
	assert.Equal(t, "weak", res.Evicted.Description)
	assert.False(t, res.ActiveChanged())
}

// TestTieEvictsOldest tests that equal scores evict the oldest created_at first
func TestTieEvictsOldest(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	c := New(Options{Capacity: 2, Policy: confidenceOnly(t), Clock: clock})

	old := cand("old", 0.5)
	old.CreatedAt = epoch.Add(-2 * time.Hour)
	mid := cand("mid", 0.5)
	mid.CreatedAt = epoch.Add(-1 * time.Hour)

	_, err := c.Add(old)
	require.NoError(t, err)
	_, err = c.Add(mid)
	require.NoError(t, err)

	res, err := c.Add(cand("fresh", 0.5))
	require.NoError(t, err)
	require.NotNil(t, res.Evicted)
	assert.Equal(t, "old", res.Evicted.Description)
}

// TestTieSameCreatedAtEvictsEarlierInsertion tests the last tie-break
func TestTieSameCreatedAtEvictsEarlierInsertion(t *testing.T) {
	c := New(Options{Capacity: 2, Policy: confidenceOnly(t), Clock: clockwork.NewFakeClockAt(epoch)})

	for _, d := range []string{"first", "second", "third"} {
		_, err := c.Add(cand(d, 0.5))
		require.NoError(t, err)
	}

	var kept []string
	for _, k := range c.Candidates() {
		kept = append(kept, k.Description)
	}
	assert.Equal(t, []string{"third", "second"}, kept)
}

// TestCapacityNeverExceeded tests count <= K after every add
func TestCapacityNeverExceeded(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	c := New(Options{Capacity: 3, Clock: clock})

	for i := 0; i < 25; i++ {
		conf := float64((i*37)%100) / 100
		_, err := c.Add(Candidate{Description: "c", Confidence: conf, EvidenceStrength: 1 - conf})
		require.NoError(t, err)
		assert.LessOrEqual(t, c.Count(), 3)
		clock.Advance(10 * time.Minute)
	}
	assert.Equal(t, 3, c.Count())
}

// TestActiveChangeReported tests previous/new active reporting on add
func TestActiveChangeReported(t *testing.T) {
	c := New(Options{Capacity: 3, Policy: confidenceOnly(t), Clock: clockwork.NewFakeClockAt(epoch)})

	first, err := c.Add(cand("low", 0.4))
	require.NoError(t, err)
	assert.Nil(t, first.PreviousActive)
	require.NotNil(t, first.NewActive)
	assert.True(t, first.ActiveChanged())

	second, err := c.Add(cand("high", 0.9))
	require.NoError(t, err)
	require.NotNil(t, second.PreviousActive)
	assert.Equal(t, "low", second.PreviousActive.Description)
	assert.Equal(t, "high", second.NewActive.Description)
	assert.True(t, second.ActiveChanged())

	third, err := c.Add(cand("mid", 0.6))
	require.NoError(t, err)
	assert.False(t, third.ActiveChanged())
}

// TestReRankNeverEvicts tests that swapping the script reorders but keeps all candidates
func TestReRankNeverEvicts(t *testing.T) {
	c := New(Options{Capacity: 3, Policy: Intuitive, Clock: clockwork.NewFakeClockAt(epoch)})

	_, err := c.Add(Candidate{Description: "confident", Confidence: 0.9, EvidenceStrength: 0.1})
	require.NoError(t, err)
	_, err = c.Add(Candidate{Description: "evidenced", Confidence: 0.1, EvidenceStrength: 0.9})
	require.NoError(t, err)

	active, _ := c.Active()
	assert.Equal(t, "confident", active.Description)

	res := c.ReRank(Skeptic)
	assert.True(t, res.Reordered)
	assert.True(t, res.ActiveChanged())
	assert.Equal(t, "evidenced", res.NewActive.Description)
	assert.Equal(t, 2, c.Count())
	assert.Equal(t, "skeptic", c.Policy().Name())

	again := c.ReRank(Skeptic)
	assert.False(t, again.Reordered)
	assert.False(t, again.ActiveChanged())
}

// TestReRankDrivesNextEviction tests that the new script decides the next eviction
func TestReRankDrivesNextEviction(t *testing.T) {
	c := New(Options{Capacity: 2, Policy: Intuitive, Clock: clockwork.NewFakeClockAt(epoch)})

	_, err := c.Add(Candidate{Description: "confident", Confidence: 0.9, EvidenceStrength: 0.1})
	require.NoError(t, err)
	_, err = c.Add(Candidate{Description: "evidenced", Confidence: 0.1, EvidenceStrength: 0.9})
	require.NoError(t, err)

	c.ReRank(Skeptic)
	res, err := c.Add(Candidate{Description: "middling", Confidence: 0.5, EvidenceStrength: 0.5})
	require.NoError(t, err)
	require.NotNil(t, res.Evicted)
	assert.Equal(t, "confident", res.Evicted.Description)
}

// TestRecencyFavorsFresh tests that older candidates lose score over time
func TestRecencyFavorsFresh(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	c := New(Options{Capacity: 2, Policy: Novelty, RecencyBias: DefaultRecencyBias, Clock: clock})

	_, err := c.Add(Candidate{Description: "stale", Confidence: 0.6, EvidenceStrength: 0.6})
	require.NoError(t, err)
	clock.Advance(6 * time.Hour)
	_, err = c.Add(Candidate{Description: "fresh", Confidence: 0.6, EvidenceStrength: 0.6})
	require.NoError(t, err)

	active, _ := c.Active()
	assert.Equal(t, "fresh", active.Description)

	scores := c.Scores()
	assert.Len(t, scores, 2)
}

func TestRecency(t *testing.T) {
	assert.Equal(t, 1.0, Recency(0, 0.3))
	assert.Equal(t, 1.0, Recency(time.Hour, 0))
	assert.InDelta(t, 0.7408, Recency(time.Hour, 0.3), 1e-4)
	assert.Less(t, Recency(5*time.Hour, 0.3), Recency(time.Hour, 0.3))
}

func TestAddRejectsInvalid(t *testing.T) {
	c := New(Options{Clock: clockwork.NewFakeClockAt(epoch)})

	tests := []struct {
		name string
		cand Candidate
	}{
		{"confidence above one", Candidate{Description: "x", Confidence: 1.5}},
		{"negative evidence", Candidate{Description: "x", EvidenceStrength: -0.1}},
		{"empty description", Candidate{Description: "  ", Confidence: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Add(tt.cand)
			assert.True(t, errors.Is(err, ErrInvalidCandidate))
		})
	}
	assert.Equal(t, 0, c.Count())
}

func TestNormalizeDefaults(t *testing.T) {
	c := New(Options{Clock: clockwork.NewFakeClockAt(epoch)})

	_, err := c.Add(Candidate{Description: "x", Category: "Commute", Confidence: 0.5})
	require.NoError(t, err)

	got, ok := c.Active()
	require.True(t, ok)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, epoch, got.CreatedAt)
	assert.Equal(t, types.CategoryOther, got.Category)
	assert.Equal(t, types.SourceOther, got.Source)
}

// TestCloneIsIndependent tests that mutating a clone leaves the original untouched
func TestCloneIsIndependent(t *testing.T) {
	c := New(Options{Capacity: 2, Clock: clockwork.NewFakeClockAt(epoch)})
	_, err := c.Add(cand("a", 0.5))
	require.NoError(t, err)

	cp := c.Clone()
	_, err = cp.Add(cand("b", 0.9))
	require.NoError(t, err)

	assert.Equal(t, 1, c.Count())
	assert.Equal(t, 2, cp.Count())
}

func TestFromVote(t *testing.T) {
	v := types.Vote{EvaluatorID: "e1", Significance: 0.8, SuggestedCategory: types.CategoryTravel, Confidence: 0.6}
	got := FromVote(v, epoch)

	assert.Equal(t, "travel (per e1)", got.Description)
	assert.Equal(t, 0.6, got.Confidence)
	assert.Equal(t, 0.8, got.EvidenceStrength)
	assert.Equal(t, types.SourceEvaluator, got.Source)
	assert.NoError(t, got.Validate())
}
