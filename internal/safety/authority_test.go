package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/timeline/internal/entry"
	"github.com/vthunder/timeline/internal/speculate"
	"github.com/vthunder/timeline/internal/types"
)

func segment(attrs map[string]string) *entry.Ambiguous {
	return &entry.Ambiguous{ID: "amb", Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), Attributes: attrs}
}

func proposal(c types.Category) speculate.Speculation {
	return speculate.Speculation{Description: string(c) + " visit", Category: c, Feasibility: speculate.Feasibility{Score: 0.8}}
}

func TestRuleAuthority(t *testing.T) {
	a := NewRuleAuthority()
	ctx := context.Background()

	tests := []struct {
		name     string
		seg      *entry.Ambiguous
		situ     types.Context
		proposed []speculate.Speculation
		safe     bool
		reason   string
	}{
		{
			name:     "ordinary categories",
			seg:      segment(nil),
			proposed: []speculate.Speculation{proposal(types.CategoryTravel), proposal(types.CategoryWork)},
			safe:     true,
		},
		{
			name:     "sensitive without consent",
			seg:      segment(nil),
			proposed: []speculate.Speculation{proposal(types.CategoryHealth), proposal(types.CategoryFinance), proposal(types.CategoryHealth)},
			reason:   "speculation about finance, health requires consent",
		},
		{
			name:     "sensitive with consent",
			seg:      segment(nil),
			situ:     types.Context{Attributes: map[string]string{"consent": "Granted"}},
			proposed: []speculate.Speculation{proposal(types.CategoryHealth)},
			safe:     true,
		},
		{
			name:     "consent refused",
			seg:      segment(nil),
			situ:     types.Context{Attributes: map[string]string{"consent": "no"}},
			proposed: []speculate.Speculation{proposal(types.CategoryHealth)},
			reason:   "speculation about health requires consent",
		},
		{
			name:     "private tag beats consent",
			seg:      segment(nil),
			situ:     types.Context{Tags: []string{"Private"}, Attributes: map[string]string{"consent": "granted"}},
			proposed: []speculate.Speculation{proposal(types.CategoryTravel)},
			reason:   "segment is marked private",
		},
		{
			name:   "private segment",
			seg:    segment(map[string]string{"private": "true"}),
			reason: "segment is marked private",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.AssessSpeculationSafety(ctx, tt.seg, tt.situ, tt.proposed)
			require.NoError(t, err)
			assert.Equal(t, tt.safe, got.Safe)
			assert.Equal(t, tt.reason, got.Reason)
			if tt.safe {
				assert.Nil(t, got.SafeAlternative)
				return
			}
			require.NotNil(t, got.SafeAlternative)
			assert.Equal(t, AlternativeDescription, got.SafeAlternative.Description)
			assert.Equal(t, types.CategoryUnresolved, got.SafeAlternative.Category)
		})
	}
}

func TestRunWithPrivateOriginal(t *testing.T) {
	a := NewRuleAuthority()
	ctx := context.Background()
	proposed := []speculate.Speculation{proposal(types.CategoryTravel)}

	open1 := segment(nil)
	open1.ID = "one"
	hidden := segment(map[string]string{"private": "True"})
	hidden.ID = "two"
	hidden.Timestamp = open1.Timestamp.Add(time.Hour)
	open3 := segment(nil)
	open3.ID = "three"
	open3.Timestamp = open1.Timestamp.Add(2 * time.Hour)

	got, err := a.AssessSpeculationSafety(ctx, hidden, types.Context{}, proposed)
	require.NoError(t, err)
	assert.False(t, got.Safe)

	run := entry.NewRun("run", []*entry.Ambiguous{open1, hidden, open3})
	got, err = a.AssessSpeculationSafety(ctx, run, types.Context{}, proposed)
	require.NoError(t, err)
	assert.False(t, got.Safe)
	assert.Equal(t, "segment is marked private", got.Reason)

	clean := entry.NewRun("clean", []*entry.Ambiguous{open1, open3})
	got, err = a.AssessSpeculationSafety(ctx, clean, types.Context{}, proposed)
	require.NoError(t, err)
	assert.True(t, got.Safe)
}

func TestCustomSensitiveSet(t *testing.T) {
	a := NewRuleAuthority(types.CategorySocial)
	got, err := a.AssessSpeculationSafety(context.Background(), segment(nil), types.Context{},
		[]speculate.Speculation{proposal(types.CategoryHealth)})
	require.NoError(t, err)
	assert.True(t, got.Safe)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRuleAuthority().AssessSpeculationSafety(ctx, segment(nil), types.Context{}, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

// TestEngineBlocksWithAlternative tests the authority wired into the engine
func TestEngineBlocksWithAlternative(t *testing.T) {
	before := &entry.Resolved{ID: "b", Timestamp: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), Duration: time.Hour, Category: types.CategoryHealth}
	after := &entry.Resolved{ID: "a", Timestamp: time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), Duration: time.Hour, Category: types.CategoryHealth}
	seg := segment(nil)

	eng := speculate.NewEngine(speculate.Options{Authority: NewRuleAuthority()})
	res, err := eng.Speculate(context.Background(), speculate.Request{
		Segment:  seg,
		Before:   before,
		After:    after,
		Timeline: []entry.Entry{before, seg, after},
	})
	require.NoError(t, err)
	require.True(t, res.Blocked)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, AlternativeDescription, res.Candidates[0].Description)
	assert.Empty(t, res.Excluded)
}
