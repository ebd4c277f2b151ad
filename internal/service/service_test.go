package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/timeline/internal/config"
	"github.com/vthunder/timeline/internal/consensus"
	"github.com/vthunder/timeline/internal/entry"
	"github.com/vthunder/timeline/internal/types"
)

type fakeSampler struct {
	mu  sync.Mutex
	cpu float64
}

func (f *fakeSampler) CPUPercent() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cpu, nil
}

func (f *fakeSampler) MemoryPercent() (float64, error) { return 10, nil }

const rules = `
evaluators:
  - id: commute
    rules:
      - name: transit
        pattern: "\\b(bus|train)\\b"
        category: travel
        significance: 0.9
        confidence: 0.9
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Parse()
	require.NoError(t, err)
	cfg.StatePath = t.TempDir()
	cfg.EvaluatorRulesFile = filepath.Join(cfg.StatePath, "rules.yaml")
	cfg.EvaluatorTimeout = 500 * time.Millisecond
	require.NoError(t, os.WriteFile(cfg.EvaluatorRulesFile, []byte(rules), 0644))
	return cfg
}

func TestOpenWiresRulesAndActivity(t *testing.T) {
	ctx := context.Background()
	svc, err := Open(ctx, "timeline-test", testConfig(t), Options{Sampler: &fakeSampler{cpu: 5}})
	require.NoError(t, err)
	defer svc.Close(ctx)

	res, err := svc.Store.Observe(ctx, types.Experience{ID: "ride", Content: "caught the train downtown"}, types.Context{})
	require.NoError(t, err)
	require.Equal(t, entry.KindResolved, res.Entry.Kind())
	assert.Equal(t, types.CategoryTravel, res.Entry.(*entry.Resolved).Category)

	logged, err := svc.Activity.ForEntry("ride")
	require.NoError(t, err)
	assert.Len(t, logged, 1)

	families, err := svc.Registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "timeline_entries_inserted_total")
}

func TestOpenRefusesEvaluatorsUnderPressure(t *testing.T) {
	ctx := context.Background()
	svc, err := Open(ctx, "timeline-test", testConfig(t), Options{Sampler: &fakeSampler{cpu: 99}})
	require.NoError(t, err)
	defer svc.Close(ctx)

	res, err := svc.Store.Observe(ctx, types.Experience{ID: "ride", Content: "caught the bus"}, types.Context{})
	require.NoError(t, err)
	assert.Equal(t, entry.KindAmbiguous, res.Entry.Kind())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, consensus.FailureInsufficientResources, res.Failures[0].Kind)
}

// countShutdowns replaces the tracing setup for the duration of a test
func countShutdowns(t *testing.T) *int {
	t.Helper()
	calls := 0
	orig := setupTelemetry
	setupTelemetry = func(context.Context, string, string) (func(context.Context) error, error) {
		return func(context.Context) error {
			calls++
			return nil
		}, nil
	}
	t.Cleanup(func() { setupTelemetry = orig })
	return &calls
}

func TestOpenUnknownScript(t *testing.T) {
	shutdowns := countShutdowns(t)
	cfg := testConfig(t)
	cfg.RankingScript = "nope"
	_, err := Open(context.Background(), "timeline-test", cfg, Options{Sampler: &fakeSampler{}})
	assert.Error(t, err)
	assert.Equal(t, 1, *shutdowns)
}

func TestOpenBadRulesFileShutsDownTracing(t *testing.T) {
	shutdowns := countShutdowns(t)
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.EvaluatorRulesFile, []byte("evaluators: [oops"), 0644))

	_, err := Open(context.Background(), "timeline-test", cfg, Options{Sampler: &fakeSampler{}})
	assert.Error(t, err)
	assert.Equal(t, 1, *shutdowns)
}

func TestCloseShutsDownTracingOnce(t *testing.T) {
	shutdowns := countShutdowns(t)
	ctx := context.Background()
	svc, err := Open(ctx, "timeline-test", testConfig(t), Options{Sampler: &fakeSampler{}})
	require.NoError(t, err)
	assert.Equal(t, 0, *shutdowns)

	require.NoError(t, svc.Close(ctx))
	assert.Equal(t, 1, *shutdowns)
}
