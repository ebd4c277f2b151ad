// Package service assembles a timeline store and its collaborators from
// configuration. Both binaries start from here.
package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vthunder/timeline/internal/activity"
	"github.com/vthunder/timeline/internal/budget"
	"github.com/vthunder/timeline/internal/config"
	"github.com/vthunder/timeline/internal/consensus"
	"github.com/vthunder/timeline/internal/container"
	"github.com/vthunder/timeline/internal/evaluator"
	"github.com/vthunder/timeline/internal/logging"
	"github.com/vthunder/timeline/internal/metrics"
	"github.com/vthunder/timeline/internal/safety"
	"github.com/vthunder/timeline/internal/speculate"
	"github.com/vthunder/timeline/internal/telemetry"
	"github.com/vthunder/timeline/internal/timeline"
)

// Service is a running store plus everything it was wired to
type Service struct {
	Config   config.Config
	Store    *timeline.Store
	Registry *prometheus.Registry
	Budget   *budget.ResourceBudget
	Activity *activity.Log

	watcher   *budget.Watcher
	metricsSv *http.Server
	shutdown  func(context.Context) error
}

// Options overrides parts of the wiring, mostly for tests
type Options struct {
	Sampler    budget.Sampler        // nil samples this process with gopsutil
	Evaluators []consensus.Evaluator // appended after the rules file evaluators
	Locator    speculate.LocationExtractor
}

// setupTelemetry is swapped out in tests
var setupTelemetry = telemetry.Setup

// Open builds the store described by cfg and starts the background
// pieces (resource watcher, metrics listener, tracing). On error nothing
// is left running.
func Open(ctx context.Context, serviceName string, cfg config.Config, opts Options) (_ *Service, err error) {
	shutdown, err := setupTelemetry(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err != nil {
			if serr := shutdown(ctx); serr != nil {
				logging.Warn("service", "telemetry shutdown: %v", serr)
			}
		}
	}()
	svc := &Service{Config: cfg, shutdown: shutdown}

	scripts, err := container.LoadScripts(cfg.RankingScriptsFile)
	if err != nil {
		return nil, fmt.Errorf("ranking scripts: %w", err)
	}
	policy, err := container.PolicyByName(cfg.RankingScript, scripts)
	if err != nil {
		return nil, err
	}

	evals, err := evaluator.LoadRules(cfg.EvaluatorRulesFile)
	if err != nil {
		return nil, fmt.Errorf("evaluator rules: %w", err)
	}
	evals = append(evals, opts.Evaluators...)

	sampler := opts.Sampler
	if sampler == nil {
		if sampler, err = budget.NewProcessSampler(); err != nil {
			return nil, fmt.Errorf("resource sampler: %w", err)
		}
	}
	svc.watcher = budget.NewWatcher(sampler, 2*time.Second, nil)
	svc.watcher.Start()
	svc.Budget = budget.NewResourceBudget(svc.watcher, cfg.CPULimit, cfg.MemoryLimit)

	svc.Registry = metrics.NewRegistry()
	svc.Activity = activity.New(cfg.StatePath)

	engine := speculate.NewEngine(speculate.Options{
		Cutoff:            &cfg.FeasibilityCutoff,
		PatternSimilarity: cfg.PatternSimilarity,
		Locator:           opts.Locator,
		Authority:         safety.NewRuleAuthority(),
	})

	svc.Store = timeline.New(timeline.Options{
		Capacity:    cfg.ContainerCapacity,
		RecencyBias: &cfg.RecencyBias,
		Policy:      policy,
		Scripts:     scripts,
		Decision: &consensus.DecisionConfig{
			Threshold:      cfg.ConsensusThreshold,
			SeedConfidence: cfg.SeedConfidence,
			MinSupport:     cfg.MinSupport,
		},
		MinRun:    cfg.CompactionMinRun,
		Collector: consensus.NewCollector(cfg.EvaluatorTimeout, evaluator.GuardAll(evals, svc.Budget)...),
		Engine:    engine,
		Metrics:   metrics.NewStoreMetrics(svc.Registry),
		Activity:  svc.Activity,
	})

	if cfg.MetricsAddr != "" {
		svc.metricsSv = &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(svc.Registry)}
		go func() {
			if err := svc.metricsSv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Warn("service", "metrics listener: %v", err)
			}
		}()
		logging.Info("service", "Serving metrics on %s", cfg.MetricsAddr)
	}

	logging.Info("service", "Timeline ready (script=%s, evaluators=%d, capacity=%d)",
		policy.Name(), len(evals), cfg.ContainerCapacity)
	return svc, nil
}

// Close stops the background pieces and flushes traces
func (s *Service) Close(ctx context.Context) error {
	s.watcher.Stop()
	if s.metricsSv != nil {
		if err := s.metricsSv.Shutdown(ctx); err != nil {
			logging.Warn("service", "metrics shutdown: %v", err)
		}
	}
	return s.shutdown(ctx)
}
