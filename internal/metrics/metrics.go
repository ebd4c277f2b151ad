// Package metrics holds the Prometheus collectors for the timeline store.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "timeline"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// StoreMetrics holds the metrics emitted by timeline.Store.
type StoreMetrics struct {
	EntriesInserted     *prometheus.CounterVec
	EvaluatorFailures   *prometheus.CounterVec
	CandidateEvictions  prometheus.Counter
	RunsFolded          prometheus.Counter
	InterpretationDrift prometheus.Counter
	Reinterpretations   prometheus.Counter
	SpeculationsBlocked prometheus.Counter
	InsertDuration      prometheus.Histogram
	TimelineLength      prometheus.Gauge
}

// NewStoreMetrics creates and registers store metrics on the given registry.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		EntriesInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_inserted_total",
			Help:      "Total number of experiences inserted, by resulting entry kind.",
		}, []string{"kind"}),
		EvaluatorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluator_failures_total",
			Help:      "Evaluator calls replaced by a neutral vote, by failure kind.",
		}, []string{"kind"}),
		CandidateEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidate_evictions_total",
			Help:      "Total number of candidates evicted from full containers.",
		}),
		RunsFolded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_folded_total",
			Help:      "Total number of compacted runs created or extended.",
		}),
		InterpretationDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interpretation_drift_total",
			Help:      "Total number of times an entry's active interpretation changed.",
		}),
		Reinterpretations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reinterpretations_total",
			Help:      "Total number of reinterpretation records appended.",
		}),
		SpeculationsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speculations_blocked_total",
			Help:      "Total number of speculations withheld by the safety authority.",
		}),
		InsertDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "insert_duration_seconds",
			Help:      "Duration of insert, including evaluator collection, in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		TimelineLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries_current",
			Help:      "Current number of top-level timeline entries.",
		}),
	}

	reg.MustRegister(
		m.EntriesInserted,
		m.EvaluatorFailures,
		m.CandidateEvictions,
		m.RunsFolded,
		m.InterpretationDrift,
		m.Reinterpretations,
		m.SpeculationsBlocked,
		m.InsertDuration,
		m.TimelineLength,
	)
	return m
}
