// Package timeline is the ordered log of experiences. It classifies each
// experience by consensus, keeps the log in timestamp order, folds runs of
// ambiguous entries and serves speculation and reinterpretation over it.
//
// The store is single-writer: every mutation holds the write lock from
// classification to compaction. Readers run concurrently and always see
// deep copies.
package timeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vthunder/timeline/internal/activity"
	"github.com/vthunder/timeline/internal/compaction"
	"github.com/vthunder/timeline/internal/consensus"
	"github.com/vthunder/timeline/internal/container"
	"github.com/vthunder/timeline/internal/entry"
	"github.com/vthunder/timeline/internal/history"
	"github.com/vthunder/timeline/internal/logging"
	"github.com/vthunder/timeline/internal/metrics"
	"github.com/vthunder/timeline/internal/speculate"
	"github.com/vthunder/timeline/internal/telemetry"
	"github.com/vthunder/timeline/internal/types"
)

// Options configures a Store. Zero values fall back to defaults; the
// pointer fields take defaults only when nil, so an explicit zero holds.
type Options struct {
	Capacity    int
	RecencyBias *float64 // 0 disables recency decay
	Policy      container.RankingPolicy
	Scripts     map[string]container.RankingPolicy // custom scripts, by name
	Decision    *consensus.DecisionConfig
	MinRun      int
	Clock       clockwork.Clock

	Collector *consensus.Collector
	Engine    *speculate.Engine
	History   *history.Log
	Metrics   *metrics.StoreMetrics
	Activity  *activity.Log
}

// Store is the timeline
type Store struct {
	mu      sync.RWMutex
	entries []entry.Entry // ordered by Start, runs folded
	version uint64

	capacity    int
	recencyBias float64
	policy      container.RankingPolicy
	scripts     map[string]container.RankingPolicy
	decision    consensus.DecisionConfig
	compactor   *compaction.Manager
	clock       clockwork.Clock

	collector *consensus.Collector
	engine    *speculate.Engine
	history   *history.Log
	metrics   *metrics.StoreMetrics
	activity  *activity.Log
}

// New creates an empty store
func New(opts Options) *Store {
	s := &Store{
		capacity:    opts.Capacity,
		recencyBias: container.DefaultRecencyBias,
		policy:      opts.Policy,
		scripts:     opts.Scripts,
		decision:    consensus.DefaultDecisionConfig(),
		compactor:   compaction.New(opts.MinRun),
		clock:       opts.Clock,
		collector:   opts.Collector,
		engine:      opts.Engine,
		history:     opts.History,
		metrics:     opts.Metrics,
		activity:    opts.Activity,
	}
	if s.capacity <= 0 {
		s.capacity = container.DefaultCapacity
	}
	if opts.RecencyBias != nil && *opts.RecencyBias >= 0 {
		s.recencyBias = *opts.RecencyBias
	}
	if s.policy == nil {
		s.policy = container.Balanced
	}
	if opts.Decision != nil {
		s.decision = *opts.Decision
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.engine == nil {
		s.engine = speculate.NewEngine(speculate.Options{Clock: s.clock})
	}
	if s.history == nil {
		s.history = history.New(s.clock)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewStoreMetrics(prometheus.NewRegistry())
	}
	return s
}

// InsertResult describes one insertion
type InsertResult struct {
	Entry     entry.Entry // copy of the stored entry
	RunID     string      // run now holding the entry, if it was folded
	Decision  consensus.Decision
	Aggregate consensus.Result
	Failures  []consensus.Failure // evaluator failures (Observe only)
	Folded    int                 // runs created or extended by this insert
	Version   uint64
}

// Insert classifies an experience from the given votes and stores it. Any
// experience is stored: with no usable votes it becomes an ambiguous entry
// with an empty container.
func (s *Store) Insert(ctx context.Context, exp types.Experience, votes []types.Vote) (InsertResult, error) {
	start := s.clock.Now()
	res, err := s.insert(ctx, exp, votes)
	if err == nil {
		s.metrics.InsertDuration.Observe(s.clock.Since(start).Seconds())
	}
	return res, err
}

// Observe collects votes from the evaluator pool and inserts the experience.
// Evaluator failures are absorbed into neutral votes and reported in the result.
func (s *Store) Observe(ctx context.Context, exp types.Experience, situ types.Context) (InsertResult, error) {
	start := s.clock.Now()

	var ballot consensus.Ballot
	if s.collector != nil {
		ballot = s.collector.Collect(ctx, exp, situ)
	}
	s.recordFailures(ballot.Failures)

	res, err := s.insert(ctx, exp, ballot.Votes)
	if err != nil {
		return res, err
	}
	res.Failures = ballot.Failures
	s.metrics.InsertDuration.Observe(s.clock.Since(start).Seconds())
	return res, nil
}

func (s *Store) insert(ctx context.Context, exp types.Experience, votes []types.Vote) (res InsertResult, err error) {
	if exp.ID == "" {
		exp.ID = entry.NewID()
	}
	_, span := telemetry.Start(ctx, "timeline.Insert", attribute.String("entry.id", exp.ID))
	defer func() { telemetry.End(span, err) }()

	if exp.Timestamp.IsZero() {
		exp.Timestamp = s.clock.Now()
	}

	s.mu.Lock()
	if _, _, ok := s.locate(exp.ID); ok {
		s.mu.Unlock()
		return InsertResult{}, fmt.Errorf("%w: %s", ErrDuplicateEntry, exp.ID)
	}

	agg := consensus.Aggregate(votes)
	decision := consensus.Decide(agg, votes, s.decision)
	e, err := s.build(exp, agg, decision)
	if err != nil {
		s.mu.Unlock()
		return InsertResult{}, err
	}

	entries, folded := s.compactor.CompactRuns(s.place(e))
	s.entries = entries
	s.version++
	res = InsertResult{
		Decision:  decision,
		Aggregate: agg,
		Folded:    folded,
		Version:   s.version,
	}
	res.Entry, res.RunID = s.snapshotOf(exp.ID)
	length := len(s.entries)
	s.mu.Unlock()

	span.SetAttributes(attribute.String("entry.kind", string(e.Kind())), attribute.Float64("consensus.score", agg.Score))
	s.metrics.EntriesInserted.WithLabelValues(string(e.Kind())).Inc()
	s.metrics.RunsFolded.Add(float64(folded))
	s.metrics.TimelineLength.Set(float64(length))
	s.logActivity(func(l *activity.Log) error {
		return l.LogInsert(exp.ID, string(e.Kind()), agg.Score, logging.Truncate(exp.Content, 80))
	})
	logging.Debug("timeline", "inserted %s %s (score %.2f, folded %d)", e.Kind(), exp.ID, agg.Score, folded)
	return res, nil
}

// build turns a classified experience into a Resolved or Ambiguous entry.
// Caller holds the write lock.
func (s *Store) build(exp types.Experience, agg consensus.Result, d consensus.Decision) (entry.Entry, error) {
	if d.Resolved {
		return &entry.Resolved{
			ID:             exp.ID,
			Timestamp:      exp.Timestamp,
			Duration:       exp.Duration,
			Category:       d.Category,
			Content:        exp.Content,
			ConsensusScore: agg.Score,
			Attributes:     cloneAttrs(exp.Attributes),
		}, nil
	}

	amb := &entry.Ambiguous{
		ID:             exp.ID,
		Timestamp:      exp.Timestamp,
		Duration:       exp.Duration,
		ContentRef:     exp.ContentRef,
		Content:        exp.Content,
		ConsensusScore: agg.Score,
		Attributes:     cloneAttrs(exp.Attributes),
		Container:      s.newContainer(),
	}
	now := s.clock.Now()
	for _, v := range d.Seeds {
		if _, err := amb.Container.Add(container.FromVote(v, now)); err != nil {
			return nil, fmt.Errorf("seed %s: %w", exp.ID, err)
		}
	}
	return amb, nil
}

func (s *Store) newContainer() *container.Container {
	return container.New(container.Options{
		Capacity:    s.capacity,
		RecencyBias: s.recencyBias,
		Policy:      s.policy,
		Clock:       s.clock,
	})
}

// place returns the timeline with e inserted after every entry whose start
// is not after e's. A run that spans e's timestamp is unfolded first so the
// granular order holds; compaction folds it again afterwards.
func (s *Store) place(e entry.Entry) []entry.Entry {
	entries := s.entries
	ts := e.Start()

	i := upperBound(entries, ts)
	if i > 0 {
		if run, ok := entries[i-1].(*entry.CompactedRun); ok && ts.Before(run.EndTimestamp) {
			entries = compaction.Unfold(entries, i-1)
			i = upperBound(entries, ts)
		}
	}

	out := make([]entry.Entry, 0, len(entries)+1)
	out = append(out, entries[:i]...)
	out = append(out, e)
	return append(out, entries[i:]...)
}

// upperBound is the first index whose start is after ts
func upperBound(entries []entry.Entry, ts time.Time) int {
	return sort.Search(len(entries), func(i int) bool {
		return entries[i].Start().After(ts)
	})
}

// locate finds an entry by id. orig is the position inside a run, or -1
// when the entry is top-level. Caller holds the lock.
func (s *Store) locate(id string) (top, orig int, ok bool) {
	for i, e := range s.entries {
		if e.EntryID() == id {
			return i, -1, true
		}
		if run, isRun := e.(*entry.CompactedRun); isRun {
			if j := run.IndexOf(id); j >= 0 {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// lookup returns the live entry for id. Caller holds the lock.
func (s *Store) lookup(id string) (entry.Entry, int, error) {
	top, orig, ok := s.locate(id)
	if !ok {
		return nil, 0, unknown(id)
	}
	if orig >= 0 {
		return s.entries[top].(*entry.CompactedRun).Originals[orig], top, nil
	}
	return s.entries[top], top, nil
}

// ambiguous returns the live ambiguous entry for id. Caller holds the lock.
func (s *Store) ambiguous(id string) (*entry.Ambiguous, int, error) {
	e, top, err := s.lookup(id)
	if err != nil {
		return nil, 0, err
	}
	amb, ok := e.(*entry.Ambiguous)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s is %s", ErrNotAmbiguous, id, e.Kind())
	}
	return amb, top, nil
}

// snapshotOf copies the entry for id and names the run holding it
func (s *Store) snapshotOf(id string) (entry.Entry, string) {
	top, orig, ok := s.locate(id)
	if !ok {
		return nil, ""
	}
	if orig >= 0 {
		run := s.entries[top].(*entry.CompactedRun)
		return run.Originals[orig].Clone(), run.ID
	}
	return s.entries[top].Clone(), ""
}

// GetSegment returns copies of the entries whose span overlaps [start, end],
// in order, with runs left folded
func (s *Store) GetSegment(start, end time.Time) []entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entry.Entry
	for _, e := range s.entries {
		if e.Start().After(end) {
			break
		}
		if entry.Overlaps(e, start, end) {
			out = append(out, e.Clone())
		}
	}
	return out
}

// ExpandSegment is GetSegment with every run replaced by its originals
func (s *Store) ExpandSegment(start, end time.Time) []entry.Entry {
	return compaction.ExpandAll(s.GetSegment(start, end))
}

// Entries returns a copy of the whole timeline, runs folded
func (s *Store) Entries() []entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entry.CloneAll(s.entries)
}

// Get returns a copy of one entry; ids of entries folded into a run resolve
// to the original
func (s *Store) Get(id string) (entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, _, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

// Len returns the number of top-level entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Version increments on every committed mutation
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Policy returns the active ranking script
func (s *Store) Policy() container.RankingPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

func (s *Store) recordFailures(failures []consensus.Failure) {
	for _, f := range failures {
		s.metrics.EvaluatorFailures.WithLabelValues(string(f.Kind)).Inc()
		s.logActivity(func(l *activity.Log) error {
			return l.LogEvaluatorFailure(f.EvaluatorID, string(f.Kind), f.Err)
		})
	}
}

func (s *Store) logActivity(fn func(*activity.Log) error) {
	if s.activity == nil {
		return
	}
	if err := fn(s.activity); err != nil {
		logging.Warn("timeline", "activity log: %v", err)
	}
}

func cloneAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
