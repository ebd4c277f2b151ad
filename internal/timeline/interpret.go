package timeline

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vthunder/timeline/internal/activity"
	"github.com/vthunder/timeline/internal/compaction"
	"github.com/vthunder/timeline/internal/entry"
	"github.com/vthunder/timeline/internal/history"
	"github.com/vthunder/timeline/internal/speculate"
	"github.com/vthunder/timeline/internal/telemetry"
	"github.com/vthunder/timeline/internal/types"
)

// request captures everything the engine needs under one read lock
func (s *Store) request(id string, situ types.Context) (speculate.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seg, top, err := s.lookup(id)
	if err != nil {
		return speculate.Request{}, err
	}
	if seg.Kind() == entry.KindResolved {
		return speculate.Request{}, ErrNotAmbiguous
	}

	req := speculate.Request{
		Segment:  seg.Clone(),
		Timeline: compaction.ExpandAll(s.entries),
		Context:  situ.Clone(),
	}
	for i := top - 1; i >= 0; i-- {
		if r, ok := s.entries[i].(*entry.Resolved); ok {
			req.Before = r.Clone().(*entry.Resolved)
			break
		}
	}
	for i := top + 1; i < len(s.entries); i++ {
		if r, ok := s.entries[i].(*entry.Resolved); ok {
			req.After = r.Clone().(*entry.Resolved)
			break
		}
	}
	return req, nil
}

// Speculate proposes interpretations for an ambiguous entry or run under
// situ. It never mutates the timeline.
func (s *Store) Speculate(ctx context.Context, id string, situ types.Context) (speculate.Result, error) {
	res, _, err := s.speculate(ctx, id, situ)
	return res, err
}

// speculate also returns the history key of the speculated segment
func (s *Store) speculate(ctx context.Context, id string, situ types.Context) (res speculate.Result, key string, err error) {
	ctx, span := telemetry.Start(ctx, "timeline.Speculate", attribute.String("entry.id", id))
	defer func() { telemetry.End(span, err) }()

	req, err := s.request(id, situ)
	if err != nil {
		return speculate.Result{}, "", err
	}
	res, err = s.engine.Speculate(ctx, req)
	if err != nil {
		return speculate.Result{}, "", err
	}

	span.SetAttributes(
		attribute.Int("speculation.candidates", len(res.Candidates)),
		attribute.Int("speculation.excluded", len(res.Excluded)),
		attribute.Bool("speculation.blocked", res.Blocked),
	)
	if res.Blocked {
		s.metrics.SpeculationsBlocked.Inc()
		s.logActivity(func(l *activity.Log) error {
			return l.LogBlocked(id, res.BlockReason)
		})
	}
	return res, historyKey(req.Segment), nil
}

// historyKey names the log a segment's reinterpretations go to. Run ids do
// not survive unfolding, so a run is keyed by its first original; the key
// moves only when an earlier ambiguous entry joins the front of the run.
func historyKey(seg entry.Entry) string {
	if run, ok := seg.(*entry.CompactedRun); ok && len(run.Originals) > 0 {
		return "run:" + run.Originals[0].ID
	}
	return seg.EntryID()
}

// Reinterpret speculates under the new context and appends the result to
// the entry's history. A cancelled call leaves the history untouched.
func (s *Store) Reinterpret(ctx context.Context, id string, situ types.Context) (history.Record, error) {
	ctx, span := telemetry.Start(ctx, "timeline.Reinterpret", attribute.String("entry.id", id))

	res, key, err := s.speculate(ctx, id, situ)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		telemetry.End(span, err)
		return history.Record{}, err
	}

	rec := s.history.Append(key, situ, res)
	span.SetAttributes(attribute.Int("history.seq", rec.Seq), attribute.Bool("history.changed", rec.Delta.Changed()))
	telemetry.End(span, nil)

	s.metrics.Reinterpretations.Inc()
	s.logActivity(func(l *activity.Log) error {
		return l.LogReinterpret(id, rec.Seq, rec.Delta.Changed(), rec.Delta.NewTop)
	})
	return rec, nil
}

// History returns an entry's reinterpretation records, oldest first. For a
// run this includes records made under earlier ids of a run starting with
// the same original.
func (s *Store) History(id string) ([]history.Record, error) {
	s.mu.RLock()
	seg, _, err := s.lookup(id)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return s.history.Records(historyKey(seg)), nil
}
