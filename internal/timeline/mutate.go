package timeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vthunder/timeline/internal/activity"
	"github.com/vthunder/timeline/internal/compaction"
	"github.com/vthunder/timeline/internal/consensus"
	"github.com/vthunder/timeline/internal/container"
	"github.com/vthunder/timeline/internal/entry"
	"github.com/vthunder/timeline/internal/telemetry"
	"github.com/vthunder/timeline/internal/types"
)

// AddCandidate adds an interpretation to an ambiguous entry's container,
// including entries folded into a run
func (s *Store) AddCandidate(id string, cand container.Candidate) (container.AddResult, error) {
	s.mu.Lock()
	amb, _, err := s.ambiguous(id)
	if err != nil {
		s.mu.Unlock()
		return container.AddResult{}, err
	}
	if amb.Container == nil {
		amb.Container = s.newContainer()
	}
	res, err := amb.Container.Add(cand)
	if err != nil {
		s.mu.Unlock()
		return container.AddResult{}, fmt.Errorf("add candidate to %s: %w", id, err)
	}
	s.entries, _ = s.compactor.CompactRuns(s.entries)
	s.version++
	s.mu.Unlock()

	if res.Evicted != nil {
		s.metrics.CandidateEvictions.Inc()
		ev := *res.Evicted
		s.logActivity(func(l *activity.Log) error {
			return l.LogEviction(id, ev.Description, ev.Confidence)
		})
	}
	if res.ActiveChanged() {
		s.drift(id, res.PreviousActive, res.NewActive, "add_candidate")
	}
	return res, nil
}

// EvolveResult counts the effect of a ranking script swap
type EvolveResult struct {
	Script             string `json:"script"`
	ChangedActiveCount int    `json:"changed_active_count"`
	ReorderingCount    int    `json:"reordering_count"`
}

// EvolveRankingScript makes p the active script and re-ranks every
// container in the timeline. No candidate is removed.
func (s *Store) EvolveRankingScript(p container.RankingPolicy) EvolveResult {
	if p == nil {
		p = container.Balanced
	}

	type change struct {
		id       string
		from, to *container.Candidate
	}
	var changes []change

	s.mu.Lock()
	s.policy = p
	res := EvolveResult{Script: p.Name()}
	for _, amb := range s.ambiguousEntries() {
		if amb.Container == nil {
			continue
		}
		r := amb.Container.ReRank(p)
		if r.Reordered {
			res.ReorderingCount++
		}
		if r.ActiveChanged() {
			res.ChangedActiveCount++
			changes = append(changes, change{amb.ID, r.PreviousActive, r.NewActive})
		}
	}
	s.version++
	s.mu.Unlock()

	for _, c := range changes {
		s.drift(c.id, c.from, c.to, "rerank:"+p.Name())
	}
	s.logActivity(func(l *activity.Log) error {
		return l.LogRerank(p.Name(), res.ChangedActiveCount, res.ReorderingCount)
	})
	return res
}

// EvolveRankingScriptByName resolves a builtin or custom script by name
func (s *Store) EvolveRankingScriptByName(name string) (EvolveResult, error) {
	p, err := container.PolicyByName(name, s.scripts)
	if err != nil {
		return EvolveResult{}, err
	}
	return s.EvolveRankingScript(p), nil
}

// ambiguousEntries lists every live ambiguous entry, folded or not.
// Caller holds the lock.
func (s *Store) ambiguousEntries() []*entry.Ambiguous {
	var out []*entry.Ambiguous
	for _, e := range s.entries {
		switch v := e.(type) {
		case *entry.Ambiguous:
			out = append(out, v)
		case *entry.CompactedRun:
			out = append(out, v.Originals...)
		}
	}
	return out
}

// ReclassifyResult describes an explicit re-classification
type ReclassifyResult struct {
	Entry     entry.Entry
	Decision  consensus.Decision
	Aggregate consensus.Result
	Seeded    int // candidates added when the entry stayed ambiguous
	Version   uint64
}

// Reclassify re-runs consensus for an ambiguous entry over the additional
// votes plus one vote per candidate it already holds. If that resolves,
// the entry is replaced by a Resolved entry with the same id and
// timestamp; otherwise qualifying votes are seeded into its container.
func (s *Store) Reclassify(ctx context.Context, id string, votes []types.Vote) (res ReclassifyResult, err error) {
	ctx, span := telemetry.Start(ctx, "timeline.Reclassify", attribute.String("entry.id", id))
	defer func() { telemetry.End(span, err) }()
	if err := ctx.Err(); err != nil {
		return ReclassifyResult{}, err
	}

	s.mu.Lock()
	amb, top, err := s.ambiguous(id)
	if err != nil {
		s.mu.Unlock()
		return ReclassifyResult{}, err
	}

	all := append([]types.Vote(nil), votes...)
	if amb.Container != nil {
		for _, c := range amb.Container.Candidates() {
			all = append(all, candidateVote(c))
		}
	}
	agg := consensus.Aggregate(all)
	d := consensus.Decide(agg, votes, s.decision)
	res = ReclassifyResult{Decision: d, Aggregate: agg}

	var before, after *container.Candidate
	if d.Resolved {
		s.resolve(amb, top, d.Category, agg.Score)
	} else {
		if amb.Container == nil {
			amb.Container = s.newContainer()
		}
		if a, ok := amb.Container.Active(); ok {
			before = &a
		}
		now := s.clock.Now()
		for _, v := range d.Seeds {
			if _, err := amb.Container.Add(container.FromVote(v, now)); err != nil {
				s.mu.Unlock()
				return ReclassifyResult{}, fmt.Errorf("reclassify %s: %w", id, err)
			}
			res.Seeded++
		}
		if a, ok := amb.Container.Active(); ok {
			after = &a
		}
		amb.ConsensusScore = agg.Score
	}
	s.version++
	res.Version = s.version
	res.Entry, _ = s.snapshotOf(id)
	s.mu.Unlock()

	if candidateID(before) != candidateID(after) {
		s.drift(id, before, after, "reclassify")
	}
	s.logActivity(func(l *activity.Log) error {
		return l.LogReclassify(id, d.Resolved, string(d.Category), agg.Score)
	})
	return res, nil
}

// Reevaluate asks the evaluator pool about an ambiguous entry again and
// reclassifies it with the fresh votes
func (s *Store) Reevaluate(ctx context.Context, id string, situ types.Context) (ReclassifyResult, error) {
	s.mu.RLock()
	amb, _, err := s.ambiguous(id)
	var exp types.Experience
	if err == nil {
		exp = types.Experience{
			ID:         amb.ID,
			Timestamp:  amb.Timestamp,
			Duration:   amb.Duration,
			Content:    amb.Content,
			ContentRef: amb.ContentRef,
			Attributes: cloneAttrs(amb.Attributes),
		}
	}
	s.mu.RUnlock()
	if err != nil {
		return ReclassifyResult{}, err
	}

	var ballot consensus.Ballot
	if s.collector != nil {
		ballot = s.collector.Collect(ctx, exp, situ)
	}
	s.recordFailures(ballot.Failures)
	return s.Reclassify(ctx, id, ballot.Votes)
}

// resolve swaps an ambiguous entry for a Resolved one in place, unfolding
// its run if needed and compacting afterwards. Caller holds the write lock.
func (s *Store) resolve(amb *entry.Ambiguous, top int, category types.Category, score float64) {
	resolved := &entry.Resolved{
		ID:             amb.ID,
		Timestamp:      amb.Timestamp,
		Duration:       amb.Duration,
		Category:       category,
		Content:        amb.Content,
		ConsensusScore: score,
		Attributes:     amb.Attributes,
	}

	entries := s.entries
	if _, ok := entries[top].(*entry.CompactedRun); ok {
		entries = compaction.Unfold(entries, top)
	}
	for i, e := range entries {
		if e.EntryID() == amb.ID {
			entries[i] = resolved
			break
		}
	}
	s.entries, _ = s.compactor.CompactRuns(entries)
}

// candidateVote turns a held candidate back into a vote for re-aggregation
func candidateVote(c container.Candidate) types.Vote {
	return types.Vote{
		EvaluatorID:       "candidate:" + c.ID,
		Significance:      c.EvidenceStrength,
		SuggestedCategory: c.Category,
		Confidence:        c.Confidence,
		Reasoning:         c.Description,
	}
}

func (s *Store) drift(id string, from, to *container.Candidate, cause string) {
	s.metrics.InterpretationDrift.Inc()
	s.logActivity(func(l *activity.Log) error {
		return l.LogDrift(id, describe(from), describe(to), cause)
	})
}

func describe(c *container.Candidate) string {
	if c == nil {
		return ""
	}
	return c.Description
}

func candidateID(c *container.Candidate) string {
	if c == nil {
		return ""
	}
	return c.ID
}
