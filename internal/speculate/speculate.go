// Package speculate proposes constrained reconstructions for ambiguous
// timeline segments. Results are advisory and never touch stored entries.
package speculate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vthunder/timeline/internal/container"
	"github.com/vthunder/timeline/internal/entry"
	"github.com/vthunder/timeline/internal/logging"
	"github.com/vthunder/timeline/internal/types"
)

// ErrUnsupportedSegment is returned for segments that are not ambiguous
var ErrUnsupportedSegment = errors.New("segment is not ambiguous or a compacted run")

const (
	DefaultCutoff            = 0.3
	DefaultPatternSimilarity = 0.7
)

// Candidate dimensions
const (
	DimensionSpatial    = "spatial"
	DimensionContinuity = "continuity"
	DimensionExisting   = "existing"
	DimensionPattern    = "pattern"
)

// Speculation is one proposed explanation with its feasibility
type Speculation struct {
	Description string                `json:"description"`
	Category    types.Category        `json:"category"`
	Confidence  float64               `json:"confidence"`
	Evidence    float64               `json:"evidence"`
	Source      types.CandidateSource `json:"source"`
	Dimension   string                `json:"dimension"`
	Mode        string                `json:"mode,omitempty"`
	Feasibility Feasibility           `json:"feasibility"`
}

// Key identifies a speculation across runs for diffing
func (s Speculation) Key() string {
	return string(s.Category) + "|" + s.Description
}

// ToCandidate converts the speculation for storage in a container
func (s Speculation) ToCandidate(now time.Time) container.Candidate {
	return container.NewCandidate(s.Description, s.Category,
		types.Clamp01(s.Confidence), types.Clamp01(s.Evidence), s.Source, now)
}

// Exclusion is a speculation that fell under the cutoff
type Exclusion struct {
	Speculation
	Constraint string `json:"constraint"`
	Reason     string `json:"reason"`
}

// Result is the engine's answer for one segment
type Result struct {
	SegmentID   string        `json:"segment_id"`
	SegmentKind entry.Kind    `json:"segment_kind"`
	Constraints Constraints   `json:"constraints"`
	Candidates  []Speculation `json:"candidates"`
	Excluded    []Exclusion   `json:"excluded"`
	Pattern     *PatternMatch `json:"pattern,omitempty"`
	Blocked     bool          `json:"blocked"`
	BlockReason string        `json:"block_reason,omitempty"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Top returns the most feasible candidate
func (r Result) Top() (Speculation, bool) {
	if len(r.Candidates) == 0 {
		return Speculation{}, false
	}
	return r.Candidates[0], true
}

// Request is everything the engine needs, captured by the caller as one
// consistent snapshot
type Request struct {
	Segment  entry.Entry
	Before   *entry.Resolved // nearest resolved neighbor before the segment
	After    *entry.Resolved // nearest resolved neighbor after the segment
	Timeline []entry.Entry   // granular (expanded) timeline for pattern matching
	Context  types.Context
}

// Options configures the engine
type Options struct {
	Cutoff            *float64 // nil uses DefaultCutoff
	PatternSimilarity float64
	Modes             []Mode
	Locator           LocationExtractor
	Authority         SafetyAuthority
	Clock             clockwork.Clock
}

// Engine produces speculations
type Engine struct {
	cutoff     float64
	similarity float64
	modes      []Mode
	locator    LocationExtractor
	authority  SafetyAuthority
	clock      clockwork.Clock
}

// NewEngine creates an engine. Zero options fall back to defaults, except an
// explicit Cutoff; a nil authority approves everything.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		cutoff:     DefaultCutoff,
		similarity: opts.PatternSimilarity,
		modes:      opts.Modes,
		locator:    opts.Locator,
		authority:  opts.Authority,
		clock:      opts.Clock,
	}
	if opts.Cutoff != nil {
		e.cutoff = *opts.Cutoff
	}
	if e.similarity <= 0 {
		e.similarity = DefaultPatternSimilarity
	}
	if len(e.modes) == 0 {
		e.modes = DefaultModes()
	}
	if e.authority == nil {
		e.authority = AllowAll{}
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	return e
}

// Speculate builds constraints, enumerates and scores candidates, partitions
// them at the cutoff, adds a pattern match if one exists and finally asks
// the safety authority. Cancellation returns ctx.Err() and no result.
func (e *Engine) Speculate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	existing, err := existingCandidates(req.Segment)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		SegmentID:   req.Segment.EntryID(),
		SegmentKind: req.Segment.Kind(),
		Candidates:  []Speculation{},
		Excluded:    []Exclusion{},
		GeneratedAt: e.clock.Now(),
	}
	res.Constraints = e.extractConstraints(req.Segment, req.Before, req.After, req.Context)

	var proposals []Speculation
	proposals = append(proposals, e.spatial(res.Constraints)...)
	proposals = append(proposals, e.continuity(req.Segment, res.Constraints)...)
	proposals = append(proposals, e.rescore(existing, res.Constraints)...)

	for _, p := range dedupe(proposals) {
		if p.Feasibility.Score > e.cutoff {
			res.Candidates = append(res.Candidates, p)
			continue
		}
		failing := p.Feasibility.failing(e.cutoff)
		res.Excluded = append(res.Excluded, Exclusion{
			Speculation: p,
			Constraint:  failing,
			Reason:      fmt.Sprintf("%s factor %.2f, feasibility %.2f <= %.2f", failing, p.Feasibility.Factors[failing], p.Feasibility.Score, e.cutoff),
		})
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if m := e.pattern(req); m != nil {
		res.Pattern = m
		res.Candidates = append(res.Candidates, Speculation{
			Description: fmt.Sprintf("repeats %s seen at %s", joinCategories(m.Categories), m.At.Format(time.RFC3339)),
			Category:    m.Suggested,
			Confidence:  m.Similarity,
			Evidence:    m.Support,
			Source:      types.SourcePattern,
			Dimension:   DimensionPattern,
			Feasibility: Feasibility{Factors: map[string]float64{FactorSimilarity: m.Similarity}, Score: m.Similarity},
		})
	}
	sortSpeculations(res.Candidates)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	e.gate(ctx, req, &res)

	logging.Debug("speculate", "%s %s: %d candidates, %d excluded, blocked=%v",
		res.SegmentKind, res.SegmentID, len(res.Candidates), len(res.Excluded), res.Blocked)
	return res, nil
}

// gate consults the safety authority. Authority failure fails closed.
func (e *Engine) gate(ctx context.Context, req Request, res *Result) {
	verdict, err := e.authority.AssessSpeculationSafety(ctx, req.Segment, req.Context, res.Candidates)
	if err != nil {
		verdict = Assessment{Reason: "safety authority unavailable: " + err.Error()}
	}
	if verdict.Safe {
		return
	}

	res.Blocked = true
	res.BlockReason = verdict.Reason
	res.Candidates = []Speculation{}
	res.Excluded = []Exclusion{}
	res.Pattern = nil
	res.Constraints = Constraints{Window: res.Constraints.Window, Gap: res.Constraints.Gap, Year: res.Constraints.Year}
	if verdict.SafeAlternative != nil {
		res.Candidates = append(res.Candidates, *verdict.SafeAlternative)
	}
}

func existingCandidates(seg entry.Entry) ([]container.Candidate, error) {
	switch v := seg.(type) {
	case *entry.Ambiguous:
		if v.Container == nil {
			return nil, nil
		}
		return v.Container.Candidates(), nil
	case *entry.CompactedRun:
		var out []container.Candidate
		for _, o := range v.Originals {
			if o.Container != nil {
				out = append(out, o.Container.Candidates()...)
			}
		}
		return out, nil
	case nil:
		return nil, ErrUnsupportedSegment
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSegment, seg.Kind())
	}
}

// spatial enumerates one candidate per traversal mode, or a single
// stationary candidate when both anchors are the same place
func (e *Engine) spatial(c Constraints) []Speculation {
	sp := c.Spatial
	if sp == nil {
		return nil
	}

	if sp.Stationary {
		cat := c.Before.Category
		f := newFeasibility()
		f.set(FactorDistance, 1)
		f.set(FactorSituational, categoryCompatibility(cat, c.Situational))
		f.finish()
		return []Speculation{{
			Description: "stayed at " + placeName(sp.From),
			Category:    cat,
			Confidence:  f.Score,
			Evidence:    0.6,
			Source:      types.SourceSpeculation,
			Dimension:   DimensionSpatial,
			Feasibility: f,
		}}
	}

	evidence := 0.4
	if sp.DistanceKm >= 0 {
		evidence = 0.6
	}
	out := make([]Speculation, 0, len(e.modes))
	for _, m := range e.modes {
		f := m.assess(c)
		out = append(out, Speculation{
			Description: m.describe(sp),
			Category:    types.CategoryTravel,
			Confidence:  f.Score,
			Evidence:    evidence,
			Source:      types.SourceSpeculation,
			Dimension:   DimensionSpatial,
			Mode:        m.Name,
			Feasibility: f,
		})
	}
	return out
}

// continuity proposes that the segment carried on from, or led into, its
// resolved neighbors
func (e *Engine) continuity(seg entry.Entry, c Constraints) []Speculation {
	moving := c.Spatial != nil && !c.Spatial.Stationary

	build := func(desc string, cat types.Category, gap time.Duration, evidence float64) Speculation {
		f := newFeasibility()
		if moving {
			f.set(FactorDistance, 0.6)
		} else {
			f.set(FactorDistance, 1)
		}
		f.set(FactorTemporal, continuityDecay(gap))
		f.set(FactorSituational, categoryCompatibility(cat, c.Situational))
		f.finish()
		return Speculation{
			Description: desc,
			Category:    cat,
			Confidence:  f.Score,
			Evidence:    evidence,
			Source:      types.SourceSpeculation,
			Dimension:   DimensionContinuity,
			Feasibility: f,
		}
	}

	b, a := c.Before, c.After
	switch {
	case b != nil && a != nil && b.Category == a.Category:
		return []Speculation{build("continued "+string(b.Category), b.Category, c.Gap, 0.7)}
	case b != nil && a != nil:
		return []Speculation{
			build("wrapping up "+string(b.Category), b.Category, seg.Start().Sub(b.End), 0.5),
			build("getting ready for "+string(a.Category), a.Category, a.Timestamp.Sub(seg.End()), 0.5),
		}
	case b != nil:
		return []Speculation{build("continued "+string(b.Category), b.Category, seg.Start().Sub(b.End), 0.4)}
	case a != nil:
		return []Speculation{build("getting ready for "+string(a.Category), a.Category, a.Timestamp.Sub(seg.End()), 0.4)}
	}
	return nil
}

// continuityDecay is 1 within two hours of the neighbor and decays after
func continuityDecay(gap time.Duration) float64 {
	const near = 2 * time.Hour
	if gap <= near {
		return 1
	}
	return float64(near) / float64(gap)
}

// rescore re-evaluates the segment's own candidates under the constraints
func (e *Engine) rescore(existing []container.Candidate, c Constraints) []Speculation {
	out := make([]Speculation, 0, len(existing))
	for _, cand := range existing {
		f := newFeasibility()
		if c.Spatial != nil && c.Spatial.Stationary && cand.Category == types.CategoryTravel {
			f.set(FactorDistance, 0.2)
		}
		f.set(FactorSituational, categoryCompatibility(cand.Category, c.Situational))
		f.set(FactorSupport, (cand.Confidence+cand.EvidenceStrength)/2)
		f.finish()
		out = append(out, Speculation{
			Description: cand.Description,
			Category:    cand.Category,
			Confidence:  cand.Confidence * f.Score,
			Evidence:    cand.EvidenceStrength,
			Source:      cand.Source,
			Dimension:   DimensionExisting,
			Feasibility: f,
		})
	}
	return out
}

// pattern locates the segment in the granular timeline and matches it
func (e *Engine) pattern(req Request) *PatternMatch {
	all := positions(req.Timeline)
	ids := make(map[string]bool)
	switch v := req.Segment.(type) {
	case *entry.Ambiguous:
		ids[v.ID] = true
	case *entry.CompactedRun:
		for _, o := range v.Originals {
			ids[o.ID] = true
		}
	}

	s, end := -1, -1
	for i, p := range all {
		if ids[p.id] {
			if s < 0 {
				s = i
			}
			end = i + 1
		}
	}
	if s < 0 {
		return nil
	}
	return matchPattern(all, s, end, e.similarity)
}

// dedupe keeps the most feasible speculation per key
func dedupe(in []Speculation) []Speculation {
	best := make(map[string]int, len(in))
	var out []Speculation
	for _, s := range in {
		if i, ok := best[s.Key()]; ok {
			if s.Feasibility.Score > out[i].Feasibility.Score {
				out[i] = s
			}
			continue
		}
		best[s.Key()] = len(out)
		out = append(out, s)
	}
	return out
}

func sortSpeculations(s []Speculation) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Feasibility.Score != s[j].Feasibility.Score {
			return s[i].Feasibility.Score > s[j].Feasibility.Score
		}
		return s[i].Description < s[j].Description
	})
}

func joinCategories(cats []types.Category) string {
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = string(c)
	}
	return strings.Join(parts, " > ")
}
