// Package history keeps the append-only reinterpretation log of each
// ambiguous entry.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vthunder/timeline/internal/speculate"
	"github.com/vthunder/timeline/internal/types"
)

// Record is one reinterpretation. Records are never changed once appended.
type Record struct {
	Seq         int              `json:"seq"` // 1-based position in the entry's history
	EntryID     string           `json:"entry_id"`
	Timestamp   time.Time        `json:"timestamp"`
	Context     types.Context    `json:"context_snapshot"`
	Speculation speculate.Result `json:"produced_speculation"`
	Delta       Delta            `json:"delta_from_previous"`
}

// Delta is the structural difference from the previous record
type Delta struct {
	First          bool               `json:"first"`
	Added          []string           `json:"added,omitempty"`   // candidate keys
	Removed        []string           `json:"removed,omitempty"` // candidate keys
	PreviousTop    string             `json:"previous_top,omitempty"`
	NewTop         string             `json:"new_top,omitempty"`
	ActiveChanged  bool               `json:"active_changed"`
	Reordered      bool               `json:"reordered"`
	ScoreShifts    map[string]float64 `json:"score_shifts,omitempty"` // key -> new - old feasibility
	BlockedChanged bool               `json:"blocked_changed"`
}

// Changed reports whether anything differs from the previous record
func (d Delta) Changed() bool {
	return d.First || len(d.Added) > 0 || len(d.Removed) > 0 || d.ActiveChanged || d.Reordered || d.BlockedChanged
}

type entryLog struct {
	mu      sync.Mutex
	records []Record
}

// Log holds one history per entry. Appends to the same entry are
// serialized; different entries do not contend.
type Log struct {
	mu      sync.RWMutex
	entries map[string]*entryLog
	clock   clockwork.Clock
}

// New creates an empty log
func New(clock clockwork.Clock) *Log {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Log{entries: make(map[string]*entryLog), clock: clock}
}

func (l *Log) get(id string, create bool) *entryLog {
	l.mu.RLock()
	el := l.entries[id]
	l.mu.RUnlock()
	if el != nil || !create {
		return el
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if el = l.entries[id]; el == nil {
		el = &entryLog{}
		l.entries[id] = el
	}
	return el
}

// Append records a speculation for an entry and returns the stored record.
// Timestamps never go backwards within an entry's history.
func (l *Log) Append(entryID string, situ types.Context, res speculate.Result) Record {
	el := l.get(entryID, true)

	el.mu.Lock()
	defer el.mu.Unlock()

	rec := Record{
		Seq:         len(el.records) + 1,
		EntryID:     entryID,
		Timestamp:   l.clock.Now(),
		Context:     situ.Clone(),
		Speculation: cloneResult(res),
	}
	if n := len(el.records); n > 0 {
		prev := el.records[n-1]
		if rec.Timestamp.Before(prev.Timestamp) {
			rec.Timestamp = prev.Timestamp
		}
		rec.Delta = diff(prev.Speculation, rec.Speculation)
	} else {
		rec.Delta = diff(speculate.Result{}, rec.Speculation)
		rec.Delta.First = true
	}

	el.records = append(el.records, rec)
	return copyRecord(rec)
}

// Records returns copies of an entry's history, oldest first
func (l *Log) Records(entryID string) []Record {
	el := l.get(entryID, false)
	if el == nil {
		return nil
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	out := make([]Record, len(el.records))
	for i, r := range el.records {
		out[i] = copyRecord(r)
	}
	return out
}

// Latest returns the most recent record for an entry
func (l *Log) Latest(entryID string) (Record, bool) {
	el := l.get(entryID, false)
	if el == nil {
		return Record{}, false
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	if len(el.records) == 0 {
		return Record{}, false
	}
	return copyRecord(el.records[len(el.records)-1]), true
}

// Len returns the number of records for an entry
func (l *Log) Len(entryID string) int {
	el := l.get(entryID, false)
	if el == nil {
		return 0
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.records)
}

// EntryIDs lists entries with at least one record
func (l *Log) EntryIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func diff(prev, next speculate.Result) Delta {
	d := Delta{BlockedChanged: prev.Blocked != next.Blocked}

	prevScores := make(map[string]float64, len(prev.Candidates))
	prevOrder := make([]string, 0, len(prev.Candidates))
	for _, c := range prev.Candidates {
		prevScores[c.Key()] = c.Feasibility.Score
		prevOrder = append(prevOrder, c.Key())
	}
	nextScores := make(map[string]float64, len(next.Candidates))
	nextOrder := make([]string, 0, len(next.Candidates))
	for _, c := range next.Candidates {
		nextScores[c.Key()] = c.Feasibility.Score
		nextOrder = append(nextOrder, c.Key())
	}

	for _, k := range nextOrder {
		old, ok := prevScores[k]
		if !ok {
			d.Added = append(d.Added, k)
			continue
		}
		if shift := nextScores[k] - old; shift != 0 {
			if d.ScoreShifts == nil {
				d.ScoreShifts = make(map[string]float64)
			}
			d.ScoreShifts[k] = shift
		}
	}
	for _, k := range prevOrder {
		if _, ok := nextScores[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}

	if len(prevOrder) > 0 {
		d.PreviousTop = prevOrder[0]
	}
	if len(nextOrder) > 0 {
		d.NewTop = nextOrder[0]
	}
	d.ActiveChanged = d.PreviousTop != d.NewTop

	// relative order of the candidates present in both
	var a, b []string
	for _, k := range prevOrder {
		if _, ok := nextScores[k]; ok {
			a = append(a, k)
		}
	}
	for _, k := range nextOrder {
		if _, ok := prevScores[k]; ok {
			b = append(b, k)
		}
	}
	for i := range a {
		if a[i] != b[i] {
			d.Reordered = true
			break
		}
	}
	return d
}

func copyRecord(r Record) Record {
	r.Context = r.Context.Clone()
	r.Speculation = cloneResult(r.Speculation)
	r.Delta = cloneDelta(r.Delta)
	return r
}

func cloneDelta(d Delta) Delta {
	d.Added = append([]string(nil), d.Added...)
	d.Removed = append([]string(nil), d.Removed...)
	if d.ScoreShifts != nil {
		shifts := make(map[string]float64, len(d.ScoreShifts))
		for k, v := range d.ScoreShifts {
			shifts[k] = v
		}
		d.ScoreShifts = shifts
	}
	return d
}

func cloneResult(r speculate.Result) speculate.Result {
	r.Candidates = cloneSpeculations(r.Candidates)
	if r.Excluded != nil {
		ex := make([]speculate.Exclusion, len(r.Excluded))
		for i, x := range r.Excluded {
			x.Speculation = cloneSpeculation(x.Speculation)
			ex[i] = x
		}
		r.Excluded = ex
	}
	if r.Pattern != nil {
		p := *r.Pattern
		p.Categories = append([]types.Category(nil), p.Categories...)
		r.Pattern = &p
	}
	r.Constraints = cloneConstraints(r.Constraints)
	return r
}

func cloneSpeculations(in []speculate.Speculation) []speculate.Speculation {
	if in == nil {
		return nil
	}
	out := make([]speculate.Speculation, len(in))
	for i, s := range in {
		out[i] = cloneSpeculation(s)
	}
	return out
}

func cloneSpeculation(s speculate.Speculation) speculate.Speculation {
	if s.Feasibility.Factors != nil {
		f := make(map[string]float64, len(s.Feasibility.Factors))
		for k, v := range s.Feasibility.Factors {
			f[k] = v
		}
		s.Feasibility.Factors = f
	}
	return s
}

func cloneConstraints(c speculate.Constraints) speculate.Constraints {
	c.Before = cloneAnchor(c.Before)
	c.After = cloneAnchor(c.After)
	if c.Spatial != nil {
		s := *c.Spatial
		c.Spatial = &s
	}
	c.Situational.Blocked = append([]types.Category(nil), c.Situational.Blocked...)
	if c.Situational.Extra != nil {
		extra := make(map[string]string, len(c.Situational.Extra))
		for k, v := range c.Situational.Extra {
			extra[k] = v
		}
		c.Situational.Extra = extra
	}
	return c
}

func cloneAnchor(a *speculate.Anchor) *speculate.Anchor {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Location != nil {
		loc := *a.Location
		cp.Location = &loc
	}
	return &cp
}
