// Package compaction folds runs of consecutive ambiguous entries into
// CompactedRun records and expands them back.
package compaction

import (
	"github.com/vthunder/timeline/internal/entry"
	"github.com/vthunder/timeline/internal/logging"
)

// DefaultMinRun is the shortest run that gets folded
const DefaultMinRun = 3

// Manager folds and unfolds runs
type Manager struct {
	minRun int
}

// New creates a manager. minRun below 3 is raised to 3.
func New(minRun int) *Manager {
	if minRun < DefaultMinRun {
		minRun = DefaultMinRun
	}
	return &Manager{minRun: minRun}
}

// MinRun returns the fold threshold
func (m *Manager) MinRun() int {
	return m.minRun
}

// CompactRuns scans the ordered timeline once and folds every span of
// adjacent ambiguous entries and existing runs holding at least MinRun
// originals into a single run. Spans shorter than that are left alone, as is
// a lone existing run, so running it again folds nothing.
//
// Returns the new timeline and the number of runs created or extended. The
// input slice is not modified; ambiguous entries are moved, not copied.
func (m *Manager) CompactRuns(timeline []entry.Entry) ([]entry.Entry, int) {
	out := make([]entry.Entry, 0, len(timeline))
	folded := 0

	i := 0
	for i < len(timeline) {
		if !foldable(timeline[i]) {
			out = append(out, timeline[i])
			i++
			continue
		}

		j := i
		total := 0
		for j < len(timeline) && foldable(timeline[j]) {
			total += originalsIn(timeline[j])
			j++
		}
		span := timeline[i:j]

		switch {
		case len(span) == 1, total < m.minRun:
			out = append(out, span...)
		default:
			out = append(out, fold(span))
			folded++
		}
		i = j
	}

	if folded > 0 {
		logging.Debug("compaction", "folded %d runs (%d -> %d entries)", folded, len(timeline), len(out))
	}
	return out, folded
}

// fold merges a span into one run, keeping the id of the first run in it
func fold(span []entry.Entry) *entry.CompactedRun {
	var id string
	var originals []*entry.Ambiguous
	for _, e := range span {
		switch v := e.(type) {
		case *entry.Ambiguous:
			originals = append(originals, v)
		case *entry.CompactedRun:
			if id == "" {
				id = v.ID
			}
			originals = append(originals, v.Originals...)
		}
	}
	return entry.NewRun(id, originals)
}

func foldable(e entry.Entry) bool {
	switch e.(type) {
	case *entry.Ambiguous, *entry.CompactedRun:
		return true
	default:
		return false
	}
}

func originalsIn(e entry.Entry) int {
	if run, ok := e.(*entry.CompactedRun); ok {
		return len(run.Originals)
	}
	return 1
}

// Expand returns deep copies of a run's originals in order. The run itself
// is never modified.
func Expand(run *entry.CompactedRun) []*entry.Ambiguous {
	out := make([]*entry.Ambiguous, len(run.Originals))
	for i, o := range run.Originals {
		out[i] = o.CloneAmbiguous()
	}
	return out
}

// ExpandAll returns a fully granular deep copy of entries with every run
// replaced by its originals
func ExpandAll(entries []entry.Entry) []entry.Entry {
	out := make([]entry.Entry, 0, len(entries))
	for _, e := range entries {
		if run, ok := e.(*entry.CompactedRun); ok {
			for _, o := range Expand(run) {
				out = append(out, o)
			}
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}

// Unfold replaces the run at index i with its originals in place order. The
// originals are moved, not copied; the returned slice is new.
func Unfold(timeline []entry.Entry, i int) []entry.Entry {
	run, ok := timeline[i].(*entry.CompactedRun)
	if !ok {
		return timeline
	}
	out := make([]entry.Entry, 0, len(timeline)+len(run.Originals)-1)
	out = append(out, timeline[:i]...)
	for _, o := range run.Originals {
		out = append(out, o)
	}
	return append(out, timeline[i+1:]...)
}
