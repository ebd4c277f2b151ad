package speculate

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"gonum.org/v1/gonum/floats"

	"github.com/vthunder/timeline/internal/entry"
	"github.com/vthunder/timeline/internal/types"
)

// Positional weights: a resolved position is certain, an ambiguous one only
// contributes its active guess at half weight
const (
	resolvedWeight  = 1.0
	ambiguousWeight = 0.5
)

var categoryIndex = func() map[types.Category]int {
	cats := []types.Category{
		types.CategoryWork, types.CategoryHome, types.CategoryTravel, types.CategorySocial,
		types.CategoryLeisure, types.CategoryFinance, types.CategoryHealth, types.CategoryErrand,
		types.CategoryLearning, types.CategoryRest, types.CategoryOther,
	}
	idx := make(map[types.Category]int, len(cats))
	for i, c := range cats {
		idx[c] = i
	}
	return idx
}()

// position is one granular timeline slot as seen by the pattern matcher
type position struct {
	id       string
	at       time.Time
	category types.Category
	resolved bool
	guessed  bool // ambiguous with an active candidate
}

func positions(flat []entry.Entry) []position {
	out := make([]position, 0, len(flat))
	for _, e := range flat {
		switch v := e.(type) {
		case *entry.Resolved:
			out = append(out, position{id: v.ID, at: v.Timestamp, category: v.Category, resolved: true})
		case *entry.Ambiguous:
			p := position{id: v.ID, at: v.Timestamp, category: types.CategoryUnresolved}
			if c, ok := v.Active(); ok {
				p.category, p.guessed = c.Category, true
			}
			out = append(out, p)
		}
	}
	return out
}

// encode turns a window into concatenated one-hot vectors, weighted by how
// certain each position is. Unguessed ambiguous positions are all zeros.
func encode(window []position) []float64 {
	width := len(categoryIndex)
	v := make([]float64, width*len(window))
	for i, p := range window {
		idx, ok := categoryIndex[p.category]
		if !ok {
			continue
		}
		switch {
		case p.resolved:
			v[i*width+idx] = resolvedWeight
		case p.guessed:
			v[i*width+idx] = ambiguousWeight
		}
	}
	return v
}

func cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// fingerprint identifies a category sequence
func fingerprint(window []position) string {
	parts := make([]string, len(window))
	for i, p := range window {
		parts[i] = string(p.category)
	}
	sum := blake3.Sum256([]byte(strings.Join(parts, ">")))
	return "pattern-" + hex.EncodeToString(sum[:])[:12]
}

// PatternMatch is the most similar window found elsewhere in the timeline
type PatternMatch struct {
	ID         string           `json:"id"`
	Similarity float64          `json:"similarity"`
	At         time.Time        `json:"at"`
	Categories []types.Category `json:"categories"`
	Suggested  types.Category   `json:"suggested"`
	Support    float64          `json:"support"` // share of resolved positions inside the match
}

// matchPattern compares the window around segment positions [s, e) against
// every non-overlapping window of the same shape and returns the best match
// above threshold whose interior says something
func matchPattern(all []position, s, e int, threshold float64) *PatternMatch {
	if s < 0 || e > len(all) || s >= e {
		return nil
	}
	ws, we := s, e
	if ws > 0 {
		ws--
	}
	if we < len(all) {
		we++
	}
	query := encode(all[ws:we])
	length := we - ws
	inFrom, inTo := s-ws, e-ws

	var best *PatternMatch
	for p := 0; p+length <= len(all); p++ {
		if p < we && p+length > ws {
			continue
		}
		window := all[p : p+length]
		sim := cosine(query, encode(window))
		if sim <= threshold || (best != nil && sim <= best.Similarity) {
			continue
		}
		suggested, support := dominantResolved(window[inFrom:inTo])
		if support == 0 {
			continue
		}
		cats := make([]types.Category, len(window))
		for i, w := range window {
			cats[i] = w.category
		}
		best = &PatternMatch{
			ID:         fingerprint(window),
			Similarity: sim,
			At:         window[0].at,
			Categories: cats,
			Suggested:  suggested,
			Support:    support,
		}
	}
	return best
}

// dominantResolved returns the most common resolved category in the
// interior (first seen wins ties) and the share of resolved positions
func dominantResolved(interior []position) (types.Category, float64) {
	counts := make(map[types.Category]int)
	var order []types.Category
	resolved := 0
	for _, p := range interior {
		if !p.resolved {
			continue
		}
		resolved++
		if counts[p.category] == 0 {
			order = append(order, p.category)
		}
		counts[p.category]++
	}
	if resolved == 0 {
		return types.CategoryUnresolved, 0
	}
	best := order[0]
	for _, c := range order[1:] {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best, float64(resolved) / float64(len(interior))
}
