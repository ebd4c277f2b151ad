package types

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Category is the closed set of experience categories used by votes,
// resolved entries and interpretation candidates
type Category string

const (
	CategoryWork       Category = "work"
	CategoryHome       Category = "home"
	CategoryTravel     Category = "travel"
	CategorySocial     Category = "social"
	CategoryLeisure    Category = "leisure"
	CategoryFinance    Category = "finance"
	CategoryHealth     Category = "health"
	CategoryErrand     Category = "errand"
	CategoryLearning   Category = "learning"
	CategoryRest       Category = "rest"
	CategoryUnresolved Category = "unresolved" // neutral vote / undisclosed
	CategoryOther      Category = "other"      // anything not in the list above
)

var knownCategories = map[Category]bool{
	CategoryWork:       true,
	CategoryHome:       true,
	CategoryTravel:     true,
	CategorySocial:     true,
	CategoryLeisure:    true,
	CategoryFinance:    true,
	CategoryHealth:     true,
	CategoryErrand:     true,
	CategoryLearning:   true,
	CategoryRest:       true,
	CategoryUnresolved: true,
	CategoryOther:      true,
}

// ParseCategory maps a free-form string onto the closed category set.
// Unknown strings become CategoryOther.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if knownCategories[c] {
		return c
	}
	return CategoryOther
}

// Known reports whether c is one of the declared categories
func (c Category) Known() bool {
	return knownCategories[c]
}

// CandidateSource identifies where an interpretation candidate came from
type CandidateSource string

const (
	SourceEvaluator   CandidateSource = "evaluator"   // seeded from a consensus vote
	SourceSpeculation CandidateSource = "speculation" // constraint-based reconstruction
	SourcePattern     CandidateSource = "pattern"     // matched a similar run elsewhere
	SourceManual      CandidateSource = "manual"      // added by a caller
	SourceOther       CandidateSource = "other"
)

// ParseSource maps a string onto the closed source set
func ParseSource(s string) CandidateSource {
	switch CandidateSource(strings.ToLower(strings.TrimSpace(s))) {
	case SourceEvaluator:
		return SourceEvaluator
	case SourceSpeculation:
		return SourceSpeculation
	case SourcePattern:
		return SourcePattern
	case SourceManual:
		return SourceManual
	default:
		return SourceOther
	}
}

// Experience is a discrete happening offered to the timeline
type Experience struct {
	ID         string            `json:"id,omitempty" yaml:"id"`
	Timestamp  time.Time         `json:"timestamp" yaml:"timestamp"`
	Duration   time.Duration     `json:"duration" yaml:"duration"`
	Content    string            `json:"content" yaml:"content"`
	ContentRef string            `json:"content_ref,omitempty" yaml:"content_ref"` // pointer to raw content held elsewhere
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes"`   // location, coords, cost, ...
}

// Vote is one evaluator's opinion about an experience. Transient: only the
// aggregate and the seeded candidates outlive classification.
type Vote struct {
	EvaluatorID       string   `json:"evaluator_id" yaml:"evaluator"`
	Significance      float64  `json:"significance" yaml:"significance"` // 0.0-1.0
	SuggestedCategory Category `json:"suggested_category" yaml:"category"`
	Confidence        float64  `json:"confidence" yaml:"confidence"` // 0.0-1.0
	Reasoning         string   `json:"reasoning,omitempty" yaml:"reasoning"`
}

// Neutral vote values used in place of a missing or failed evaluator
const (
	NeutralSignificance = 0.3
	NeutralConfidence   = 0.1
)

// NeutralVote returns the low-confidence placeholder for a failed evaluator
func NeutralVote(evaluatorID string) Vote {
	return Vote{
		EvaluatorID:       evaluatorID,
		Significance:      NeutralSignificance,
		SuggestedCategory: CategoryUnresolved,
		Confidence:        NeutralConfidence,
		Reasoning:         "evaluator unavailable",
	}
}

// Weight returns significance * confidence with both clamped to [0,1]
func (v Vote) Weight() float64 {
	return Clamp01(v.Significance) * Clamp01(v.Confidence)
}

// Context is the situational context a speculation or reinterpretation is
// evaluated under
type Context struct {
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes"` // financial, role, consent, ...
	Tags       []string          `json:"tags,omitempty" yaml:"tags"`
}

// Clone returns a deep copy so snapshots are not affected by later edits
func (c Context) Clone() Context {
	out := Context{}
	if c.Attributes != nil {
		out.Attributes = make(map[string]string, len(c.Attributes))
		for k, v := range c.Attributes {
			out.Attributes[k] = v
		}
	}
	if c.Tags != nil {
		out.Tags = append([]string(nil), c.Tags...)
	}
	return out
}

// Attr returns a normalized attribute value ("" if missing)
func (c Context) Attr(key string) string {
	if c.Attributes == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(c.Attributes[key]))
}

// Location is a named place, optionally with coordinates
type Location struct {
	Name      string  `json:"name"`
	Lat       float64 `json:"lat,omitempty"`
	Lng       float64 `json:"lng,omitempty"`
	HasCoords bool    `json:"has_coords"`
}

// ParseLocation reads the "location" and "coords" ("lat,lng") attributes.
// Returns false when no location attribute is present.
func ParseLocation(attrs map[string]string) (Location, bool) {
	name := strings.TrimSpace(attrs["location"])
	coords := strings.TrimSpace(attrs["coords"])
	if name == "" && coords == "" {
		return Location{}, false
	}
	loc := Location{Name: name}
	if parts := strings.Split(coords, ","); len(parts) == 2 {
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lng, errLng := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if errLat == nil && errLng == nil {
			loc.Lat, loc.Lng, loc.HasCoords = lat, lng, true
		}
	}
	return loc, true
}

// SamePlace reports whether two locations name the same place
func (l Location) SamePlace(o Location) bool {
	if l.HasCoords && o.HasCoords {
		return l.DistanceKm(o) < 0.5
	}
	return l.Name != "" && strings.EqualFold(l.Name, o.Name)
}

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle distance between two locations with
// coordinates (haversine). Returns -1 if either lacks coordinates.
func (l Location) DistanceKm(o Location) float64 {
	if !l.HasCoords || !o.HasCoords {
		return -1
	}
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(o.Lat - l.Lat)
	dLng := toRad(o.Lng - l.Lng)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(l.Lat))*math.Cos(toRad(o.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// Clamp01 bounds v to [0,1]; NaN becomes 0
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// InUnit reports whether v is a valid probability-like value
func InUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
