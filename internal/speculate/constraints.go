package speculate

import (
	"strings"
	"time"

	"github.com/vthunder/timeline/internal/entry"
	"github.com/vthunder/timeline/internal/types"
)

// Window is the time span the segment itself covers
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Anchor is a resolved neighbor the constraints are derived from
type Anchor struct {
	ID        string          `json:"id"`
	Category  types.Category  `json:"category"`
	Timestamp time.Time       `json:"timestamp"`
	End       time.Time       `json:"end"`
	Location  *types.Location `json:"location,omitempty"`
}

// Spatial holds the endpoints of a possible transition
type Spatial struct {
	From       types.Location `json:"from"`
	To         types.Location `json:"to"`
	DistanceKm float64        `json:"distance_km"` // -1 when unknown
	Stationary bool           `json:"stationary"`  // both endpoints are the same place
}

// Situational is the situation the segment is evaluated under
type Situational struct {
	Financial string            `json:"financial"` // low, normal, high
	Role      string            `json:"role"`      // working, student, off_duty, ...
	Vehicle   string            `json:"vehicle,omitempty"`
	Mobility  string            `json:"mobility,omitempty"`
	Blocked   []types.Category  `json:"blocked,omitempty"`
	Inferred  bool              `json:"inferred"` // role came from neighbor categories
	Extra     map[string]string `json:"extra,omitempty"`
}

// Constraints bound what a segment could plausibly have been
type Constraints struct {
	Window      Window        `json:"window"`
	Gap         time.Duration `json:"gap"`      // time between the anchors, -1 if open-ended
	Year        int           `json:"year"`     // for infrastructure availability
	Before      *Anchor       `json:"before,omitempty"`
	After       *Anchor       `json:"after,omitempty"`
	Spatial     *Spatial      `json:"spatial,omitempty"`
	Situational Situational   `json:"situational"`
}

// HasGap reports whether both anchors are known
func (c Constraints) HasGap() bool {
	return c.Gap >= 0
}

// extractConstraints derives constraints from the segment, its nearest
// resolved neighbors and the caller's context
func (e *Engine) extractConstraints(seg entry.Entry, before, after *entry.Resolved, situ types.Context) Constraints {
	c := Constraints{
		Window: Window{Start: seg.Start(), End: seg.End()},
		Gap:    -1,
		Year:   seg.Start().Year(),
	}

	c.Before = e.anchor(before)
	c.After = e.anchor(after)

	if c.Before != nil && c.After != nil {
		gap := c.After.Timestamp.Sub(c.Before.End)
		if gap < 0 {
			gap = 0
		}
		c.Gap = gap

		if c.Before.Location != nil && c.After.Location != nil {
			c.Spatial = &Spatial{
				From:       *c.Before.Location,
				To:         *c.After.Location,
				DistanceKm: c.Before.Location.DistanceKm(*c.After.Location),
				Stationary: c.Before.Location.SamePlace(*c.After.Location),
			}
		}
	}

	c.Situational = situational(situ, c.Before, c.After)
	return c
}

func (e *Engine) anchor(r *entry.Resolved) *Anchor {
	if r == nil {
		return nil
	}
	a := &Anchor{ID: r.ID, Category: r.Category, Timestamp: r.Timestamp, End: r.End()}
	if loc, ok := r.Location(); ok {
		a.Location = &loc
	} else if e.locator != nil {
		if loc, ok := e.locator.Locate(r.Content); ok {
			a.Location = &loc
		}
	}
	return a
}

// situational merges explicit context attributes with what the neighbor
// categories suggest. Explicit attributes always win.
func situational(situ types.Context, before, after *Anchor) Situational {
	s := Situational{
		Financial: situ.Attr("financial"),
		Role:      situ.Attr("role"),
		Vehicle:   situ.Attr("vehicle"),
		Mobility:  situ.Attr("mobility"),
	}
	if s.Financial == "" {
		s.Financial = "normal"
	}
	if s.Role == "" {
		s.Role = inferRole(before, after)
		s.Inferred = s.Role != ""
	}
	for _, raw := range strings.Split(situ.Attr("blocked_categories"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			s.Blocked = append(s.Blocked, types.ParseCategory(raw))
		}
	}
	for k, v := range situ.Attributes {
		switch k {
		case "financial", "role", "vehicle", "mobility", "blocked_categories":
		default:
			if s.Extra == nil {
				s.Extra = make(map[string]string)
			}
			s.Extra[k] = v
		}
	}
	return s
}

func inferRole(anchors ...*Anchor) string {
	for _, a := range anchors {
		if a == nil {
			continue
		}
		switch a.Category {
		case types.CategoryWork:
			return "working"
		case types.CategoryLearning:
			return "student"
		}
	}
	for _, a := range anchors {
		if a == nil {
			continue
		}
		switch a.Category {
		case types.CategoryHome, types.CategoryRest, types.CategoryLeisure:
			return "off_duty"
		}
	}
	return ""
}

// categoryCompatibility scores how well a category fits the situation
func categoryCompatibility(cat types.Category, s Situational) float64 {
	for _, b := range s.Blocked {
		if b == cat {
			return 0
		}
	}
	switch {
	case s.Role == "off_duty" && cat == types.CategoryWork:
		return 0.4
	case s.Role == "working" && cat == types.CategoryLeisure:
		return 0.6
	case s.Financial == "low" && cat == types.CategoryFinance:
		return 0.7
	}
	return 1
}
