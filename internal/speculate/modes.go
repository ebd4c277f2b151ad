package speculate

import (
	"fmt"
	"math"
	"time"
)

// CostClass is a rough price band for a traversal mode
type CostClass string

const (
	CostFree   CostClass = "free"
	CostLow    CostClass = "low"
	CostMedium CostClass = "medium"
	CostHigh   CostClass = "high"
)

// Mode is one way of getting from one place to another
type Mode struct {
	Name      string        `json:"name"`
	SpeedKmh  float64       `json:"speed_kmh"`
	Overhead  time.Duration `json:"overhead"` // boarding, parking, waiting
	MinKm     float64       `json:"min_km"`   // below this the mode is implausible
	MaxKm     float64       `json:"max_km"`   // beyond this it is out of range
	Since     int           `json:"since"`    // first year the infrastructure existed
	Cost      CostClass     `json:"cost"`
	Motorized bool          `json:"motorized"` // needs a vehicle the person drives
	Active    bool          `json:"active"`    // human powered
}

// DefaultModes is the stock traversal table
func DefaultModes() []Mode {
	return []Mode{
		{Name: "walk", SpeedKmh: 5, MaxKm: 25, Cost: CostFree, Active: true},
		{Name: "bicycle", SpeedKmh: 15, Overhead: 5 * time.Minute, MaxKm: 80, Since: 1885, Cost: CostLow, Active: true},
		{Name: "e-scooter", SpeedKmh: 18, Overhead: 5 * time.Minute, MaxKm: 25, Since: 2017, Cost: CostLow},
		{Name: "bus", SpeedKmh: 25, Overhead: 15 * time.Minute, MinKm: 1, MaxKm: 300, Since: 1895, Cost: CostLow},
		{Name: "train", SpeedKmh: 80, Overhead: 20 * time.Minute, MinKm: 5, MaxKm: 1500, Since: 1830, Cost: CostMedium},
		{Name: "car", SpeedKmh: 60, Overhead: 10 * time.Minute, MaxKm: 1500, Since: 1900, Cost: CostMedium, Motorized: true},
		{Name: "rideshare", SpeedKmh: 45, Overhead: 10 * time.Minute, MaxKm: 150, Since: 2011, Cost: CostHigh},
		{Name: "flight", SpeedKmh: 700, Overhead: 150 * time.Minute, MinKm: 150, MaxKm: 16000, Since: 1930, Cost: CostHigh},
	}
}

// Factor names double as the constraint a candidate failed on
const (
	FactorDistance     = "distance"
	FactorTemporal     = "temporal"
	FactorAvailability = "availability"
	FactorSituational  = "situational"
	FactorSupport      = "support"    // how strongly the candidate was held before
	FactorSimilarity   = "similarity" // pattern matches only
)

var factorOrder = []string{FactorDistance, FactorTemporal, FactorAvailability, FactorSituational, FactorSupport}

// Feasibility is the product of independent plausibility factors
type Feasibility struct {
	Factors map[string]float64 `json:"factors"`
	Score   float64            `json:"score"`
}

func newFeasibility() Feasibility {
	return Feasibility{Factors: make(map[string]float64, len(factorOrder))}
}

func (f *Feasibility) set(name string, v float64) {
	f.Factors[name] = v
}

func (f *Feasibility) finish() {
	f.Score = 1
	for _, name := range factorOrder {
		if v, ok := f.Factors[name]; ok {
			f.Score *= v
		}
	}
}

// failing names the constraint responsible for a score under cutoff: the
// first factor that is itself under cutoff, else the weakest one
func (f Feasibility) failing(cutoff float64) string {
	weakest, low := "", math.Inf(1)
	for _, name := range factorOrder {
		v, ok := f.Factors[name]
		if !ok {
			continue
		}
		if v < cutoff {
			return name
		}
		if v < low {
			weakest, low = name, v
		}
	}
	return weakest
}

// travelTime is the door-to-door estimate for a known distance
func (m Mode) travelTime(km float64) time.Duration {
	if m.SpeedKmh <= 0 {
		return m.Overhead
	}
	return m.Overhead + time.Duration(km/m.SpeedKmh*float64(time.Hour))
}

// assess scores a mode against the constraints
func (m Mode) assess(c Constraints) Feasibility {
	f := newFeasibility()
	sp := c.Spatial
	known := sp != nil && sp.DistanceKm >= 0

	switch {
	case !known && m.MinKm >= 100:
		f.set(FactorDistance, 0.4)
	case !known:
		f.set(FactorDistance, 0.7)
	case sp.DistanceKm > m.MaxKm:
		f.set(FactorDistance, 0)
	case sp.DistanceKm < m.MinKm:
		f.set(FactorDistance, 0.2)
	default:
		f.set(FactorDistance, 1)
	}

	if c.HasGap() {
		var need time.Duration
		if known {
			need = m.travelTime(sp.DistanceKm)
		} else {
			need = m.Overhead
		}
		f.set(FactorTemporal, temporalFit(need, c.Gap))
	}

	if m.Since > 0 && c.Year < m.Since {
		f.set(FactorAvailability, 0)
	} else {
		f.set(FactorAvailability, 1)
	}

	f.set(FactorSituational, m.situationalFit(c.Situational))
	f.finish()
	return f
}

// temporalFit is 1 when the trip fits in the gap and falls off linearly
// with the overrun
func temporalFit(need, gap time.Duration) float64 {
	if need <= gap {
		return 1
	}
	if gap <= 0 {
		return 0
	}
	return math.Max(0, 1-float64(need-gap)/float64(gap))
}

func (m Mode) situationalFit(s Situational) float64 {
	v := 1.0
	switch s.Financial {
	case "low":
		switch m.Cost {
		case CostHigh:
			v *= 0.2
		case CostMedium:
			v *= 0.6
		}
	case "high":
		if m.Cost == CostFree {
			v *= 0.8
		}
	}
	if m.Motorized && (s.Vehicle == "none" || s.Vehicle == "no") {
		v *= 0.1
	}
	if m.Active && s.Mobility == "limited" {
		v *= 0.2
	}
	return v
}

// describe renders the candidate description for a mode
func (m Mode) describe(sp *Spatial) string {
	from, to := placeName(sp.From), placeName(sp.To)
	if sp.DistanceKm >= 0 {
		return fmt.Sprintf("%s from %s to %s (%.1f km)", m.Name, from, to, sp.DistanceKm)
	}
	return fmt.Sprintf("%s from %s to %s", m.Name, from, to)
}
