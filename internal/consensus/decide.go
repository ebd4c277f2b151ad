package consensus

import "github.com/vthunder/timeline/internal/types"

const (
	DefaultThreshold      = 0.6
	DefaultSeedConfidence = 0.3
)

// DecisionConfig holds the classification thresholds
type DecisionConfig struct {
	Threshold      float64 // resolve when score >= Threshold
	SeedConfidence float64 // seed votes whose confidence is strictly above this
	MinSupport     float64 // optional floor on the dominant category's absolute weight; 0 disables
}

// DefaultDecisionConfig returns the stock thresholds
func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		Threshold:      DefaultThreshold,
		SeedConfidence: DefaultSeedConfidence,
	}
}

// Decision is what the store does with an experience
type Decision struct {
	Resolved bool
	Category types.Category
	Score    float64
	Seeds    []types.Vote // only for ambiguous decisions
}

// Decide applies the threshold rule to an aggregate. Resolved experiences
// take the dominant category; ambiguous ones carry every vote with
// confidence above the seed threshold, whatever category they suggest.
//
// "unresolved" never resolves, so a ballot of neutral votes stays ambiguous.
func Decide(res Result, votes []types.Vote, cfg DecisionConfig) Decision {
	support := res.PerCategory[res.Dominant]
	if res.Total > 0 && res.Score >= cfg.Threshold && support >= cfg.MinSupport &&
		res.Dominant != types.CategoryUnresolved {
		return Decision{Resolved: true, Category: res.Dominant, Score: res.Score}
	}

	d := Decision{Category: types.CategoryUnresolved, Score: res.Score}
	for _, v := range votes {
		if v.Confidence > cfg.SeedConfidence {
			d.Seeds = append(d.Seeds, v)
		}
	}
	return d
}
