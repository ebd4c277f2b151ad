// Package consensus turns independent evaluator votes into a verdict on
// whether an experience is resolved or ambiguous.
package consensus

import (
	"gonum.org/v1/gonum/stat"

	"github.com/vthunder/timeline/internal/types"
)

// Result is the outcome of aggregating one set of votes
type Result struct {
	Score       float64                    `json:"consensus_score"` // max category weight / total weight
	Dominant    types.Category             `json:"dominant_category"`
	PerCategory map[types.Category]float64 `json:"per_category_score"`
	Order       []types.Category           `json:"order"` // categories in registration order
	Total       float64                    `json:"total"`
	VoteCount   int                        `json:"vote_count"`
	Spread      float64                    `json:"spread"` // std-dev of per-vote weights
}

// Aggregate sums significance*confidence per suggested category. The
// dominant category has the maximal sum; ties go to the category that was
// registered (first voted for) earliest. An empty vote list counts as a
// single neutral vote. Aggregate is deterministic for a given vote sequence.
func Aggregate(votes []types.Vote) Result {
	if len(votes) == 0 {
		votes = []types.Vote{types.NeutralVote("none")}
	}

	res := Result{
		PerCategory: make(map[types.Category]float64),
		VoteCount:   len(votes),
	}
	weights := make([]float64, 0, len(votes))

	for _, v := range votes {
		cat := v.SuggestedCategory
		if !cat.Known() {
			cat = types.ParseCategory(string(cat))
		}
		if _, seen := res.PerCategory[cat]; !seen {
			res.Order = append(res.Order, cat)
		}
		w := v.Weight()
		res.PerCategory[cat] += w
		res.Total += w
		weights = append(weights, w)
	}

	best := -1.0
	for _, cat := range res.Order {
		if s := res.PerCategory[cat]; s > best {
			best = s
			res.Dominant = cat
		}
	}

	if res.Total > 0 {
		res.Score = best / res.Total
	}
	if len(weights) > 1 {
		res.Spread = stat.StdDev(weights, nil)
	}
	return res
}
