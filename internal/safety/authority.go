// Package safety provides a rule based safety authority for speculations.
package safety

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vthunder/timeline/internal/entry"
	"github.com/vthunder/timeline/internal/logging"
	"github.com/vthunder/timeline/internal/speculate"
	"github.com/vthunder/timeline/internal/types"
)

// AlternativeDescription is the placeholder offered instead of a blocked speculation
const AlternativeDescription = "undisclosed interval"

// DimensionSafety marks the placeholder speculation
const DimensionSafety = "safety"

// consentPhrases are context values that count as consent
var consentPhrases = []string{"granted", "yes", "approved", "confirmed", "go ahead"}

// RuleAuthority blocks speculation about sensitive categories unless the
// context carries consent, and blocks everything about private segments.
type RuleAuthority struct {
	Sensitive map[types.Category]bool
}

// NewRuleAuthority creates an authority. With no categories given, health
// and finance are sensitive.
func NewRuleAuthority(sensitive ...types.Category) *RuleAuthority {
	if len(sensitive) == 0 {
		sensitive = []types.Category{types.CategoryHealth, types.CategoryFinance}
	}
	a := &RuleAuthority{Sensitive: make(map[types.Category]bool, len(sensitive))}
	for _, c := range sensitive {
		a.Sensitive[c] = true
	}
	return a
}

// HasConsent reports whether the context grants consent to speculate
func HasConsent(situ types.Context) bool {
	v := situ.Attr("consent")
	if v == "" {
		return false
	}
	for _, p := range consentPhrases {
		if strings.HasPrefix(v, p) {
			return true
		}
	}
	return false
}

// AssessSpeculationSafety implements speculate.SafetyAuthority
func (a *RuleAuthority) AssessSpeculationSafety(ctx context.Context, segment entry.Entry, situ types.Context, proposed []speculate.Speculation) (speculate.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return speculate.Assessment{}, err
	}

	if isPrivate(segment, situ) {
		return speculate.Assessment{
			Reason:          "segment is marked private",
			SafeAlternative: alternative(),
		}, nil
	}

	if HasConsent(situ) {
		return speculate.Assessment{Safe: true}, nil
	}

	var hits []string
	seen := make(map[types.Category]bool)
	for _, p := range proposed {
		if a.Sensitive[p.Category] && !seen[p.Category] {
			seen[p.Category] = true
			hits = append(hits, string(p.Category))
		}
	}
	if len(hits) == 0 {
		return speculate.Assessment{Safe: true}, nil
	}

	sort.Strings(hits)
	reason := fmt.Sprintf("speculation about %s requires consent", strings.Join(hits, ", "))
	logging.Debug("safety", "%s: %s", segment.EntryID(), reason)
	return speculate.Assessment{
		Reason:          reason,
		SafeAlternative: alternative(),
	}, nil
}

func isPrivate(segment entry.Entry, situ types.Context) bool {
	for _, tag := range situ.Tags {
		if strings.EqualFold(tag, "private") {
			return true
		}
	}
	switch v := segment.(type) {
	case *entry.Ambiguous:
		return markedPrivate(v.Attributes)
	case *entry.Resolved:
		return markedPrivate(v.Attributes)
	case *entry.CompactedRun:
		// a run is as private as its most private original
		for _, o := range v.Originals {
			if markedPrivate(o.Attributes) {
				return true
			}
		}
	}
	return false
}

func markedPrivate(attrs map[string]string) bool {
	return strings.EqualFold(strings.TrimSpace(attrs["private"]), "true")
}

func alternative() *speculate.Speculation {
	return &speculate.Speculation{
		Description: AlternativeDescription,
		Category:    types.CategoryUnresolved,
		Confidence:  types.NeutralConfidence,
		Source:      types.SourceSpeculation,
		Dimension:   DimensionSafety,
		Feasibility: speculate.Feasibility{Score: 1},
	}
}
