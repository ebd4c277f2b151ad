// Package evaluator provides reference evaluators for the consensus pool:
// declarative keyword evaluators loaded from YAML and a wrapper that
// refuses work under resource pressure.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vthunder/timeline/internal/consensus"
	"github.com/vthunder/timeline/internal/logging"
	"github.com/vthunder/timeline/internal/types"
)

// ErrNoOpinion is returned when no rule matches. The collector treats it
// like any other failure, so the evaluator contributes a neutral vote.
var ErrNoOpinion = errors.New("no matching rule")

// Rule is a pattern-to-vote rule defined in YAML
type Rule struct {
	Name         string  `yaml:"name"`
	Pattern      string  `yaml:"pattern"`   // regex, matched case-insensitively
	Attribute    string  `yaml:"attribute"` // optional: match this attribute instead of content
	Category     string  `yaml:"category"`
	Significance float64 `yaml:"significance"`
	Confidence   float64 `yaml:"confidence"`
	Priority     int     `yaml:"priority"` // higher = tried first

	compiled *regexp.Regexp
}

func (r *Rule) compile() error {
	if r.Pattern == "" {
		return fmt.Errorf("rule %q: empty pattern", r.Name)
	}
	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	if !types.InUnit(r.Significance) || !types.InUnit(r.Confidence) {
		return fmt.Errorf("rule %q: significance and confidence must be in [0,1]", r.Name)
	}
	r.compiled = re
	return nil
}

// Match reports whether the rule fires for an experience
func (r *Rule) Match(exp types.Experience) bool {
	if r.compiled == nil {
		if err := r.compile(); err != nil {
			return false
		}
	}
	if r.Attribute != "" {
		v, ok := exp.Attributes[r.Attribute]
		return ok && r.compiled.MatchString(v)
	}
	return r.compiled.MatchString(exp.Content)
}

// KeywordEvaluator votes with the first matching rule
type KeywordEvaluator struct {
	id    string
	rules []*Rule
}

// NewKeywordEvaluator compiles rules and orders them by priority
func NewKeywordEvaluator(id string, rules []Rule) (*KeywordEvaluator, error) {
	if id == "" {
		return nil, errors.New("evaluator id required")
	}
	compiled := make([]*Rule, 0, len(rules))
	for i := range rules {
		r := rules[i]
		if r.Name == "" {
			r.Name = fmt.Sprintf("%s-%d", id, i)
		}
		if err := r.compile(); err != nil {
			return nil, err
		}
		compiled = append(compiled, &r)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})
	return &KeywordEvaluator{id: id, rules: compiled}, nil
}

// ID returns the evaluator id
func (k *KeywordEvaluator) ID() string { return k.id }

// Rules returns the rule names in match order
func (k *KeywordEvaluator) Rules() []string {
	names := make([]string, len(k.rules))
	for i, r := range k.rules {
		names[i] = r.Name
	}
	return names
}

// VoteOnExperienceSignificance implements consensus.Evaluator
func (k *KeywordEvaluator) VoteOnExperienceSignificance(ctx context.Context, exp types.Experience, situ types.Context) (types.Vote, error) {
	if err := ctx.Err(); err != nil {
		return types.Vote{}, err
	}
	for _, r := range k.rules {
		if !r.Match(exp) {
			continue
		}
		logging.Debug("evaluator", "%s: rule %s matched %q", k.id, r.Name, logging.Truncate(exp.Content, 40))
		return types.Vote{
			EvaluatorID:       k.id,
			Significance:      r.Significance,
			SuggestedCategory: types.ParseCategory(r.Category),
			Confidence:        r.Confidence,
			Reasoning:         "rule " + r.Name,
		}, nil
	}
	return types.Vote{}, ErrNoOpinion
}

// Definition is one evaluator in a rules file
type Definition struct {
	ID    string `yaml:"id"`
	Rules []Rule `yaml:"rules"`
}

type rulesFile struct {
	Evaluators []Definition `yaml:"evaluators"`
}

// ParseRules builds keyword evaluators from YAML:
//
//	evaluators:
//	  - id: commute
//	    rules:
//	      - pattern: "bus|train|metro"
//	        category: travel
//	        significance: 0.8
//	        confidence: 0.9
func ParseRules(data []byte) ([]consensus.Evaluator, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	seen := make(map[string]bool)
	evals := make([]consensus.Evaluator, 0, len(f.Evaluators))
	for _, def := range f.Evaluators {
		id := strings.TrimSpace(def.ID)
		if seen[id] {
			return nil, fmt.Errorf("parse rules: duplicate evaluator %q", id)
		}
		seen[id] = true
		ev, err := NewKeywordEvaluator(id, def.Rules)
		if err != nil {
			return nil, fmt.Errorf("parse rules: %w", err)
		}
		evals = append(evals, ev)
	}
	return evals, nil
}

// LoadRules reads a rules file. A missing file yields no evaluators.
func LoadRules(path string) ([]consensus.Evaluator, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	evals, err := ParseRules(data)
	if err != nil {
		return nil, err
	}
	logging.Info("evaluator", "Loaded %d evaluators from %s", len(evals), path)
	return evals, nil
}
