package container

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScriptDef is a user-defined static evaluation script
type ScriptDef struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Confidence  float64 `yaml:"confidence"`
	Evidence    float64 `yaml:"evidence"`
	Recency     float64 `yaml:"recency"`
}

type scriptFile struct {
	Scripts []ScriptDef `yaml:"scripts"`
}

// ParseScripts reads script definitions from YAML:
//
//	scripts:
//	  - name: cautious
//	    confidence: 0.3
//	    evidence: 0.6
//	    recency: 0.1
func ParseScripts(data []byte) (map[string]RankingPolicy, error) {
	var file scriptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse scripts: %w", err)
	}

	out := make(map[string]RankingPolicy, len(file.Scripts))
	for _, def := range file.Scripts {
		if _, dup := out[def.Name]; dup {
			return nil, fmt.Errorf("duplicate script %q", def.Name)
		}
		p, err := Static(def.Name, Weights{
			Confidence: def.Confidence,
			Evidence:   def.Evidence,
			Recency:    def.Recency,
		})
		if err != nil {
			return nil, err
		}
		out[def.Name] = p
	}
	return out, nil
}

// LoadScripts reads script definitions from a YAML file.
// A missing path yields an empty set.
func LoadScripts(path string) (map[string]RankingPolicy, error) {
	if path == "" {
		return map[string]RankingPolicy{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]RankingPolicy{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scripts: %w", err)
	}
	return ParseScripts(data)
}
