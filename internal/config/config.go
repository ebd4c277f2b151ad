// Package config loads timeline settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/vthunder/timeline/internal/logging"
)

// Config holds all tunables of the store and its collaborators
type Config struct {
	StatePath string `env:"TIMELINE_STATE_PATH" envDefault:"state"`

	ContainerCapacity  int     `env:"TIMELINE_CONTAINER_CAPACITY" envDefault:"7"`
	ConsensusThreshold float64 `env:"TIMELINE_CONSENSUS_THRESHOLD" envDefault:"0.6"`
	SeedConfidence     float64 `env:"TIMELINE_SEED_CONFIDENCE" envDefault:"0.3"`
	MinSupport         float64 `env:"TIMELINE_MIN_SUPPORT" envDefault:"0"`
	RecencyBias        float64 `env:"TIMELINE_RECENCY_BIAS" envDefault:"0.3"`
	RankingScript      string  `env:"TIMELINE_RANKING_SCRIPT" envDefault:"balanced"`
	RankingScriptsFile string  `env:"TIMELINE_RANKING_SCRIPTS_FILE"`
	CompactionMinRun   int     `env:"TIMELINE_COMPACTION_MIN_RUN" envDefault:"3"`
	FeasibilityCutoff  float64 `env:"TIMELINE_FEASIBILITY_CUTOFF" envDefault:"0.3"`
	PatternSimilarity  float64 `env:"TIMELINE_PATTERN_SIMILARITY" envDefault:"0.7"`
	EvaluatorRulesFile string  `env:"TIMELINE_EVALUATOR_RULES_FILE"`

	EvaluatorTimeout time.Duration `env:"TIMELINE_EVALUATOR_TIMEOUT" envDefault:"2s"`
	CPULimit         float64       `env:"TIMELINE_CPU_LIMIT" envDefault:"90"`
	MemoryLimit      float64       `env:"TIMELINE_MEMORY_LIMIT" envDefault:"90"`

	OTelEndpoint string `env:"TIMELINE_OTEL_ENDPOINT"`
	MetricsAddr  string `env:"TIMELINE_METRICS_ADDR"`
	Debug        bool   `env:"DEBUG" envDefault:"false"`
}

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid config")

// Load reads an optional .env file, then parses the environment
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		logging.Debug("config", "No .env file found, using environment variables")
	} else {
		logging.Info("config", "Loaded .env file")
	}
	return Parse()
}

// Parse reads the environment into a validated Config
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	logging.SetDebug(cfg.Debug)
	return cfg, nil
}

// Validate rejects out-of-range values
func (c Config) Validate() error {
	if c.ContainerCapacity < 1 {
		return fmt.Errorf("%w: container capacity %d < 1", ErrInvalid, c.ContainerCapacity)
	}
	if c.CompactionMinRun < 3 {
		return fmt.Errorf("%w: compaction min run %d < 3", ErrInvalid, c.CompactionMinRun)
	}
	if c.EvaluatorTimeout <= 0 {
		return fmt.Errorf("%w: evaluator timeout must be positive", ErrInvalid)
	}
	if c.RecencyBias < 0 {
		return fmt.Errorf("%w: recency bias %v < 0", ErrInvalid, c.RecencyBias)
	}
	for name, v := range map[string]float64{
		"consensus threshold": c.ConsensusThreshold,
		"seed confidence":     c.SeedConfidence,
		"min support":         c.MinSupport,
		"feasibility cutoff":  c.FeasibilityCutoff,
		"pattern similarity":  c.PatternSimilarity,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s %v outside [0,1]", ErrInvalid, name, v)
		}
	}
	return nil
}
