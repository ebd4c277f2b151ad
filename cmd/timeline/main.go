// timeline replays scenario files against a fresh store and prints the
// resulting timeline. Scenarios are YAML lists of steps: insert, observe,
// add_candidate, reinterpret, evolve and reclassify.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vthunder/timeline/internal/config"
	"github.com/vthunder/timeline/internal/container"
	"github.com/vthunder/timeline/internal/entry"
	"github.com/vthunder/timeline/internal/service"
	"github.com/vthunder/timeline/internal/timeline"
	"github.com/vthunder/timeline/internal/types"
)

// Scenario defines a replayable sequence of store operations
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
	Expect      Expect `yaml:"expect"`
}

// Step is one operation. Op selects which fields are read.
type Step struct {
	Op         string           `yaml:"op"`
	Experience types.Experience `yaml:"experience"`
	Votes      []types.Vote     `yaml:"votes"`
	Entry      string           `yaml:"entry"`
	Context    types.Context    `yaml:"context"`
	Script     string           `yaml:"script"`
	Candidate  CandidateSpec    `yaml:"candidate"`
}

// CandidateSpec is a manually added candidate
type CandidateSpec struct {
	Description string  `yaml:"description"`
	Category    string  `yaml:"category"`
	Confidence  float64 `yaml:"confidence"`
	Evidence    float64 `yaml:"evidence"`
}

// Expect checks the final folded timeline
type Expect struct {
	Kinds []string `yaml:"kinds"`
}

var verbose bool

func main() {
	scenarioPath := flag.String("scenario", "", "Path to scenario YAML file")
	scenarioDir := flag.String("dir", "tests/scenarios", "Directory containing scenario files")
	listScenarios := flag.Bool("list", false, "List available scenarios")
	runAll := flag.Bool("all", false, "Run all scenarios")
	snapshotPath := flag.String("snapshot", "", "Write the final timeline snapshot as JSON to this path")
	flag.BoolVar(&verbose, "v", false, "Verbose output")
	flag.Parse()

	if *listScenarios {
		scenarios, _ := filepath.Glob(filepath.Join(*scenarioDir, "*.yaml"))
		fmt.Println("Available scenarios:")
		for _, s := range scenarios {
			scenario, err := loadScenario(s)
			if err != nil {
				continue
			}
			fmt.Printf("  %s - %s\n", scenario.Name, scenario.Description)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var paths []string
	switch {
	case *runAll:
		paths, _ = filepath.Glob(filepath.Join(*scenarioDir, "*.yaml"))
	case *scenarioPath != "":
		paths = []string{*scenarioPath}
	default:
		log.Fatal("Pass -scenario, -all or -list")
	}

	passed, failed := 0, 0
	for _, p := range paths {
		scenario, err := loadScenario(p)
		if err != nil {
			log.Printf("Failed to load %s: %v", p, err)
			failed++
			continue
		}
		if runScenario(cfg, scenario, *snapshotPath) {
			passed++
		} else {
			failed++
		}
	}

	if len(paths) > 1 {
		fmt.Printf("\nPassed: %d, Failed: %d\n", passed, failed)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, err
	}
	return &scenario, nil
}

func runScenario(cfg config.Config, scenario *Scenario, snapshotPath string) bool {
	log.Printf("=== Scenario: %s ===", scenario.Name)
	if scenario.Description != "" {
		log.Printf("Description: %s", scenario.Description)
	}

	ctx := context.Background()
	cfg.StatePath = filepath.Join(os.TempDir(), "timeline-"+scenario.Name)
	svc, err := service.Open(ctx, "timeline", cfg, service.Options{})
	if err != nil {
		log.Printf("Failed to open store: %v", err)
		return false
	}
	defer svc.Close(ctx)

	ok := true
	for i, step := range scenario.Steps {
		if err := runStep(ctx, svc.Store, step); err != nil {
			log.Printf("  ✗ step %d (%s): %v", i+1, step.Op, err)
			ok = false
		}
	}

	entries := svc.Store.Entries()
	printTimeline(entries)

	if len(scenario.Expect.Kinds) > 0 {
		got := make([]string, len(entries))
		for i, e := range entries {
			got[i] = string(e.Kind())
		}
		if strings.Join(got, ",") != strings.Join(scenario.Expect.Kinds, ",") {
			log.Printf("  ✗ Expected kinds %v, got %v", scenario.Expect.Kinds, got)
			ok = false
		} else {
			log.Printf("  ✓ Kinds match")
		}
	}

	if snapshotPath != "" {
		if err := writeSnapshot(svc.Store, snapshotPath); err != nil {
			log.Printf("Failed to write snapshot: %v", err)
			ok = false
		}
	}
	return ok
}

func runStep(ctx context.Context, store *timeline.Store, step Step) error {
	switch step.Op {
	case "insert":
		res, err := store.Insert(ctx, step.Experience, step.Votes)
		if err != nil {
			return err
		}
		logResult("insert", res.Entry, res.Aggregate.Score)
	case "observe":
		res, err := store.Observe(ctx, step.Experience, step.Context)
		if err != nil {
			return err
		}
		logResult("observe", res.Entry, res.Aggregate.Score)
		for _, f := range res.Failures {
			log.Printf("    evaluator %s: %s", f.EvaluatorID, f.Kind)
		}
	case "add_candidate":
		c := step.Candidate
		cand := container.NewCandidate(c.Description, types.ParseCategory(c.Category), c.Confidence, c.Evidence, types.SourceManual, time.Now())
		res, err := store.AddCandidate(step.Entry, cand)
		if err != nil {
			return err
		}
		if res.Evicted != nil {
			log.Printf("  add_candidate %s: evicted %q", step.Entry, res.Evicted.Description)
		}
		if res.ActiveChanged() && res.NewActive != nil {
			log.Printf("  add_candidate %s: active is now %q", step.Entry, res.NewActive.Description)
		}
	case "reinterpret":
		rec, err := store.Reinterpret(ctx, step.Entry, step.Context)
		if err != nil {
			return err
		}
		top, _ := rec.Speculation.Top()
		log.Printf("  reinterpret %s #%d: top %q (changed=%v, blocked=%v)",
			step.Entry, rec.Seq, top.Description, rec.Delta.Changed(), rec.Speculation.Blocked)
		if verbose {
			for _, c := range rec.Speculation.Candidates {
				log.Printf("    %.2f %s [%s]", c.Feasibility.Score, c.Description, c.Category)
			}
		}
	case "evolve":
		res, err := store.EvolveRankingScriptByName(step.Script)
		if err != nil {
			return err
		}
		log.Printf("  evolve %s: %d active changed, %d reordered", res.Script, res.ChangedActiveCount, res.ReorderingCount)
	case "reclassify":
		res, err := store.Reclassify(ctx, step.Entry, step.Votes)
		if err != nil {
			return err
		}
		logResult("reclassify", res.Entry, res.Aggregate.Score)
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func logResult(op string, e entry.Entry, score float64) {
	log.Printf("  %s %s: %s (score %.2f)", op, e.EntryID(), e.Kind(), score)
}

func printTimeline(entries []entry.Entry) {
	fmt.Println("\n--- Timeline ---")
	for _, e := range entries {
		switch v := e.(type) {
		case *entry.Resolved:
			fmt.Printf("%s  resolved   %-10s %s\n", v.Timestamp.Format(time.RFC3339), v.Category, v.Content)
		case *entry.Ambiguous:
			active := "-"
			if c, ok := v.Active(); ok {
				active = c.Description
			}
			fmt.Printf("%s  ambiguous  active=%q\n", v.Timestamp.Format(time.RFC3339), active)
		case *entry.CompactedRun:
			fmt.Printf("%s  run x%d     until %s\n", v.StartTimestamp.Format(time.RFC3339), v.Count, v.EndTimestamp.Format(time.RFC3339))
		}
	}
}

func writeSnapshot(store *timeline.Store, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return store.WriteSnapshot(f)
}
