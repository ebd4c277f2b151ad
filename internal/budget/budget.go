// Package budget decides whether there is enough headroom to run
// evaluators. Evaluators that are refused report insufficient resources
// and are replaced by neutral votes.
package budget

import (
	"fmt"
	"time"

	"github.com/vthunder/timeline/internal/logging"
)

// ResourceBudget manages CPU and memory limits for evaluation work
type ResourceBudget struct {
	watcher *Watcher

	// Limits, in percent
	CPULimit    float64
	MemoryLimit float64

	// MaxAge is how old a reading may be before Pressure resamples
	MaxAge time.Duration
}

// NewResourceBudget creates a budget reading from watcher
func NewResourceBudget(watcher *Watcher, cpuLimit, memoryLimit float64) *ResourceBudget {
	return &ResourceBudget{
		watcher:     watcher,
		CPULimit:    cpuLimit,
		MemoryLimit: memoryLimit,
		MaxAge:      time.Second,
	}
}

// Pressure reports whether usage is over a limit, with the reason
func (b *ResourceBudget) Pressure() (bool, string) {
	if b == nil || b.watcher == nil {
		return false, ""
	}
	r := b.watcher.Current(b.MaxAge)
	if b.CPULimit > 0 && r.CPU >= b.CPULimit {
		return true, fmt.Sprintf("cpu %.1f%% over limit %.0f%%", r.CPU, b.CPULimit)
	}
	if b.MemoryLimit > 0 && r.Memory >= b.MemoryLimit {
		return true, fmt.Sprintf("memory %.1f%% over limit %.0f%%", r.Memory, b.MemoryLimit)
	}
	return false, ""
}

// CanEvaluate is the inverse of Pressure
func (b *ResourceBudget) CanEvaluate() (bool, string) {
	pressured, reason := b.Pressure()
	return !pressured, reason
}

// Status represents current budget state
type Status struct {
	CPU         float64 `json:"cpu_percent"`
	CPULimit    float64 `json:"cpu_limit"`
	Memory      float64 `json:"memory_percent"`
	MemoryLimit float64 `json:"memory_limit"`
	Samples     int     `json:"samples"`
	CanEvaluate bool    `json:"can_evaluate"`
}

// GetStatus returns current budget status
func (b *ResourceBudget) GetStatus() Status {
	if b == nil {
		return Status{CanEvaluate: true}
	}
	s := Status{CPULimit: b.CPULimit, MemoryLimit: b.MemoryLimit}
	if b.watcher != nil {
		r := b.watcher.Current(b.MaxAge)
		s.CPU, s.Memory, s.Samples = r.CPU, r.Memory, r.Samples
	}
	s.CanEvaluate, _ = b.CanEvaluate()
	return s
}

// LogStatus logs the current budget status
func (b *ResourceBudget) LogStatus() {
	s := b.GetStatus()
	logging.Info("budget", "cpu %.1f/%.0f%% | memory %.1f/%.0f%% | can evaluate: %v",
		s.CPU, s.CPULimit, s.Memory, s.MemoryLimit, s.CanEvaluate)
}
