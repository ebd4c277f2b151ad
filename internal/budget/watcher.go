package budget

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/vthunder/timeline/internal/logging"
)

// Sampler reads current resource usage as percentages
type Sampler interface {
	CPUPercent() (float64, error)
	MemoryPercent() (float64, error)
}

// processSampler reads this process's CPU and the host's memory usage
type processSampler struct {
	proc *process.Process
}

// NewProcessSampler returns a sampler bound to the current process
func NewProcessSampler() (Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process: %w", err)
	}
	return &processSampler{proc: proc}, nil
}

func (s *processSampler) CPUPercent() (float64, error) {
	return s.proc.CPUPercent()
}

func (s *processSampler) MemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// Reading is an averaged resource sample
type Reading struct {
	CPU     float64   `json:"cpu_percent"`
	Memory  float64   `json:"memory_percent"`
	Samples int       `json:"samples"`
	At      time.Time `json:"at"`
}

// historySize is how many samples the rolling average covers
const historySize = 5

// Watcher polls a Sampler and keeps a short rolling average, so a single
// spike does not flip evaluators into refusal.
type Watcher struct {
	sampler Sampler
	clock   clockwork.Clock
	mu      sync.Mutex

	pollInterval time.Duration

	cpuHistory []float64
	memHistory []float64
	lastSample time.Time

	stopChan chan struct{}
	running  bool
}

// NewWatcher creates a watcher. A zero interval means 2s.
func NewWatcher(sampler Sampler, interval time.Duration, clock clockwork.Clock) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watcher{
		sampler:      sampler,
		clock:        clock,
		pollInterval: interval,
		cpuHistory:   make([]float64, 0, historySize),
		memHistory:   make([]float64, 0, historySize),
		stopChan:     make(chan struct{}),
	}
}

// Start begins polling in the background
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.mu.Unlock()

	go w.watchLoop()
	logging.Info("budget", "Resource watcher started (poll=%v)", w.pollInterval)
}

// Stop stops polling
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stopChan)
		w.running = false
	}
}

func (w *Watcher) watchLoop() {
	ticker := w.clock.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.Poll()
	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.Chan():
			w.Poll()
		}
	}
}

// Poll takes one sample. Failed reads are skipped and leave the history as is.
func (w *Watcher) Poll() {
	cpu, cpuErr := w.sampler.CPUPercent()
	memPct, memErr := w.sampler.MemoryPercent()

	w.mu.Lock()
	defer w.mu.Unlock()

	if cpuErr == nil {
		w.cpuHistory = push(w.cpuHistory, cpu)
	} else {
		logging.Debug("budget", "cpu sample failed: %v", cpuErr)
	}
	if memErr == nil {
		w.memHistory = push(w.memHistory, memPct)
	} else {
		logging.Debug("budget", "memory sample failed: %v", memErr)
	}
	w.lastSample = w.clock.Now()
}

// Current returns the rolling averages. If the last sample is older than
// maxAge (or there is none) a fresh sample is taken first.
func (w *Watcher) Current(maxAge time.Duration) Reading {
	w.mu.Lock()
	stale := w.lastSample.IsZero() || w.clock.Since(w.lastSample) > maxAge
	w.mu.Unlock()
	if stale {
		w.Poll()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return Reading{
		CPU:     avg(w.cpuHistory),
		Memory:  avg(w.memHistory),
		Samples: len(w.cpuHistory),
		At:      w.lastSample,
	}
}

func push(history []float64, v float64) []float64 {
	history = append(history, v)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func avg(history []float64) float64 {
	if len(history) == 0 {
		return 0
	}
	var sum float64
	for _, v := range history {
		sum += v
	}
	return sum / float64(len(history))
}
