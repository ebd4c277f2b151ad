package timeline

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/vthunder/timeline/internal/entry"
	"github.com/vthunder/timeline/internal/history"
)

// Snapshot is a point-in-time export of the timeline and its
// reinterpretation histories
type Snapshot struct {
	Version     uint64                      `json:"version"`
	GeneratedAt time.Time                   `json:"generated_at"`
	Script      string                      `json:"script"`
	Entries     []entry.Record              `json:"entries"`
	History     map[string][]history.Record `json:"history,omitempty"`
}

// Snapshot exports the timeline
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		Version:     s.version,
		GeneratedAt: s.clock.Now(),
		Script:      s.policy.Name(),
		Entries:     entry.ToRecords(entry.CloneAll(s.entries)),
	}
	s.mu.RUnlock()

	for _, id := range s.history.EntryIDs() {
		if snap.History == nil {
			snap.History = make(map[string][]history.Record)
		}
		snap.History[id] = s.history.Records(id)
	}
	return snap
}

// WriteSnapshot writes the snapshot as indented JSON
func (s *Store) WriteSnapshot(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.Snapshot()); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}
