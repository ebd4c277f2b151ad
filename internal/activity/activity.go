package activity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Type identifies what kind of activity this is
type Type string

const (
	TypeInsert           Type = "insert"            // Experience stored
	TypeDrift            Type = "drift"             // Active candidate changed
	TypeEviction         Type = "eviction"          // Candidate pushed out of a full container
	TypeReinterpret      Type = "reinterpret"       // Reinterpretation record appended
	TypeRerank           Type = "rerank"            // Ranking script swapped
	TypeReclassify       Type = "reclassify"        // Explicit re-classification
	TypeEvaluatorFailure Type = "evaluator_failure" // Evaluator replaced by a neutral vote
	TypeBlocked          Type = "blocked"           // Safety authority blocked a speculation
)

// Entry represents a single activity log entry
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Type      Type           `json:"type"`
	Summary   string         `json:"summary"`
	EntryID   string         `json:"entry_id,omitempty"` // Timeline entry if applicable
	Source    string         `json:"source,omitempty"`   // Evaluator or script involved
	Reasoning string         `json:"reasoning,omitempty"`
	Data      map[string]any `json:"data,omitempty"` // Structured details
}

// Log is the activity logger
type Log struct {
	path  string
	clock clockwork.Clock
	mu    sync.Mutex
}

// New creates an activity logger writing to <statePath>/system/activity.jsonl
func New(statePath string) *Log {
	return NewWithClock(statePath, clockwork.NewRealClock())
}

// NewWithClock creates an activity logger stamping entries from clock
func NewWithClock(statePath string, clock clockwork.Clock) *Log {
	return &Log{
		path:  filepath.Join(statePath, "system", "activity.jsonl"),
		clock: clock,
	}
}

// Path returns the log file location
func (l *Log) Path() string {
	return l.path
}

// Log appends an entry to the activity log
func (l *Log) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock.Now()
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Helper methods for common event types

// LogInsert logs a stored experience
func (l *Log) LogInsert(entryID, kind string, score float64, summary string) error {
	return l.Log(Entry{
		Type:    TypeInsert,
		Summary: summary,
		EntryID: entryID,
		Data: map[string]any{
			"kind":            kind,
			"consensus_score": score,
		},
	})
}

// LogDrift logs a change of active candidate
func (l *Log) LogDrift(entryID, previous, next, cause string) error {
	return l.Log(Entry{
		Type:    TypeDrift,
		Summary: "active interpretation changed",
		EntryID: entryID,
		Source:  cause,
		Data: map[string]any{
			"previous": previous,
			"new":      next,
		},
	})
}

// LogEviction logs a candidate evicted from a full container
func (l *Log) LogEviction(entryID, candidate string, confidence float64) error {
	return l.Log(Entry{
		Type:    TypeEviction,
		Summary: "evicted " + candidate,
		EntryID: entryID,
		Data: map[string]any{
			"confidence": confidence,
		},
	})
}

// LogReinterpret logs an appended reinterpretation record
func (l *Log) LogReinterpret(entryID string, seq int, changed bool, top string) error {
	return l.Log(Entry{
		Type:    TypeReinterpret,
		Summary: "reinterpreted",
		EntryID: entryID,
		Data: map[string]any{
			"seq":     seq,
			"changed": changed,
			"top":     top,
		},
	})
}

// LogRerank logs a ranking script swap
func (l *Log) LogRerank(script string, changedActive, reordered int) error {
	return l.Log(Entry{
		Type:    TypeRerank,
		Summary: "ranking script now " + script,
		Source:  script,
		Data: map[string]any{
			"changed_active_count": changedActive,
			"reordering_count":     reordered,
		},
	})
}

// LogReclassify logs an explicit re-classification
func (l *Log) LogReclassify(entryID string, resolved bool, category string, score float64) error {
	return l.Log(Entry{
		Type:    TypeReclassify,
		Summary: "reclassified",
		EntryID: entryID,
		Data: map[string]any{
			"resolved":        resolved,
			"category":        category,
			"consensus_score": score,
		},
	})
}

// LogEvaluatorFailure logs an evaluator replaced by a neutral vote
func (l *Log) LogEvaluatorFailure(evaluatorID, kind string, err error) error {
	data := map[string]any{"kind": kind}
	if err != nil {
		data["error"] = err.Error()
	}
	return l.Log(Entry{
		Type:    TypeEvaluatorFailure,
		Summary: "evaluator " + evaluatorID + " failed",
		Source:  evaluatorID,
		Data:    data,
	})
}

// LogBlocked logs a speculation blocked by the safety authority
func (l *Log) LogBlocked(entryID, reason string) error {
	return l.Log(Entry{
		Type:      TypeBlocked,
		Summary:   "speculation blocked",
		EntryID:   entryID,
		Reasoning: reason,
	})
}

// Query methods

// Recent returns the last n entries
func (l *Log) Recent(n int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	if n >= len(entries) {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// Search searches entries by text (in summary and data)
func (l *Log) Search(query string, limit int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var result []Entry

	// Search from most recent
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := entries[i]
		if strings.Contains(strings.ToLower(e.Summary), query) {
			result = append(result, e)
			continue
		}
		if e.Data != nil {
			dataJSON, _ := json.Marshal(e.Data)
			if strings.Contains(strings.ToLower(string(dataJSON)), query) {
				result = append(result, e)
				continue
			}
		}
		if strings.Contains(strings.ToLower(e.Reasoning), query) {
			result = append(result, e)
		}
	}

	return result, nil
}

// ByType returns entries of a specific type, most recent first
func (l *Log) ByType(t Type, limit int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	var result []Entry
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		if entries[i].Type == t {
			result = append(result, entries[i])
		}
	}
	return result, nil
}

// ForEntry returns every activity about one timeline entry, oldest first
func (l *Log) ForEntry(entryID string) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	var result []Entry
	for _, e := range entries {
		if e.EntryID == entryID {
			result = append(result, e)
		}
	}
	return result, nil
}

// Range returns entries in a time range
func (l *Log) Range(start, end time.Time) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	var result []Entry
	for _, e := range entries {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			result = append(result, e)
		}
	}
	return result, nil
}

// readAll reads all entries from the log file
func (l *Log) readAll() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // skip malformed entries
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
