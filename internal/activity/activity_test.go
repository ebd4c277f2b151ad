package activity

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// helper: create a Log backed by a temp directory
func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	dir := t.TempDir()
	return New(dir), filepath.Join(dir, "system", "activity.jsonl")
}

// helper: read all raw entries from the JSONL file
func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		entries = append(entries, e)
	}
	return entries
}

// --- Basic write/read ---

func TestLog_WritesJSONL(t *testing.T) {
	log, path := newTestLog(t)

	ts := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	err := log.Log(Entry{
		Timestamp: ts,
		Type:      TypeInsert,
		Summary:   "standup",
		EntryID:   "e1",
	})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Type != TypeInsert {
		t.Errorf("type: got %q, want %q", e.Type, TypeInsert)
	}
	if e.EntryID != "e1" {
		t.Errorf("entry id: got %q", e.EntryID)
	}
	if !e.Timestamp.Equal(ts) {
		t.Errorf("timestamp: got %v, want %v", e.Timestamp, ts)
	}
}

func TestLog_ClockTimestamp(t *testing.T) {
	ts := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	log := NewWithClock(dir, clockwork.NewFakeClockAt(ts))

	if err := log.Log(Entry{Type: TypeRerank, Summary: "auto-ts"}); err != nil {
		t.Fatal(err)
	}

	entries := readEntries(t, log.Path())
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry")
	}
	if !entries[0].Timestamp.Equal(ts) {
		t.Errorf("auto-timestamp %v, want %v", entries[0].Timestamp, ts)
	}
}

func TestLog_SkipsMalformedLines(t *testing.T) {
	log, path := newTestLog(t)

	if err := log.Log(Entry{Type: TypeInsert, Summary: "good"}); err != nil {
		t.Fatal(err)
	}

	// Inject a malformed line
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("not json at all\n")
	f.Close()

	if err := log.Log(Entry{Type: TypeInsert, Summary: "good2"}); err != nil {
		t.Fatal(err)
	}

	entries, err := log.readAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}
}

func TestLog_MissingFileReturnsNil(t *testing.T) {
	log, _ := newTestLog(t)
	entries, err := log.readAll()
	if err != nil {
		t.Fatalf("readAll on missing file: %v", err)
	}
	if entries != nil {
		t.Errorf("expected nil entries for missing file")
	}
}

// --- Helper methods ---

func TestLogInsert(t *testing.T) {
	log, _ := newTestLog(t)
	if err := log.LogInsert("e1", "ambiguous", 0.42, "walked somewhere"); err != nil {
		t.Fatal(err)
	}
	entries, _ := log.readAll()
	e := entries[0]
	if e.Type != TypeInsert || e.EntryID != "e1" {
		t.Errorf("type/entry: %q/%q", e.Type, e.EntryID)
	}
	if e.Data["kind"] != "ambiguous" {
		t.Errorf("kind: %v", e.Data["kind"])
	}
	if e.Data["consensus_score"] != 0.42 {
		t.Errorf("score: %v", e.Data["consensus_score"])
	}
}

func TestLogDrift(t *testing.T) {
	log, _ := newTestLog(t)
	if err := log.LogDrift("e1", "bus", "walk", "add_candidate"); err != nil {
		t.Fatal(err)
	}
	entries, _ := log.readAll()
	e := entries[0]
	if e.Type != TypeDrift || e.Source != "add_candidate" {
		t.Errorf("type/source: %q/%q", e.Type, e.Source)
	}
	if e.Data["previous"] != "bus" || e.Data["new"] != "walk" {
		t.Errorf("data: %v", e.Data)
	}
}

func TestLogRerank(t *testing.T) {
	log, _ := newTestLog(t)
	if err := log.LogRerank("skeptic", 2, 3); err != nil {
		t.Fatal(err)
	}
	entries, _ := log.readAll()
	e := entries[0]
	if e.Data["changed_active_count"] != float64(2) {
		// JSON roundtrip makes numbers float64
		t.Errorf("changed_active_count: %v", e.Data["changed_active_count"])
	}
	if e.Data["reordering_count"] != float64(3) {
		t.Errorf("reordering_count: %v", e.Data["reordering_count"])
	}
}

func TestLogEvaluatorFailure(t *testing.T) {
	log, _ := newTestLog(t)
	if err := log.LogEvaluatorFailure("ev1", "timeout", errors.New("deadline exceeded")); err != nil {
		t.Fatal(err)
	}
	if err := log.LogEvaluatorFailure("ev2", "unavailable", nil); err != nil {
		t.Fatal(err)
	}
	entries, _ := log.readAll()
	if entries[0].Data["error"] != "deadline exceeded" {
		t.Errorf("error field: %v", entries[0].Data["error"])
	}
	if _, ok := entries[1].Data["error"]; ok {
		t.Errorf("nil error should not be recorded")
	}
}

func TestLogBlocked(t *testing.T) {
	log, _ := newTestLog(t)
	if err := log.LogBlocked("e1", "sensitive category"); err != nil {
		t.Fatal(err)
	}
	entries, _ := log.readAll()
	if entries[0].Reasoning != "sensitive category" {
		t.Errorf("reasoning: %q", entries[0].Reasoning)
	}
}

// --- Queries ---

func TestRecent(t *testing.T) {
	log, _ := newTestLog(t)
	for i := 0; i < 10; i++ {
		log.Log(Entry{Type: TypeInsert, Summary: "entry"})
	}
	entries, err := log.Recent(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("expected 3, got %d", len(entries))
	}

	all, _ := log.Recent(100)
	if len(all) != 10 {
		t.Errorf("expected 10, got %d", len(all))
	}
}

func TestByTypeAndForEntry(t *testing.T) {
	log, _ := newTestLog(t)
	log.LogInsert("e1", "ambiguous", 0.3, "first")
	log.LogEviction("e1", "hunch", 0.1)
	log.LogInsert("e2", "resolved", 0.9, "second")
	log.LogReclassify("e1", true, "work", 0.8)

	inserts, err := log.ByType(TypeInsert, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(inserts) != 2 || inserts[0].EntryID != "e2" {
		t.Errorf("ByType should return most recent first: %+v", inserts)
	}

	limited, _ := log.ByType(TypeInsert, 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d", len(limited))
	}

	forE1, err := log.ForEntry("e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(forE1) != 3 || forE1[0].Type != TypeInsert || forE1[2].Type != TypeReclassify {
		t.Errorf("ForEntry: %+v", forE1)
	}
}

func TestSearch(t *testing.T) {
	log, _ := newTestLog(t)
	log.LogInsert("e1", "resolved", 0.9, "Quarterly planning")
	log.LogDrift("e2", "bus", "Rideshare", "rerank")
	log.LogBlocked("e3", "needs consent for health")

	for query, want := range map[string]string{
		"planning":  "e1",
		"rideshare": "e2",
		"consent":   "e3",
	} {
		got, err := log.Search(query, 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].EntryID != want {
			t.Errorf("search %q: %+v", query, got)
		}
	}
}

func TestRange(t *testing.T) {
	log, _ := newTestLog(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		log.Log(Entry{Type: TypeInsert, Timestamp: base.Add(time.Duration(i) * time.Hour)})
	}
	got, err := log.Range(base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3, got %d", len(got))
	}
}

func TestConcurrentWrites(t *testing.T) {
	log, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Log(Entry{Type: TypeInsert, Summary: "concurrent"})
		}()
	}
	wg.Wait()

	if n := len(readEntries(t, path)); n != 20 {
		t.Errorf("expected 20 entries, got %d", n)
	}
}
