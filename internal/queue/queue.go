// Package queue is the durable, append-only log of actions that were
// proposed but deferred by the safety gate. One JSON record per line; a
// record is "completed" by appending a superseding line with completed_at
// set, so the log survives crashes and keeps its audit trail. The file is
// never rewritten in place except by an explicit prune pass.
package queue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deskgate/internal/model"
)

// Filename is the queue log name under the logs directory.
const Filename = "deferred_actions.jsonl"

// DeferredRecord is an Action plus queue metadata.
type DeferredRecord struct {
	Action      model.Action `json:"action"`
	RunID       string       `json:"run_id,omitempty"`
	EnqueuedAt  float64      `json:"enqueued_at"`
	DedupeKey   string       `json:"dedupe_key"`
	Reason      string       `json:"reason,omitempty"`
	CompletedAt *float64     `json:"completed_at,omitempty"`
}

// Pending reports whether the record has not been completed.
func (r DeferredRecord) Pending() bool { return r.CompletedAt == nil }

// Options are the suppression knobs from the safety config.
type Options struct {
	// DedupeWindow suppresses a new enqueue while a pending record with the
	// same dedupe key was enqueued within this window. Zero disables dedupe.
	DedupeWindow time.Duration
	// Cooldown suppresses re-enqueue while a record with the same dedupe key
	// completed within this window. Zero disables the cooldown.
	Cooldown time.Duration
}

// Filter narrows List and Drain to specific records. Zero values match all.
// A non-empty RunID additionally switches completion tracking from global
// (by action id) to per-run (by action id + run id).
type Filter struct {
	RunID string
	ID    string
}

// Store manages the queue log file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store for the given log path, creating the parent
// directory if needed.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("queue: create log directory: %w", err)
	}
	return &Store{path: path}, nil
}

// DefaultPath returns the queue log location under a root directory.
func DefaultPath(root string) string {
	return filepath.Join(root, "logs", Filename)
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Enqueue appends the record unless suppressed by dedupe or cooldown.
// Returns whether it was actually appended. The record is written verbatim;
// a denied action is never mutated on its way into the queue.
func (s *Store) Enqueue(rec DeferredRecord, opts Options) (bool, error) {
	if rec.Action.ID == "" {
		rec.Action.ID = rec.Action.DedupeKey()
	}
	if rec.DedupeKey == "" {
		rec.DedupeKey = rec.Action.DedupeKey()
	}
	if rec.EnqueuedAt == 0 {
		rec.EnqueuedAt = unixSeconds(time.Now())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return false, err
	}

	now := rec.EnqueuedAt
	for _, existing := range records {
		if existing.DedupeKey != rec.DedupeKey {
			continue
		}
		if existing.Pending() && opts.DedupeWindow > 0 &&
			now-existing.EnqueuedAt <= opts.DedupeWindow.Seconds() {
			return false, nil
		}
		if !existing.Pending() && opts.Cooldown > 0 &&
			now-*existing.CompletedAt <= opts.Cooldown.Seconds() {
			return false, nil
		}
	}

	if err := s.appendLine(rec); err != nil {
		return false, err
	}
	return true, nil
}

// List returns pending records matching the filter, in enqueue order, up to
// max (0 = no cap). Read-only.
func (s *Store) List(filter Filter, max int) ([]DeferredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	pending := selectPending(records, filter)
	if max > 0 && len(pending) > max {
		pending = pending[:max]
	}
	return pending, nil
}

// Summary describes the queue for operator preflight output.
type Summary struct {
	Exists     bool   `json:"exists"`
	Path       string `json:"path"`
	TotalLines int    `json:"total_lines"`
	Unique     int    `json:"unique_actions"`
	Pending    int    `json:"pending"`
	Completed  int    `json:"completed"`
}

// Summarize reports queue counts without mutating anything.
func (s *Store) Summarize() (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{Path: s.path}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return sum, nil
	}
	sum.Exists = true

	lines, err := s.readLines()
	if err != nil {
		return sum, err
	}
	sum.TotalLines = len(lines)

	records, err := s.load()
	if err != nil {
		return sum, err
	}
	sum.Unique = len(records)
	sum.Pending = len(selectPending(records, Filter{}))
	sum.Completed = sum.Unique - sum.Pending
	return sum, nil
}

// Prune rewrites the log keeping one line per record (the latest state),
// dropping superseded duplicates. A timestamped .bak_ copy of the old file
// is written first. Returns how many lines were dropped.
func (s *Store) Prune() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, nil
	}

	records, err := s.load()
	if err != nil {
		return 0, err
	}

	backup := s.path + ".bak_" + time.Now().Format("20060102_150405")
	original, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("queue: read for backup: %w", err)
	}
	if err := os.WriteFile(backup, original, 0o644); err != nil {
		return 0, fmt.Errorf("queue: write backup: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	kept := 0
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			return 0, err
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			f.Close()
			return 0, err
		}
		kept++
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, err
	}
	return len(lines) - kept, nil
}

// markCompleted appends a superseding line with completed_at set. The
// original enqueue line is retained for the audit trail.
func (s *Store) markCompleted(rec DeferredRecord, now time.Time) error {
	ts := unixSeconds(now)
	rec.CompletedAt = &ts
	return s.appendLine(rec)
}

// load folds the log lines into one record per (action id, run id), later
// lines superseding earlier ones, in first-enqueue order. Unparseable lines
// are skipped, matching the tolerance the drain tooling always had.
func (s *Store) load() ([]DeferredRecord, error) {
	lines, err := s.readLines()
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]int)
	var records []DeferredRecord
	for _, line := range lines {
		var rec DeferredRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Action.ID == "" {
			rec.Action.ID = rec.Action.DedupeKey()
		}
		if rec.DedupeKey == "" {
			rec.DedupeKey = rec.Action.DedupeKey()
		}
		key := rec.Action.ID + "␟" + rec.RunID
		if idx, ok := byKey[key]; ok {
			records[idx] = rec
			continue
		}
		byKey[key] = len(records)
		records = append(records, rec)
	}
	return records, nil
}

// selectPending filters folded records down to the pending ones matching
// the filter. Without a run-id filter, completion is global: any completed
// record for an action id suppresses every pending duplicate of that id.
func selectPending(records []DeferredRecord, filter Filter) []DeferredRecord {
	completedIDs := make(map[string]bool)
	for _, r := range records {
		if !r.Pending() {
			completedIDs[r.Action.ID] = true
		}
	}

	seen := make(map[string]bool)
	var pending []DeferredRecord
	for _, r := range records {
		if !r.Pending() {
			continue
		}
		if filter.ID != "" && r.Action.ID != filter.ID {
			continue
		}
		if filter.RunID != "" {
			if r.RunID != filter.RunID {
				continue
			}
		} else if completedIDs[r.Action.ID] {
			continue
		}
		if seen[r.Action.ID] && filter.RunID == "" {
			continue
		}
		seen[r.Action.ID] = true
		pending = append(pending, r)
	}
	return pending
}

func (s *Store) readLines() ([][]byte, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: open log: %w", err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("queue: scan log: %w", err)
	}
	return lines, nil
}

func (s *Store) appendLine(rec DeferredRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("queue: marshal record: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("queue: open log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("queue: write record: %w", err)
	}
	return f.Sync()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
