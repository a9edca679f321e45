// Package audit keeps the tamper-evident record of everything the
// orchestrator decided or did: gate verdicts, tick outcomes, drain results,
// verification outcomes. Append-only JSONL with SHA-256 hash chaining; each
// entry's prev_hash is the hash of the previous line.
package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"errors"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deskgate/internal/model"
)

// GenesisHash is the prev_hash for the first entry in a new log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Event classifies an audit entry.
type Event string

const (
	EventVerdict  Event = "verdict"
	EventTick     Event = "tick"
	EventDrain    Event = "drain"
	EventEffect   Event = "effect"
	EventVerify   Event = "verify"
	EventDeferred Event = "deferred"
	EventStop     Event = "stop"
)

// Entry is one audit line.
type Entry struct {
	Timestamp string            `json:"ts"`
	Event     Event             `json:"event"`
	RunID     string            `json:"run_id,omitempty"`
	Tick      int               `json:"tick,omitempty"`
	ActionID  string            `json:"action_id,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	Verdict   *model.Verdict    `json:"verdict,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	PrevHash  string            `json:"prev_hash"`
}

// Log is an append-only audit log writer.
type Log struct {
	path     string
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// DefaultPath returns the audit log location under a root directory.
func DefaultPath(root string) string {
	return filepath.Join(root, "logs", "audit.jsonl")
}

// Open opens (or creates) the log for appending, recovering the chain tail
// from the last existing line.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash, err := tailHash(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	return &Log{path: path, file: file, prevHash: prevHash}, nil
}

// tailHash recovers the chain head from the last line of an existing log.
// A missing or empty log starts the chain at GenesisHash.
func tailHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("audit: read existing log: %w", err)
	}
	data = bytes.TrimRight(data, "\n")
	if len(data) == 0 {
		return GenesisHash, nil
	}
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return HashLine(data), nil
}

// Record appends an entry with hash chaining and syncs to disk.
func (l *Log) Record(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	entry.PrevHash = l.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}

	l.prevHash = HashLine(line)
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Verify re-reads the log and checks the hash chain, returning the number of
// valid entries and the first break, if any.
func Verify(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("audit: open for verify: %w", err)
	}
	defer f.Close()

	prevHash := GenesisHash
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return count, fmt.Errorf("audit: entry %d unparseable: %w", count+1, err)
		}
		if entry.PrevHash != prevHash {
			return count, fmt.Errorf("audit: chain broken at entry %d", count+1)
		}
		saved := make([]byte, len(line))
		copy(saved, line)
		prevHash = HashLine(saved)
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("audit: scan: %w", err)
	}
	return count, nil
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
