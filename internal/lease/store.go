// Package lease persists the single cross-process ownership record over
// input control. The record is advisory: TryClaim is a read-then-write
// sequence against a shared file, not an atomic transaction, so two
// processes claiming within the same instant can both observe an empty
// owner and the last writer wins. Writes are atomic (temp file + rename)
// so readers never see a torn record, but the claim race itself is a
// known trade-off; the safety gate compensates by refusing to trust records
// older than the staleness threshold.
package lease

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Filename is the lease record file name under the state directory.
const Filename = "lease.json"

// Record is the persisted ownership fact. Exactly one effective owner at any
// instant from the gate's perspective; an empty owner means unclaimed.
type Record struct {
	Owner            string  `json:"owner"`
	Paused           bool    `json:"paused"`
	InControlWindow  bool    `json:"in_control_window"`
	ControlRemaining float64 `json:"control_remaining_s"`
	UpdatedAt        float64 `json:"updated_at"`
}

// ReadError reports an unreadable or corrupt lease file. Callers must treat
// it as "unsafe", never as an empty record.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("lease: cannot read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Store manages the lease record file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store for the given record path, creating the parent
// directory if needed.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lease: create state directory: %w", err)
	}
	return &Store{path: path}, nil
}

// DefaultPath returns the lease file location under a root directory.
func DefaultPath(root string) string {
	return filepath.Join(root, "state", Filename)
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Read parses the persisted record. A missing file is a first run and yields
// a zero record with no error; any other failure (unreadable, corrupt JSON)
// is a *ReadError.
func (s *Store) Read() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) read() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, nil
		}
		return Record{}, &ReadError{Path: s.path, Err: err}
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, &ReadError{Path: s.path, Err: err}
	}
	return rec, nil
}

// TryClaim writes the caller as owner iff the lease is currently unclaimed
// or already held by the caller. Returns false without mutating otherwise.
// Best-effort: see the package comment for the cross-process race.
func (s *Store) TryClaim(owner string, now time.Time) (bool, error) {
	if owner == "" {
		return false, fmt.Errorf("lease: owner must be non-empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read()
	if err != nil {
		return false, err
	}
	if rec.Owner != "" && rec.Owner != owner {
		return false, nil
	}

	rec.Owner = owner
	rec.UpdatedAt = unix(now)
	if err := s.writeAtomic(rec); err != nil {
		return false, err
	}
	return true, nil
}

// Release clears the owner iff the current owner matches, or unconditionally
// when force is set. Returns false without mutating on an owner mismatch.
func (s *Store) Release(owner string, force bool, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read()
	if err != nil {
		return false, err
	}
	if !force && rec.Owner != owner {
		return false, nil
	}

	rec.Owner = ""
	rec.InControlWindow = false
	rec.ControlRemaining = 0
	rec.UpdatedAt = unix(now)
	if err := s.writeAtomic(rec); err != nil {
		return false, err
	}
	return true, nil
}

// SetPaused flips the paused flag. Paused blocks every effector regardless
// of owner.
func (s *Store) SetPaused(paused bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read()
	if err != nil {
		return err
	}
	rec.Paused = paused
	rec.UpdatedAt = unix(now)
	return s.writeAtomic(rec)
}

// UpdateWindow records the owner's current control-window status (owners
// alternate between an active window and a release window while holding the
// lease). remaining is advisory only; the gate never enforces it.
func (s *Store) UpdateWindow(inWindow bool, remaining float64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read()
	if err != nil {
		return err
	}
	rec.InControlWindow = inWindow
	rec.ControlRemaining = remaining
	rec.UpdatedAt = unix(now)
	return s.writeAtomic(rec)
}

// IsStale reports whether the record is older than maxAge. The boundary is
// exclusive: a record aged exactly maxAge is still fresh. Records without a
// timestamp are treated as fresh so a hand-written file does not wedge the
// gate. Never mutates the record.
func IsStale(rec Record, now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	if rec.UpdatedAt <= 0 {
		return false
	}
	age := unix(now) - rec.UpdatedAt
	return age > maxAge.Seconds()
}

func (s *Store) writeAtomic(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func unix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
