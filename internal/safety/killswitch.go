package safety

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// StopFilename is the kill-switch file name under the state directory.
const StopFilename = "emergency_stop.json"

// StopRecord is the persisted global kill-switch. When Stopped is true the
// gate denies every action unconditionally.
type StopRecord struct {
	Stopped   bool    `json:"stopped"`
	Reason    string  `json:"reason,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// KillSwitch manages the emergency-stop file.
type KillSwitch struct {
	path string
	mu   sync.Mutex
}

// NewKillSwitch creates a KillSwitch for the given file path.
func NewKillSwitch(path string) (*KillSwitch, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("killswitch: create state directory: %w", err)
	}
	return &KillSwitch{path: path}, nil
}

// DefaultStopPath returns the kill-switch file location under a root directory.
func DefaultStopPath(root string) string {
	return filepath.Join(root, "state", StopFilename)
}

// Path returns the backing file path.
func (k *KillSwitch) Path() string { return k.path }

// Set engages the kill-switch. A reason is mandatory: nobody should be able
// to stop the system without saying why.
func (k *KillSwitch) Set(reason string, now time.Time) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("killswitch: reason is required")
	}
	return k.write(StopRecord{Stopped: true, Reason: reason, Timestamp: unixSeconds(now)})
}

// Clear disengages the kill-switch.
func (k *KillSwitch) Clear(now time.Time) error {
	return k.write(StopRecord{Stopped: false, Timestamp: unixSeconds(now)})
}

// Read returns the current record. A missing file means "not stopped"; any
// other read failure is returned so the gate can fail closed.
func (k *KillSwitch) Read() (StopRecord, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := os.ReadFile(k.path)
	if err != nil {
		if os.IsNotExist(err) {
			return StopRecord{}, nil
		}
		return StopRecord{}, fmt.Errorf("killswitch: read %s: %w", k.path, err)
	}
	var rec StopRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return StopRecord{}, fmt.Errorf("killswitch: parse %s: %w", k.path, err)
	}
	return rec, nil
}

func (k *KillSwitch) write(rec StopRecord) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, k.path)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
