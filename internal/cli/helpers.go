package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"deskgate/internal/lease"
	"deskgate/internal/queue"
	"deskgate/internal/safety"
)

// stores bundles the durable cross-process state every command touches.
type stores struct {
	Leases *lease.Store
	Stop   *safety.KillSwitch
	Queue  *queue.Store
	Safety *safety.Config
}

// openStores resolves paths under --root and loads the safety policy.
func openStores() (*stores, error) {
	leases, err := lease.NewStore(lease.DefaultPath(rootDir))
	if err != nil {
		return nil, err
	}
	stop, err := safety.NewKillSwitch(safety.DefaultStopPath(rootDir))
	if err != nil {
		return nil, err
	}
	q, err := queue.NewStore(queue.DefaultPath(rootDir))
	if err != nil {
		return nil, err
	}

	cfgPath := safetyPath
	if cfgPath == "" {
		cfgPath = filepath.Join(rootDir, "config", "safety.yaml")
	}
	cfg, err := safety.LoadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load safety config: %w", err)
	}

	return &stores{Leases: leases, Stop: stop, Queue: q, Safety: cfg}, nil
}

// queueOptions converts the safety policy's queue knobs.
func (s *stores) queueOptions() queue.Options {
	return queue.Options{
		DedupeWindow: s.Safety.Queue.DedupeWindow.Std(),
		Cooldown:     s.Safety.Queue.Cooldown.Std(),
	}
}

// newGate builds the safety gate with the file-backed requirement evaluator.
func newGate(s *stores, caller string) *safety.Gate {
	eval := fileEvaluator(filepath.Join(rootDir, "state", "requirements.json"))
	return safety.NewGate(s.Leases, s.Stop, caller, s.Safety, eval)
}

// fileEvaluator answers requirement checks from a JSON file of booleans,
// re-read on every check so external sensors can update it between ticks.
// A missing file, unparseable file, or absent key all evaluate false.
type fileEvaluator string

func (f fileEvaluator) Evaluate(_ context.Context, name string) bool {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return false
	}
	var flags map[string]bool
	if err := json.Unmarshal(data, &flags); err != nil {
		return false
	}
	return flags[name]
}
