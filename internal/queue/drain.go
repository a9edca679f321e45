package queue

import (
	"context"
	"time"

	"deskgate/internal/model"
)

// Mode selects whether a drain only reports verdicts or actually executes.
type Mode string

const (
	DryRun Mode = "dry_run"
	Live   Mode = "live"
)

// GateFunc re-evaluates the safety gate for one action at drain time.
type GateFunc func(ctx context.Context, action model.Action) model.Verdict

// DrainEntry is the per-record outcome of one drain pass.
type DrainEntry struct {
	ID       string        `json:"id"`
	RunID    string        `json:"run_id,omitempty"`
	Type     string        `json:"type"`
	Verdict  model.Verdict `json:"verdict"`
	Executed bool          `json:"executed"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Seconds  float64       `json:"seconds,omitempty"`
}

// DrainReport summarizes one drain call.
type DrainReport struct {
	Mode      Mode         `json:"mode"`
	Pending   int          `json:"pending"`
	Attempted int          `json:"attempted"`
	Executed  int          `json:"executed"`
	Denied    int          `json:"denied"`
	Failed    int          `json:"failed"`
	Entries   []DrainEntry `json:"entries"`
}

// Drain re-evaluates up to max matching pending records, in enqueue order.
// In dry-run mode it only reports each verdict and never touches the log.
// In live mode an allowed record is executed and marked completed; a denied
// record stays pending. The drain stops at the first effector failure within
// this call; the failing record stays pending and is never retried in-call,
// so a broken effector cannot thrash the queue.
func (s *Store) Drain(ctx context.Context, mode Mode, filter Filter, max int, gate GateFunc, effector model.Effector) (*DrainReport, error) {
	pending, err := s.List(filter, 0)
	if err != nil {
		return nil, err
	}

	report := &DrainReport{Mode: mode, Pending: len(pending)}
	for _, rec := range pending {
		if max > 0 && report.Attempted >= max {
			break
		}
		report.Attempted++

		entry := DrainEntry{
			ID:    rec.Action.ID,
			RunID: rec.RunID,
			Type:  rec.Action.Type,
		}
		entry.Verdict = gate(ctx, rec.Action)
		if !entry.Verdict.Allow {
			report.Denied++
			report.Entries = append(report.Entries, entry)
			continue
		}

		if mode == DryRun {
			report.Entries = append(report.Entries, entry)
			continue
		}

		start := time.Now()
		outcome, execErr := effector.Execute(ctx, rec.Action)
		entry.Executed = true
		entry.Seconds = time.Since(start).Seconds()
		report.Executed++

		if execErr != nil || !outcome.OK {
			report.Failed++
			if execErr != nil {
				entry.Error = execErr.Error()
			} else {
				entry.Error = outcome.Detail
			}
			report.Entries = append(report.Entries, entry)
			break
		}

		entry.OK = true
		s.mu.Lock()
		err := s.markCompleted(rec, time.Now())
		s.mu.Unlock()
		if err != nil {
			entry.Error = err.Error()
			report.Entries = append(report.Entries, entry)
			return report, err
		}
		report.Entries = append(report.Entries, entry)
	}
	return report, nil
}
