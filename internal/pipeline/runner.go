package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"deskgate/internal/audit"
	"deskgate/internal/model"
	"deskgate/internal/safety"
)

// TickResult is the recorded outcome of one tick.
type TickResult struct {
	Tick    int               `json:"tick"`
	Outcome model.TickOutcome `json:"outcome"`
	Verdict *model.Verdict    `json:"verdict,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	Seconds float64           `json:"seconds"`
}

// RunReport summarizes a full run.
type RunReport struct {
	RunID    string       `json:"run_id"`
	Live     bool         `json:"live"`
	Ticks    []TickResult `json:"ticks"`
	Pass     int          `json:"pass"`
	Deferred int          `json:"deferred"`
	Fail     int          `json:"fail"`
	Stopped  bool         `json:"stopped,omitempty"`
}

// ExitCode maps the aggregate outcome to the process exit code: non-zero
// only when a tick ended FAIL. Deferrals are expected operation, not errors.
func (r *RunReport) ExitCode() int {
	if r.Fail > 0 {
		return 2
	}
	return 0
}

// Runner executes the configured module sequence once per tick. Single
// threaded: tick N's effects are fully applied before tick N+1 begins, and
// a blocking module call suspends the whole tick.
type Runner struct {
	Instances     []Instance
	MaxIterations int           // 0 = run until cancelled
	Interval      time.Duration // sleep between ticks
	CarryOver     []string      // context keys preserved across ticks
	Live          bool
	RunID         string
	Stop          *safety.KillSwitch // checked at each tick boundary
	Audit         *audit.Log         // optional
	Log           zerolog.Logger
}

// RunOnce executes one tick against the given context. A module error is
// recorded and the tick continues, except for critical modules, whose
// failure ends the tick early with FAIL.
func (r *Runner) RunOnce(ctx context.Context, pctx *Context) TickResult {
	start := time.Now()
	result := TickResult{Tick: pctx.Tick}

	criticalFailed := false
	for _, inst := range r.Instances {
		err := inst.Module.RunOnce(ctx, pctx)
		if err == nil {
			continue
		}
		pctx.RecordError(inst.Name, err)
		r.Log.Warn().
			Str("module", inst.Name).
			Str("role", string(inst.Role)).
			Int("tick", pctx.Tick).
			Err(err).
			Msg("module failed")
		if inst.Critical {
			criticalFailed = true
			break
		}
	}

	switch {
	case criticalFailed:
		result.Outcome = model.TickFail
	case pctx.Verdict != nil && !pctx.Verdict.Allow && !pctx.Deferred:
		// A denial nothing was able to queue is an unresolved denial.
		result.Outcome = model.TickFail
	case pctx.Deferred:
		result.Outcome = model.TickDeferred
	default:
		result.Outcome = model.TickPass
	}

	result.Verdict = pctx.Verdict
	if len(pctx.Errors) > 0 {
		result.Errors = pctx.Errors
	}
	result.Seconds = time.Since(start).Seconds()
	return result
}

// Run loops for MaxIterations ticks (or until cancelled when 0), sleeping
// Interval between ticks. Cancellation and the kill-switch are checked at
// every tick boundary: an in-flight tick finishes, no new tick starts.
func (r *Runner) Run(ctx context.Context) *RunReport {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	report := &RunReport{RunID: r.RunID, Live: r.Live}

	defer r.shutdown()

	var prev *Context
	for i := 0; r.MaxIterations == 0 || i < r.MaxIterations; i++ {
		if ctx.Err() != nil {
			report.Stopped = true
			break
		}
		if r.stopEngaged() {
			r.Log.Warn().Int("tick", i).Msg("emergency stop engaged; ending run")
			report.Stopped = true
			break
		}

		pctx := NewContext(r.RunID, i, r.Live)
		if prev != nil && len(r.CarryOver) > 0 {
			prev.CarryInto(pctx, r.CarryOver)
		}

		result := r.RunOnce(ctx, pctx)
		report.Ticks = append(report.Ticks, result)
		switch result.Outcome {
		case model.TickPass:
			report.Pass++
		case model.TickDeferred:
			report.Deferred++
		case model.TickFail:
			report.Fail++
		}

		r.Log.Info().
			Int("tick", i).
			Str("outcome", string(result.Outcome)).
			Float64("seconds", result.Seconds).
			Msg("tick complete")
		r.recordTick(result)

		prev = pctx

		if r.Interval > 0 && (r.MaxIterations == 0 || i+1 < r.MaxIterations) {
			select {
			case <-time.After(r.Interval):
			case <-ctx.Done():
			}
		}
	}
	return report
}

func (r *Runner) stopEngaged() bool {
	if r.Stop == nil {
		return false
	}
	rec, err := r.Stop.Read()
	if err != nil {
		// Unreadable kill-switch state: fail closed, stop the run.
		r.Log.Error().Err(err).Msg("kill-switch unreadable; ending run")
		return true
	}
	return rec.Stopped
}

func (r *Runner) recordTick(result TickResult) {
	if r.Audit == nil {
		return
	}
	entry := audit.Entry{
		Event:   audit.EventTick,
		RunID:   r.RunID,
		Tick:    result.Tick,
		Outcome: string(result.Outcome),
		Verdict: result.Verdict,
	}
	if len(result.Errors) > 0 {
		entry.Fields = result.Errors
	}
	if err := r.Audit.Record(entry); err != nil {
		r.Log.Error().Err(err).Msg("audit write failed")
	}
}

// shutdown calls Shutdown on every module in reverse order; failures are
// logged, not propagated.
func (r *Runner) shutdown() {
	for i := len(r.Instances) - 1; i >= 0; i-- {
		inst := r.Instances[i]
		if err := inst.Module.Shutdown(); err != nil {
			r.Log.Warn().Str("module", inst.Name).Err(err).Msg("module shutdown failed")
		}
	}
}
