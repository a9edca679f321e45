package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"deskgate/internal/model"
	"deskgate/internal/safety"
)

func testRunner(instances []Instance, iters int) *Runner {
	return &Runner{
		Instances:     instances,
		MaxIterations: iters,
		Log:           zerolog.Nop(),
	}
}

func TestEmptyPipelinePasses(t *testing.T) {
	r := testRunner(nil, 5)
	report := r.Run(context.Background())
	if len(report.Ticks) != 5 {
		t.Fatalf("expected 5 ticks, got %d", len(report.Ticks))
	}
	if report.Pass != 5 || report.Deferred != 0 || report.Fail != 0 {
		t.Errorf("expected 5 PASS, got %+v", report)
	}
	if report.ExitCode() != 0 {
		t.Errorf("expected exit 0, got %d", report.ExitCode())
	}
	if report.RunID == "" {
		t.Error("expected a generated run id")
	}
}

func TestModulesRunInOrder(t *testing.T) {
	var runs []string
	mk := func(name string) Instance {
		return Instance{Name: name, Module: &stubModule{instance: name, runs: &runs}}
	}
	r := testRunner([]Instance{mk("first"), mk("second"), mk("third")}, 2)
	r.Run(context.Background())

	want := []string{"first", "second", "third", "first", "second", "third"}
	if len(runs) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), runs)
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], runs[i])
		}
	}
}

func TestNonCriticalErrorContinues(t *testing.T) {
	var runs []string
	failing := &stubModule{instance: "flaky", runs: &runs, runErr: errors.New("boom")}
	after := &stubModule{instance: "after", runs: &runs}
	r := testRunner([]Instance{
		{Name: "flaky", Module: failing},
		{Name: "after", Module: after},
	}, 1)

	report := r.Run(context.Background())
	if len(runs) != 2 {
		t.Errorf("expected the tick to continue past the failure, got %v", runs)
	}
	tick := report.Ticks[0]
	if tick.Outcome != model.TickPass {
		t.Errorf("expected PASS for a non-critical failure, got %s", tick.Outcome)
	}
	if tick.Errors["flaky"] == "" {
		t.Error("expected the failure to be recorded")
	}
}

func TestCriticalErrorFailsTick(t *testing.T) {
	var runs []string
	failing := &stubModule{instance: "critical", runs: &runs, runErr: errors.New("boom")}
	after := &stubModule{instance: "after", runs: &runs}
	r := testRunner([]Instance{
		{Name: "critical", Critical: true, Module: failing},
		{Name: "after", Module: after},
	}, 1)

	report := r.Run(context.Background())
	if len(runs) != 1 {
		t.Errorf("expected the tick to stop at the critical failure, got %v", runs)
	}
	if report.Ticks[0].Outcome != model.TickFail {
		t.Errorf("expected FAIL, got %s", report.Ticks[0].Outcome)
	}
	if report.ExitCode() != 2 {
		t.Errorf("expected exit 2, got %d", report.ExitCode())
	}
}

// verdictModule drives the outcome classification directly.
type verdictModule struct {
	verdict  model.Verdict
	deferred bool
}

func (m *verdictModule) Init(ModuleConfig) error { return nil }
func (m *verdictModule) RunOnce(_ context.Context, pctx *Context) error {
	pctx.Verdict = &m.verdict
	pctx.Deferred = m.deferred
	return nil
}
func (m *verdictModule) Shutdown() error { return nil }

func TestDeniedAndDeferredIsDeferred(t *testing.T) {
	mod := &verdictModule{verdict: model.Denied(model.ReasonNotInWindow, ""), deferred: true}
	r := testRunner([]Instance{{Name: "effect", Module: mod}}, 3)
	report := r.Run(context.Background())
	if report.Deferred != 3 || report.Fail != 0 {
		t.Errorf("expected 3 DEFERRED, got %+v", report)
	}
	if report.ExitCode() != 0 {
		t.Errorf("expected deferrals to exit 0, got %d", report.ExitCode())
	}
}

func TestDeniedWithoutDeferralFails(t *testing.T) {
	mod := &verdictModule{verdict: model.Denied(model.ReasonNotInWindow, "")}
	r := testRunner([]Instance{{Name: "effect", Module: mod}}, 1)
	report := r.Run(context.Background())
	if report.Fail != 1 {
		t.Errorf("expected an unqueued denial to FAIL, got %+v", report)
	}
}

func TestAllowedVerdictPasses(t *testing.T) {
	mod := &verdictModule{verdict: model.Allowed()}
	r := testRunner([]Instance{{Name: "effect", Module: mod}}, 1)
	report := r.Run(context.Background())
	if report.Pass != 1 {
		t.Errorf("expected PASS, got %+v", report)
	}
}

func TestCancellationStopsBetweenTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := testRunner([]Instance{{Name: "a", Module: &stubModule{instance: "a"}}}, 10)
	report := r.Run(ctx)
	if len(report.Ticks) != 0 {
		t.Errorf("expected no ticks after cancellation, got %d", len(report.Ticks))
	}
	if !report.Stopped {
		t.Error("expected the report to be marked stopped")
	}
}

func TestKillSwitchStopsRun(t *testing.T) {
	stop, err := safety.NewKillSwitch(filepath.Join(t.TempDir(), "emergency_stop.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := stop.Set("test halt", time.Now()); err != nil {
		t.Fatal(err)
	}

	r := testRunner([]Instance{{Name: "a", Module: &stubModule{instance: "a"}}}, 10)
	r.Stop = stop
	report := r.Run(context.Background())
	if len(report.Ticks) != 0 {
		t.Errorf("expected no ticks while stopped, got %d", len(report.Ticks))
	}
	if !report.Stopped {
		t.Error("expected the report to be marked stopped")
	}
}

// carryModule writes a value on tick 0 and checks its presence afterwards.
type carryModule struct {
	sawCarried bool
}

func (m *carryModule) Init(ModuleConfig) error { return nil }
func (m *carryModule) RunOnce(_ context.Context, pctx *Context) error {
	if pctx.Tick == 0 {
		pctx.Set("carry", "state", "kept")
		return nil
	}
	if v, ok := pctx.Get("carry", "state"); ok && v == "kept" {
		m.sawCarried = true
	}
	return nil
}
func (m *carryModule) Shutdown() error { return nil }

func TestCarryOverBetweenTicks(t *testing.T) {
	mod := &carryModule{}
	r := testRunner([]Instance{{Name: "carry", Module: mod}}, 2)
	r.CarryOver = []string{"carry.state"}
	r.Run(context.Background())
	if !mod.sawCarried {
		t.Error("expected the carried value to be visible on tick 1")
	}
}
