package queue

import (
	"context"
	"errors"
	"os"
	"testing"

	"deskgate/internal/model"
)

type fakeEffector struct {
	calls    []string
	failOn   string
	errOn    string
	executed int
}

func (f *fakeEffector) Execute(_ context.Context, action model.Action) (model.EffectOutcome, error) {
	f.calls = append(f.calls, action.Type)
	f.executed++
	if action.Type == f.errOn {
		return model.EffectOutcome{}, errors.New("effector exploded")
	}
	if action.Type == f.failOn {
		return model.EffectOutcome{OK: false, Detail: "window not found"}, nil
	}
	return model.EffectOutcome{OK: true}, nil
}

func allowAll(_ context.Context, _ model.Action) model.Verdict { return model.Allowed() }

func denyAll(_ context.Context, _ model.Action) model.Verdict {
	return model.Denied(model.ReasonNotInWindow, "")
}

func TestDrainDryRunNeverMutates(t *testing.T) {
	s := newTestStore(t)
	s.Enqueue(testRecord("click", "run1", map[string]string{"x": "1"}), Options{})
	s.Enqueue(testRecord("scroll", "run1", map[string]string{"y": "2"}), Options{})

	before, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}

	eff := &fakeEffector{}
	report, err := s.Drain(context.Background(), DryRun, Filter{}, 0, allowAll, eff)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if report.Pending != 2 || report.Attempted != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Executed != 0 || eff.executed != 0 {
		t.Error("dry run must not execute anything")
	}

	after, _ := os.ReadFile(s.Path())
	if string(before) != string(after) {
		t.Error("dry run mutated the queue log")
	}
}

func TestDrainLiveCompletesAllowed(t *testing.T) {
	s := newTestStore(t)
	s.Enqueue(testRecord("click", "run1", map[string]string{"x": "1"}), Options{})
	s.Enqueue(testRecord("scroll", "run1", map[string]string{"y": "2"}), Options{})

	eff := &fakeEffector{}
	report, err := s.Drain(context.Background(), Live, Filter{}, 0, allowAll, eff)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if report.Executed != 2 || report.Failed != 0 {
		t.Errorf("unexpected report: %+v", report)
	}

	pending, _ := s.List(Filter{}, 0)
	if len(pending) != 0 {
		t.Errorf("expected all records completed, %d still pending", len(pending))
	}
}

func TestDrainDeniedStaysPending(t *testing.T) {
	s := newTestStore(t)
	s.Enqueue(testRecord("click", "run1", map[string]string{"x": "1"}), Options{})

	eff := &fakeEffector{}
	report, err := s.Drain(context.Background(), Live, Filter{}, 0, denyAll, eff)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if report.Denied != 1 || report.Executed != 0 {
		t.Errorf("unexpected report: %+v", report)
	}

	pending, _ := s.List(Filter{}, 0)
	if len(pending) != 1 {
		t.Errorf("expected the denied record to stay pending, got %d", len(pending))
	}
}

func TestDrainStopsAtFirstFailure(t *testing.T) {
	s := newTestStore(t)
	s.Enqueue(testRecord("click", "run1", map[string]string{"x": "1"}), Options{})
	s.Enqueue(testRecord("type_text", "run1", map[string]string{"t": "hi"}), Options{})
	s.Enqueue(testRecord("scroll", "run1", map[string]string{"y": "2"}), Options{})

	eff := &fakeEffector{failOn: "type_text"}
	report, err := s.Drain(context.Background(), Live, Filter{}, 0, allowAll, eff)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("expected 1 failure, got %d", report.Failed)
	}
	if len(eff.calls) != 2 {
		t.Errorf("expected the drain to stop after the failure, effector saw %v", eff.calls)
	}

	// The failed record and everything after it stay pending.
	pending, _ := s.List(Filter{}, 0)
	if len(pending) != 2 {
		t.Errorf("expected 2 still pending, got %d", len(pending))
	}
	for _, rec := range pending {
		if rec.Action.Type == "click" {
			t.Error("the successful record should be completed")
		}
	}
}

func TestDrainEffectorErrorStops(t *testing.T) {
	s := newTestStore(t)
	s.Enqueue(testRecord("click", "run1", map[string]string{"x": "1"}), Options{})
	s.Enqueue(testRecord("scroll", "run1", map[string]string{"y": "2"}), Options{})

	eff := &fakeEffector{errOn: "click"}
	report, err := s.Drain(context.Background(), Live, Filter{}, 0, allowAll, eff)
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if report.Failed != 1 || len(eff.calls) != 1 {
		t.Errorf("expected stop after the first error, report=%+v calls=%v", report, eff.calls)
	}
}

func TestDrainMaxCap(t *testing.T) {
	s := newTestStore(t)
	for _, n := range []string{"1", "2", "3"} {
		s.Enqueue(testRecord("click", "run1", map[string]string{"n": n}), Options{})
	}

	report, err := s.Drain(context.Background(), DryRun, Filter{}, 2, allowAll, &fakeEffector{})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if report.Attempted != 2 {
		t.Errorf("expected 2 attempted under max=2, got %d", report.Attempted)
	}
	if report.Pending != 3 {
		t.Errorf("expected pending count to report all 3, got %d", report.Pending)
	}
}

func TestDrainRunFilter(t *testing.T) {
	s := newTestStore(t)
	s.Enqueue(testRecord("click", "run1", map[string]string{"x": "1"}), Options{})
	s.Enqueue(testRecord("scroll", "run2", map[string]string{"y": "2"}), Options{})

	eff := &fakeEffector{}
	report, err := s.Drain(context.Background(), Live, Filter{RunID: "run2"}, 0, allowAll, eff)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if report.Attempted != 1 || eff.calls[0] != "scroll" {
		t.Errorf("expected only run2's record, report=%+v calls=%v", report, eff.calls)
	}

	pending, _ := s.List(Filter{}, 0)
	if len(pending) != 1 || pending[0].Action.Type != "click" {
		t.Errorf("expected run1's record untouched, got %+v", pending)
	}
}
