package scenario

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"deskgate/internal/safety"
)

func TestRunVerdictCases(t *testing.T) {
	s := &Scenario{
		Name: "gate checks",
		Cases: []Case{
			{
				Name:    "stopped wins",
				Stopped: true,
				Lease:   LeaseSpec{Paused: true},
				Action:  ActionSpec{Type: "click", Origin: "wf"},
				Expect:  "deny:EMERGENCY_STOP",
			},
			{
				Name:   "paused",
				Lease:  LeaseSpec{Owner: "caller", Paused: true, InControlWindow: true, AgeS: 1},
				Caller: "caller",
				Action: ActionSpec{Type: "click", Origin: "wf"},
				Expect: "deny:PAUSED",
			},
			{
				Name:   "closed window",
				Lease:  LeaseSpec{Owner: "caller", AgeS: 1},
				Caller: "caller",
				Action: ActionSpec{Type: "click", Origin: "wf"},
				Expect: "deny:NOT_IN_CONTROL_WINDOW",
			},
			{
				Name:   "owner conflict",
				Lease:  LeaseSpec{Owner: "other", InControlWindow: true, AgeS: 1},
				Caller: "caller",
				Action: ActionSpec{Type: "click", Origin: "wf"},
				Expect: "deny:OWNER_CONFLICT:other",
			},
			{
				Name:   "stale lease allows",
				Lease:  LeaseSpec{Owner: "other", AgeS: 3600},
				Caller: "caller",
				Action: ActionSpec{Type: "click", Origin: "wf"},
				Expect: "allow",
			},
			{
				Name:             "requirement failure names requirement",
				Lease:            LeaseSpec{Owner: "caller", InControlWindow: true, AgeS: 1},
				Caller:           "caller",
				Action:           ActionSpec{Type: "click", Origin: "wf", Requirements: []string{"foreground"}},
				RequirementsTrue: []string{},
				Expect:           "deny:REQUIREMENT_FAILED:foreground",
			},
		},
	}

	result := Run(s)
	if result.Failed != 0 {
		for _, c := range result.Cases {
			if !c.Passed {
				t.Errorf("%s: expected %s, got %s", c.Name, c.Expected, c.Actual)
			}
		}
	}
	if result.Passed != len(s.Cases) {
		t.Errorf("expected %d passed, got %d", len(s.Cases), result.Passed)
	}
}

func TestRunRateLimitRepeat(t *testing.T) {
	s := &Scenario{
		RateLimits: map[string]*safety.BucketLimit{
			"clicks": {MaxActions: 2, Window: safety.Duration(time.Minute)},
		},
		Cases: []Case{
			{
				Name:   "third attempt rate limited",
				Lease:  LeaseSpec{Owner: "caller", InControlWindow: true, AgeS: 1},
				Caller: "caller",
				Action: ActionSpec{Type: "click", Origin: "wf", RateLimitKey: "clicks"},
				Repeat: 3,
				Expect: "deny:RATE_LIMITED:clicks: 2/2 actions in 1m0s window",
			},
			{
				Name:   "under the cap",
				Lease:  LeaseSpec{Owner: "caller", InControlWindow: true, AgeS: 1},
				Caller: "caller",
				Action: ActionSpec{Type: "click", Origin: "wf", RateLimitKey: "clicks"},
				Repeat: 2,
				Expect: "allow",
			},
		},
	}

	result := Run(s)
	for _, c := range result.Cases {
		if !c.Passed {
			t.Errorf("%s: expected %s, got %s", c.Name, c.Expected, c.Actual)
		}
	}
}

func TestRunReportsMismatch(t *testing.T) {
	s := &Scenario{
		Cases: []Case{{
			Name:   "wrong expectation",
			Action: ActionSpec{Type: "click", Origin: "wf"},
			Expect: "allow",
		}},
	}
	result := Run(s)
	if result.Failed != 1 {
		t.Fatalf("expected 1 failed case, got %d", result.Failed)
	}
	c := result.Cases[0]
	if c.Actual != "deny:NOT_IN_CONTROL_WINDOW" {
		t.Errorf("expected the actual verdict reported, got %s", c.Actual)
	}
}

func TestLoadAndRun(t *testing.T) {
	doc := `
name: smoke
cases:
  - name: stop engaged
    stopped: true
    action:
      type: click
      origin: wf
    expect: "deny:EMERGENCY_STOP"
  - name: stale lease
    lease:
      owner: other
      age_s: 3600
    caller: me
    action:
      type: click
      origin: wf
    expect: allow
`
	path := filepath.Join(t.TempDir(), "smoke.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := LoadAndRun(path)
	if err != nil {
		t.Fatalf("LoadAndRun failed: %v", err)
	}
	if result.Name != "smoke" || result.Total != 2 {
		t.Errorf("unexpected result header: %+v", result)
	}
	if result.Failed != 0 {
		for _, c := range result.Cases {
			t.Errorf("%s: expected %s, got %s", c.Name, c.Expected, c.Actual)
		}
	}
}

func TestLoadAndRunMissingFile(t *testing.T) {
	if _, err := LoadAndRun(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing scenario file")
	}
}
