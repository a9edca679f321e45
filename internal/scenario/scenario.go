// Package scenario evaluates YAML-defined gate cases against the safety
// gate's pure decision function and reports expected-vs-actual verdicts.
// Operators use it to review a policy change before trusting it with live
// input control.
package scenario

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"deskgate/internal/lease"
	"deskgate/internal/model"
	"deskgate/internal/ratelimit"
	"deskgate/internal/safety"
)

// LeaseSpec describes the lease record for one case. AgeS positions
// updated_at relative to the case's fixed "now".
type LeaseSpec struct {
	Owner           string  `yaml:"owner"`
	Paused          bool    `yaml:"paused"`
	InControlWindow bool    `yaml:"in_control_window"`
	AgeS            float64 `yaml:"age_s"`
}

// ActionSpec describes the action under test.
type ActionSpec struct {
	Type         string            `yaml:"type"`
	Origin       string            `yaml:"origin"`
	Params       map[string]string `yaml:"params"`
	RateLimitKey string            `yaml:"rate_limit_key"`
	Requirements []string          `yaml:"safety_requirements"`
}

// Case is one gate evaluation with an expected verdict.
type Case struct {
	Name    string     `yaml:"name"`
	Lease   LeaseSpec  `yaml:"lease"`
	Stopped bool       `yaml:"stopped"`
	Caller  string     `yaml:"caller"`
	Action  ActionSpec `yaml:"action"`
	// RequirementsTrue lists the named requirements that evaluate true for
	// this case; everything else evaluates false.
	RequirementsTrue []string `yaml:"requirements_true"`
	// Repeat evaluates the case N times against one shared rate state and
	// keeps the last verdict; used to exercise rate limits. Default 1.
	Repeat int    `yaml:"repeat"`
	Expect string `yaml:"expect"`
}

// Scenario is a named collection of gate cases.
type Scenario struct {
	Name       string                         `yaml:"name"`
	StaleAfter safety.Duration                `yaml:"stale_after"`
	RateLimits map[string]*safety.BucketLimit `yaml:"rate_limits"`
	Cases      []Case                         `yaml:"cases"`
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	Index    int    `json:"index"`
	Name     string `json:"name,omitempty"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// RunResult is the outcome of one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}

type setEvaluator map[string]bool

func (s setEvaluator) Evaluate(_ context.Context, name string) bool { return s[name] }

// Run evaluates all cases. Each case gets a fresh rate state; cases are
// independent of each other.
func Run(s *Scenario) *RunResult {
	result := &RunResult{Name: s.Name, Total: len(s.Cases)}

	staleAfter := s.StaleAfter.Std()
	if staleAfter == 0 {
		staleAfter = 10 * time.Second
	}
	rateCfg := (&safety.Config{RateLimits: s.RateLimits}).RateLimitConfig()

	for i, c := range s.Cases {
		now := time.Unix(1_700_000_000, 0)
		rec := lease.Record{
			Owner:           c.Lease.Owner,
			Paused:          c.Lease.Paused,
			InControlWindow: c.Lease.InControlWindow,
			UpdatedAt:       float64(now.Unix()) - c.Lease.AgeS,
		}

		action := model.NewAction(c.Action.Type, c.Action.Origin, c.Action.Params)
		action.RateLimitKey = c.Action.RateLimitKey
		action.Require(c.Action.Requirements...)

		evaluator := make(setEvaluator, len(c.RequirementsTrue))
		for _, name := range c.RequirementsTrue {
			evaluator[name] = true
		}

		in := safety.Inputs{
			Stopped:    c.Stopped,
			Lease:      rec,
			Caller:     c.Caller,
			Now:        now,
			StaleAfter: staleAfter,
			RateState:  ratelimit.NewState(now),
			RateConfig: rateCfg,
			Evaluator:  evaluator,
		}

		repeat := c.Repeat
		if repeat < 1 {
			repeat = 1
		}
		var verdict model.Verdict
		for n := 0; n < repeat; n++ {
			verdict = safety.Decide(context.Background(), action, in)
		}

		cr := CaseResult{
			Index:    i + 1,
			Name:     c.Name,
			Expected: c.Expect,
			Actual:   verdict.String(),
		}
		cr.Passed = cr.Actual == cr.Expected
		if cr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}
	return result
}

// LoadAndRun loads a scenario YAML file and runs it.
func LoadAndRun(path string) (*RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	result := Run(&s)
	result.File = path
	return result, nil
}
