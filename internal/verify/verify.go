// Package verify re-observes the screen after a live effector call and
// decides whether the intended effect actually happened. It is an evidence
// gate for downstream reporting, not a transaction: on weak or ambiguous
// evidence it says so and never attempts a compensating action.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"

	"deskgate/internal/model"
)

// Outcome is three-valued on purpose: collapsing "could not tell" into
// either success or failure is how silent automation failures happen.
type Outcome string

const (
	Confirmed   Outcome = "confirmed"
	Unconfirmed Outcome = "unconfirmed"
	Ambiguous   Outcome = "ambiguous"
)

// Comparison is a comparator's reading of before-vs-after evidence.
type Comparison struct {
	Outcome Outcome
	Score   float64
	Detail  string
}

// Comparator judges whether the after-observation shows the intended effect.
// Supplied by the sensing layer, e.g. "matched element's score dropped below
// the disappearance threshold".
type Comparator func(before, after model.Evidence) Comparison

// Policy bundles the knobs for one verification: how long to let the UI
// settle, how many re-observations to attempt on ambiguity, and the backoff
// between them.
type Policy struct {
	Settle      time.Duration
	MaxAttempts int
	Backoff     time.Duration
	Comparator  Comparator
}

// Result is the recorded outcome of one verification.
type Result struct {
	Outcome  Outcome `json:"outcome"`
	Score    float64 `json:"score,omitempty"`
	Detail   string  `json:"detail,omitempty"`
	Attempts int     `json:"attempts"`
}

// Gate re-observes through a sensor.
type Gate struct {
	Sensor model.Sensor
}

// Verify waits the settle delay, then re-observes and compares. Ambiguous
// comparisons are retried under the policy's backoff; if the evidence never
// firms up the result is Ambiguous, not a guess. Never rolls anything back.
func (g *Gate) Verify(ctx context.Context, before model.Evidence, p Policy) Result {
	if p.Comparator == nil {
		return Result{Outcome: Ambiguous, Detail: "no comparator configured"}
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	if p.Settle > 0 {
		select {
		case <-time.After(p.Settle):
		case <-ctx.Done():
			return Result{Outcome: Ambiguous, Detail: "cancelled during settle"}
		}
	}

	var last Comparison
	attempts := 0
	err := retry.Retry(func(attempt uint) error {
		if ctx.Err() != nil {
			return nil // stop retrying; cancellation resolves below
		}
		attempts++
		after, err := g.Sensor.Observe(ctx)
		if err != nil {
			last = Comparison{Outcome: Ambiguous, Detail: fmt.Sprintf("observe: %v", err)}
			return err
		}
		last = p.Comparator(before, after)
		if last.Outcome == Ambiguous {
			return fmt.Errorf("ambiguous evidence")
		}
		return nil
	},
		strategy.Limit(uint(p.MaxAttempts)),
		strategy.Backoff(backoff.Fibonacci(p.Backoff)),
	)

	if ctx.Err() != nil {
		return Result{Outcome: Ambiguous, Detail: "cancelled", Attempts: attempts}
	}
	if err != nil {
		// Attempts exhausted without a definitive reading.
		return Result{Outcome: Ambiguous, Score: last.Score, Detail: last.Detail, Attempts: attempts}
	}
	return Result{Outcome: last.Outcome, Score: last.Score, Detail: last.Detail, Attempts: attempts}
}

// ScoreDropComparator returns a comparator that confirms when the evidence
// score fell below vanish, reports unconfirmed when it is still at or above
// persist, and ambiguous in between. The thresholds come from the sensing
// layer's matcher.
func ScoreDropComparator(vanish, persist float64) Comparator {
	return func(before, after model.Evidence) Comparison {
		c := Comparison{Score: after.Score}
		switch {
		case after.Score < vanish:
			c.Outcome = Confirmed
			c.Detail = fmt.Sprintf("score %.3f below vanish threshold %.3f", after.Score, vanish)
		case after.Score >= persist:
			c.Outcome = Unconfirmed
			c.Detail = fmt.Sprintf("score %.3f still at/above persist threshold %.3f", after.Score, persist)
		default:
			c.Outcome = Ambiguous
			c.Detail = fmt.Sprintf("score %.3f between thresholds (%.3f..%.3f)", after.Score, vanish, persist)
		}
		return c
	}
}
