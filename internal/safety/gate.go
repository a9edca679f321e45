// Package safety implements the composite fail-closed gate every effectful
// action must pass, plus the persisted kill-switch and the operator-tunable
// safety policy. Any unknown or unreadable state denies; nothing is ever
// assumed safe.
package safety

import (
	"context"
	"time"

	"deskgate/internal/lease"
	"deskgate/internal/model"
	"deskgate/internal/ratelimit"
)

// Inputs is everything Decide needs; collecting it here keeps the decision
// function pure and directly unit-testable.
type Inputs struct {
	Stopped    bool
	Lease      lease.Record
	Caller     string
	Now        time.Time
	StaleAfter time.Duration
	RateState  *ratelimit.State
	RateConfig ratelimit.Config
	Evaluator  model.RequirementEvaluator
}

// Decide runs the gate checks in their fixed order, short-circuiting on the
// first failure:
//
//  1. kill-switch → EMERGENCY_STOP
//  2. lease.paused → PAUSED
//  3. fresh lease outside its control window → NOT_IN_CONTROL_WINDOW
//  4. fresh lease held by someone else → OWNER_CONFLICT
//  5. rate bucket at cap → RATE_LIMITED
//  6. any named requirement false → REQUIREMENT_FAILED:<name>
//
// A stale lease is treated as unclaimed: checks 3 and 4 are skipped, and the
// freshness requirement is what makes last-writer-wins claims survivable.
func Decide(ctx context.Context, action model.Action, in Inputs) model.Verdict {
	if in.Stopped {
		return model.Denied(model.ReasonEmergencyStop, "")
	}

	if in.Lease.Paused {
		return model.Denied(model.ReasonPaused, "")
	}

	if !lease.IsStale(in.Lease, in.Now, in.StaleAfter) {
		if !in.Lease.InControlWindow {
			return model.Denied(model.ReasonNotInWindow, "")
		}
		if in.Lease.Owner != "" && in.Lease.Owner != in.Caller {
			return model.Denied(model.ReasonOwnerConflict, in.Lease.Owner)
		}
	}

	if in.RateState != nil {
		ok, detail := ratelimit.Consume(in.RateState, action.RateLimitKey, in.RateConfig, in.Now)
		if !ok {
			return model.Denied(model.ReasonRateLimited, detail)
		}
	}

	for _, name := range action.SafetyRequirements {
		// No evaluator means no way to prove the requirement: deny.
		if in.Evaluator == nil || !in.Evaluator.Evaluate(ctx, name) {
			return model.Denied(model.ReasonRequirementFailed, name)
		}
	}

	return model.Allowed()
}

// Gate binds Decide to the durable stores and per-process rate state.
type Gate struct {
	Leases     *lease.Store
	Stop       *KillSwitch
	Caller     string
	StaleAfter time.Duration
	RateState  *ratelimit.State
	RateConfig ratelimit.Config
	Evaluator  model.RequirementEvaluator
}

// NewGate wires a gate from the safety config and stores. caller is the
// identity compared against the lease owner.
func NewGate(leases *lease.Store, stop *KillSwitch, caller string, cfg *Config, eval model.RequirementEvaluator) *Gate {
	return &Gate{
		Leases:     leases,
		Stop:       stop,
		Caller:     caller,
		StaleAfter: cfg.StaleAfter.Std(),
		RateState:  ratelimit.NewState(time.Now()),
		RateConfig: cfg.RateLimitConfig(),
		Evaluator:  eval,
	}
}

// Check reads the kill-switch and lease, then decides. Unreadable state is a
// deny with reason STATE_UNREADABLE, never an implicit allow.
func (g *Gate) Check(ctx context.Context, action model.Action) model.Verdict {
	stop, err := g.Stop.Read()
	if err != nil {
		return model.Denied(model.ReasonStateUnreadable, "emergency_stop")
	}

	rec, err := g.Leases.Read()
	if err != nil {
		return model.Denied(model.ReasonStateUnreadable, "lease")
	}

	return Decide(ctx, action, Inputs{
		Stopped:    stop.Stopped,
		Lease:      rec,
		Caller:     g.Caller,
		Now:        time.Now(),
		StaleAfter: g.StaleAfter,
		RateState:  g.RateState,
		RateConfig: g.RateConfig,
		Evaluator:  g.Evaluator,
	})
}
