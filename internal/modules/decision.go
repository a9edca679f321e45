package modules

import (
	"context"
	"fmt"

	"deskgate/internal/model"
	"deskgate/internal/pipeline"
)

type decisionOptions struct {
	Type         string            `json:"type"`
	Params       map[string]string `json:"params"`
	Requirements []string          `json:"safety_requirements"`
	RateLimitKey string            `json:"rate_limit_key"`
	// WhenEvidence names a sensor instance; the proposal is only made when
	// that instance produced evidence this tick. Empty proposes every tick.
	WhenEvidence string `json:"when_evidence"`
	// PerTick folds the tick number into the action params, giving each
	// tick's proposal its own identity in the queue.
	PerTick bool `json:"per_tick"`
}

// DecisionModule proposes at most one action per tick from its static
// configuration. Real deployments plug richer deciders in through the
// registry; this one is the declarative baseline and the test workhorse.
type DecisionModule struct {
	instance string
	opts     decisionOptions
}

// NewDecisionModule returns an unconfigured decision module.
func NewDecisionModule(instance string) *DecisionModule {
	return &DecisionModule{instance: instance}
}

// Init implements pipeline.Module.
func (m *DecisionModule) Init(cfg pipeline.ModuleConfig) error {
	if err := cfg.DecodeOptions(&m.opts); err != nil {
		return err
	}
	if m.opts.Type == "" {
		return &pipeline.ConfigError{Instance: cfg.Instance, Msg: `decision requires "type"`}
	}
	return nil
}

// RunOnce implements pipeline.Module. The context carries zero-or-one
// proposal per tick; if an earlier decision module already proposed, this
// one stands down.
func (m *DecisionModule) RunOnce(ctx context.Context, pctx *pipeline.Context) error {
	if pctx.Proposal != nil {
		return nil
	}
	if m.opts.WhenEvidence != "" {
		if _, ok := pctx.Evidence(m.opts.WhenEvidence, "evidence"); !ok {
			return nil
		}
	}

	params := make(map[string]string, len(m.opts.Params)+1)
	for k, v := range m.opts.Params {
		params[k] = v
	}
	if m.opts.PerTick {
		params["tick"] = fmt.Sprintf("%d", pctx.Tick)
	}

	action := model.NewAction(m.opts.Type, m.instance, params)
	action.RateLimitKey = m.opts.RateLimitKey
	action.Require(m.opts.Requirements...)
	pctx.Proposal = &action
	return nil
}

// Shutdown implements pipeline.Module.
func (m *DecisionModule) Shutdown() error { return nil }
