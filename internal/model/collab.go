package model

import "context"

// Evidence is an abstracted observation of on-screen state. The orchestration
// core never looks inside Fields; comparators supplied by the sensing layer
// interpret them.
type Evidence struct {
	Source     string            `json:"source"`
	CapturedAt float64           `json:"captured_at"`
	Score      float64           `json:"score,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// EffectOutcome reports what an effector did for one action.
type EffectOutcome struct {
	OK       bool    `json:"ok"`
	Detail   string  `json:"detail,omitempty"`
	Duration float64 `json:"seconds,omitempty"`
}

// Sensor captures observations. Implementations block (screen capture, OCR)
// and must honor ctx cancellation.
type Sensor interface {
	Observe(ctx context.Context) (Evidence, error)
}

// Effector performs the synthetic input for one action.
type Effector interface {
	Execute(ctx context.Context, action Action) (EffectOutcome, error)
}

// RequirementEvaluator answers named safety preconditions, e.g.
// "foreground-is-target-app". Unknown requirement names must evaluate false.
type RequirementEvaluator interface {
	Evaluate(ctx context.Context, name string) bool
}
