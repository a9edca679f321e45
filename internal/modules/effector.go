package modules

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"deskgate/internal/audit"
	"deskgate/internal/model"
	"deskgate/internal/pipeline"
	"deskgate/internal/queue"
	"deskgate/internal/safety"
)

// ExecEffector runs an action's "command" param through the shell. This is
// the default effecting seam: the original deferred actions were argv
// commands, and input-synthesis backends wrap themselves the same way.
type ExecEffector struct {
	Dir string
}

// Execute implements model.Effector.
func (e *ExecEffector) Execute(ctx context.Context, action model.Action) (model.EffectOutcome, error) {
	command := action.Params["command"]
	if command == "" {
		return model.EffectOutcome{}, fmt.Errorf("effector: action %s has no command param", action.ID)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if e.Dir != "" {
		cmd.Dir = e.Dir
	}
	out, err := cmd.CombinedOutput()
	outcome := model.EffectOutcome{
		OK:       err == nil,
		Detail:   strings.TrimSpace(string(out)),
		Duration: time.Since(start).Seconds(),
	}
	if err != nil {
		outcome.Detail = fmt.Sprintf("%v: %s", err, outcome.Detail)
	}
	return outcome, nil
}

type effectorOptions struct {
	// EvidenceFrom names the sensor instance whose observation becomes the
	// before-evidence for post-action verification.
	EvidenceFrom string `json:"evidence_from"`
}

// EffectorModule is the only module that causes external effects, and every
// effect goes through the safety gate first. A denied proposal is persisted
// to the deferred queue (live mode) or marked deferred without persisting
// (dry mode); it is never silently dropped.
type EffectorModule struct {
	instance  string
	opts      effectorOptions
	gate      *safety.Gate
	queue     *queue.Store
	queueOpts queue.Options
	effector  model.Effector
	audit     *audit.Log
}

// NewEffectorModule wires the gate, queue, and effecting backend.
func NewEffectorModule(instance string, gate *safety.Gate, q *queue.Store, qOpts queue.Options, effector model.Effector, log *audit.Log) *EffectorModule {
	return &EffectorModule{
		instance:  instance,
		gate:      gate,
		queue:     q,
		queueOpts: qOpts,
		effector:  effector,
		audit:     log,
	}
}

// Init implements pipeline.Module.
func (m *EffectorModule) Init(cfg pipeline.ModuleConfig) error {
	if err := cfg.DecodeOptions(&m.opts); err != nil {
		return err
	}
	if m.effector == nil {
		m.effector = &ExecEffector{Dir: cfg.Root}
	}
	return nil
}

// RunOnce implements pipeline.Module.
func (m *EffectorModule) RunOnce(ctx context.Context, pctx *pipeline.Context) error {
	if pctx.Proposal == nil {
		return nil
	}
	action := *pctx.Proposal

	verdict := m.gate.Check(ctx, action)
	pctx.Verdict = &verdict
	m.record(audit.Entry{
		Event:    audit.EventVerdict,
		RunID:    pctx.RunID,
		Tick:     pctx.Tick,
		ActionID: action.ID,
		Verdict:  &verdict,
	})

	if !verdict.Allow {
		return m.deferAction(pctx, action, verdict)
	}

	if before, ok := pctx.Evidence(m.opts.EvidenceFrom, "evidence"); ok {
		pctx.Before = &before
	}

	if !pctx.Live {
		pctx.Set(m.instance, "would_execute", action.ID)
		return nil
	}

	outcome, err := m.effector.Execute(ctx, action)
	if err != nil {
		return &pipeline.ModuleError{Instance: m.instance, Err: err}
	}
	pctx.Effect = &outcome
	pctx.Set(m.instance, "outcome", outcome)
	m.record(audit.Entry{
		Event:    audit.EventEffect,
		RunID:    pctx.RunID,
		Tick:     pctx.Tick,
		ActionID: action.ID,
		Outcome:  effectLabel(outcome),
		Fields:   map[string]string{"detail": outcome.Detail},
	})
	return nil
}

// deferAction persists a denied action. Dry mode marks the tick deferred
// without touching the queue so inspection runs stay read-only.
func (m *EffectorModule) deferAction(pctx *pipeline.Context, action model.Action, verdict model.Verdict) error {
	if !pctx.Live {
		pctx.Deferred = true
		return nil
	}

	appended, err := m.queue.Enqueue(queue.DeferredRecord{
		Action: action,
		RunID:  pctx.RunID,
		Reason: verdict.String(),
	}, m.queueOpts)
	if err != nil {
		// Leaving Deferred unset turns this denial into a FAIL upstream:
		// a denial we could not persist must not pass as handled.
		return &pipeline.ModuleError{Instance: m.instance, Err: err}
	}

	pctx.Deferred = true
	m.record(audit.Entry{
		Event:    audit.EventDeferred,
		RunID:    pctx.RunID,
		Tick:     pctx.Tick,
		ActionID: action.ID,
		Outcome:  fmt.Sprintf("appended=%t", appended),
		Verdict:  &verdict,
	})
	return nil
}

func (m *EffectorModule) record(entry audit.Entry) {
	if m.audit == nil {
		return
	}
	_ = m.audit.Record(entry)
}

func effectLabel(o model.EffectOutcome) string {
	if o.OK {
		return "effect_ok"
	}
	return "effect_failed"
}

// Shutdown implements pipeline.Module.
func (m *EffectorModule) Shutdown() error { return nil }
