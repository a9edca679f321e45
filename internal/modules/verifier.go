package modules

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"deskgate/internal/audit"
	"deskgate/internal/model"
	"deskgate/internal/pipeline"
	"deskgate/internal/verify"
)

type verifierOptions struct {
	// Path points the re-observation sensor at the evidence file; unused
	// when an external sensor was injected.
	Path string `json:"path"`
	// Vanish and Persist are the score thresholds for the disappearance
	// comparator. Scores below Vanish confirm the effect; at or above
	// Persist deny it; in between is ambiguous.
	Vanish  float64 `json:"vanish"`
	Persist float64 `json:"persist"`
	// SettleMs, MaxAttempts, BackoffMs override the safety config.
	SettleMs    int `json:"settle_ms"`
	MaxAttempts int `json:"max_attempts"`
	BackoffMs   int `json:"backoff_ms"`
}

// VerifierModule re-observes after a live effect and records whether the
// effect can be confirmed. It never rolls anything back; an unverified
// effect is reported, not undone.
type VerifierModule struct {
	instance string
	gate     *verify.Gate
	policy   verify.Policy
	audit    *audit.Log
}

// NewVerifierModule wires the verification gate. sensor may be nil, in
// which case a FileSensor is built from the instance options. basePolicy
// supplies the safety-config defaults for settle/attempts/backoff.
func NewVerifierModule(instance string, sensor model.Sensor, basePolicy verify.Policy, log *audit.Log) *VerifierModule {
	return &VerifierModule{
		instance: instance,
		gate:     &verify.Gate{Sensor: sensor},
		policy:   basePolicy,
		audit:    log,
	}
}

// Init implements pipeline.Module.
func (m *VerifierModule) Init(cfg pipeline.ModuleConfig) error {
	var opts verifierOptions
	if err := cfg.DecodeOptions(&opts); err != nil {
		return err
	}

	if m.gate.Sensor == nil {
		if opts.Path == "" {
			return &pipeline.ConfigError{Instance: cfg.Instance, Msg: `verifier requires "path" when no sensor is wired`}
		}
		path := opts.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Root, path)
		}
		m.gate.Sensor = &FileSensor{Path: path, Source: cfg.Instance}
	}

	if opts.Persist == 0 && opts.Vanish == 0 {
		opts.Vanish, opts.Persist = 0.4, 0.8
	}
	if opts.Persist < opts.Vanish {
		return &pipeline.ConfigError{Instance: cfg.Instance, Msg: "persist threshold below vanish threshold"}
	}
	m.policy.Comparator = verify.ScoreDropComparator(opts.Vanish, opts.Persist)

	if opts.SettleMs > 0 {
		m.policy.Settle = time.Duration(opts.SettleMs) * time.Millisecond
	}
	if opts.MaxAttempts > 0 {
		m.policy.MaxAttempts = opts.MaxAttempts
	}
	if opts.BackoffMs > 0 {
		m.policy.Backoff = time.Duration(opts.BackoffMs) * time.Millisecond
	}
	return nil
}

// RunOnce implements pipeline.Module. Runs only after a live effect with
// captured before-evidence; otherwise there is nothing to verify.
func (m *VerifierModule) RunOnce(ctx context.Context, pctx *pipeline.Context) error {
	if pctx.Effect == nil || pctx.Before == nil {
		return nil
	}

	result := m.gate.Verify(ctx, *pctx.Before, m.policy)
	pctx.Set(m.instance, "result", result)

	if m.audit != nil {
		entry := audit.Entry{
			Event:   audit.EventVerify,
			RunID:   pctx.RunID,
			Tick:    pctx.Tick,
			Outcome: string(result.Outcome),
			Fields: map[string]string{
				"detail":   result.Detail,
				"attempts": fmt.Sprintf("%d", result.Attempts),
			},
		}
		if pctx.Proposal != nil {
			entry.ActionID = pctx.Proposal.ID
		}
		_ = m.audit.Record(entry)
	}
	return nil
}

// Shutdown implements pipeline.Module.
func (m *VerifierModule) Shutdown() error { return nil }
