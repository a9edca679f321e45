// Package pipeline runs an ordered list of modules against a shared mutable
// context, once per tick. Modules are a uniform interface over four roles
// (sensor, decision, effector, verifier) registered in a typed registry and
// resolved at config-load time, never at tick time.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"

	"deskgate/internal/model"
)

// Role classifies a module's behavior. All roles share the same interface.
type Role string

const (
	RoleSensor   Role = "sensor"
	RoleDecision Role = "decision"
	RoleEffector Role = "effector"
	RoleVerifier Role = "verifier"
)

// ModuleConfig is one named instance's configuration block. Options is the
// raw instance JSON; each module decodes it with unknown fields disallowed,
// so option sets are closed and validated at construction, never inferred
// at runtime.
type ModuleConfig struct {
	Instance string
	Root     string
	Live     bool
	Options  json.RawMessage
}

// DecodeOptions decodes the instance options strictly into out. A nil
// options block leaves out at its zero value.
func (c ModuleConfig) DecodeOptions(out any) error {
	if len(c.Options) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(c.Options))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &ConfigError{Instance: c.Instance, Msg: err.Error()}
	}
	return nil
}

// Module is a single pipeline step. Init is called once at construction,
// RunOnce each tick, Shutdown once at the end of the run.
type Module interface {
	Init(cfg ModuleConfig) error
	RunOnce(ctx context.Context, pctx *Context) error
	Shutdown() error
}

// Context is the shared mutable state for one tick. Owned exclusively by the
// runner for the tick's duration; modules run sequentially so there is no
// concurrent mutation. General values are namespaced by instance name; the
// typed fields are the contract between decision, effector, and verifier
// stages.
type Context struct {
	RunID string
	Tick  int
	Live  bool

	// Proposal is the at-most-one action proposed this tick.
	Proposal *model.Action
	// Verdict is the gate's decision on Proposal, once consulted.
	Verdict *model.Verdict
	// Deferred is set when a denied proposal was persisted to the queue.
	Deferred bool
	// Effect is the outcome of a live effector call this tick.
	Effect *model.EffectOutcome
	// Before is the evidence captured ahead of the effect, for verification.
	Before *model.Evidence

	// Errors records per-module failures without aborting the tick.
	Errors map[string]string

	values map[string]any
}

// NewContext returns an empty context for one tick.
func NewContext(runID string, tick int, live bool) *Context {
	return &Context{
		RunID:  runID,
		Tick:   tick,
		Live:   live,
		Errors: make(map[string]string),
		values: make(map[string]any),
	}
}

// Set stores a value under the module's namespace.
func (c *Context) Set(instance, key string, v any) {
	c.values[instance+"."+key] = v
}

// Get reads a namespaced value.
func (c *Context) Get(instance, key string) (any, bool) {
	v, ok := c.values[instance+"."+key]
	return v, ok
}

// Evidence reads a previously stored observation, typically a sensor's
// output consumed by a decision or verifier module.
func (c *Context) Evidence(instance, key string) (model.Evidence, bool) {
	v, ok := c.values[instance+"."+key]
	if !ok {
		return model.Evidence{}, false
	}
	ev, ok := v.(model.Evidence)
	return ev, ok
}

// RecordError notes a module failure in the tick's error map.
func (c *Context) RecordError(instance string, err error) {
	c.Errors[instance] = err.Error()
}

// CarryInto copies the named values into a fresh context for the next tick.
func (c *Context) CarryInto(next *Context, keys []string) {
	for _, k := range keys {
		if v, ok := c.values[k]; ok {
			next.values[k] = v
		}
	}
}
