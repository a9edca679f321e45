package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// DenyReason identifies which gate check rejected an action.
type DenyReason string

const (
	ReasonNone              DenyReason = ""
	ReasonEmergencyStop     DenyReason = "EMERGENCY_STOP"
	ReasonPaused            DenyReason = "PAUSED"
	ReasonNotInWindow       DenyReason = "NOT_IN_CONTROL_WINDOW"
	ReasonOwnerConflict     DenyReason = "OWNER_CONFLICT"
	ReasonRateLimited       DenyReason = "RATE_LIMITED"
	ReasonRequirementFailed DenyReason = "REQUIREMENT_FAILED"
	ReasonStateUnreadable   DenyReason = "STATE_UNREADABLE"
)

// Verdict is the safety gate's decision for one action.
type Verdict struct {
	Allow  bool       `json:"allow"`
	Reason DenyReason `json:"reason,omitempty"`
	Detail string     `json:"detail,omitempty"`
}

// String renders the verdict the way it appears in audit entries and CLI
// output: "allow", "deny:PAUSED", "deny:REQUIREMENT_FAILED:foreground".
func (v Verdict) String() string {
	if v.Allow {
		return "allow"
	}
	s := "deny:" + string(v.Reason)
	if v.Detail != "" {
		s += ":" + v.Detail
	}
	return s
}

// Allowed returns a passing verdict.
func Allowed() Verdict { return Verdict{Allow: true} }

// Denied returns a failing verdict with the given reason.
func Denied(reason DenyReason, detail string) Verdict {
	return Verdict{Allow: false, Reason: reason, Detail: detail}
}

// Action is one proposed effect. Immutable once created: a denied Action is
// queued verbatim, and re-evaluation produces a new verdict, never a new
// Action.
type Action struct {
	ID                 string            `json:"id"`
	Type               string            `json:"type"`
	Params             map[string]string `json:"params,omitempty"`
	Origin             string            `json:"origin"`
	CreatedAt          float64           `json:"created_at"`
	SafetyRequirements []string          `json:"safety_requirements,omitempty"`
	RateLimitKey       string            `json:"rate_limit_key,omitempty"`
}

// NewAction builds an Action with a derived stable id when none is supplied
// by the proposer.
func NewAction(typ, origin string, params map[string]string) Action {
	a := Action{
		Type:      typ,
		Origin:    origin,
		Params:    params,
		CreatedAt: float64(time.Now().UnixNano()) / 1e9,
	}
	a.ID = StableID(typ, origin, params)
	return a
}

// Require adds named safety requirements, skipping duplicates.
func (a *Action) Require(reqs ...string) {
	for _, r := range reqs {
		found := false
		for _, have := range a.SafetyRequirements {
			if have == r {
				found = true
				break
			}
		}
		if !found {
			a.SafetyRequirements = append(a.SafetyRequirements, r)
		}
	}
}

// StableID derives a deterministic 16-hex-char id from an action's identity
// fields. Params are folded in sorted key order so the id does not depend on
// map iteration.
func StableID(typ, origin string, params map[string]string) string {
	h := sha256.New()
	h.Write([]byte(typ + "\n" + origin + "\n"))
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	h.Write([]byte(strings.Join(parts, "␟")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// DedupeKey derives the queue deduplication key from the fields that define
// an action's identity for suppression: type, origin, and params.
func (a Action) DedupeKey() string {
	return StableID(a.Type, a.Origin, a.Params)
}

// TickOutcome classifies one full pass of the pipeline.
type TickOutcome string

const (
	TickPass     TickOutcome = "PASS"
	TickDeferred TickOutcome = "DEFERRED"
	TickFail     TickOutcome = "FAIL"
)
