// Package ratelimit provides the windowed per-bucket counters the safety
// gate consults before allowing an effectful action.
package ratelimit

import (
	"fmt"
	"time"
)

// Limit caps one bucket. Zero values mean no limit.
type Limit struct {
	MaxActions int           `yaml:"max_actions"`
	Window     time.Duration `yaml:"window"`
}

// Config maps rate_limit_key buckets to their limits. The "*" entry is the
// fallback for keys without an explicit limit.
type Config map[string]*Limit

// HasLimits returns true if any bucket has a configured limit.
func (c Config) HasLimits() bool {
	for _, l := range c {
		if l != nil && l.MaxActions > 0 && l.Window > 0 {
			return true
		}
	}
	return false
}

// State holds per-process counters. One window clock covers all buckets;
// when it expires every counter resets. Not safe for concurrent use; the
// runner is single-threaded per tick.
type State struct {
	counts      map[string]int
	windowStart time.Time
}

// NewState returns empty counters with the window starting at now.
func NewState(now time.Time) *State {
	return &State{counts: make(map[string]int), windowStart: now}
}

// Snapshot reads the current count for a bucket, resetting all counters when
// the window has elapsed.
func (s *State) Snapshot(key string, window time.Duration, now time.Time) int {
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	if window > 0 && now.Sub(s.windowStart) >= window {
		s.counts = make(map[string]int)
		s.windowStart = now
	}
	return s.counts[key]
}

// Increment records one consumed unit for a bucket.
func (s *State) Increment(key string) {
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[key]++
}

// Consume attempts to take one unit from the bucket for key. It returns
// ok=false with a human-readable detail when the bucket is at its cap.
// Keys without a configured limit (and the empty key) always pass without
// counting. On success the counter is incremented.
//
// Lookup order: cfg[key] → cfg["*"] → no limit.
func Consume(s *State, key string, cfg Config, now time.Time) (bool, string) {
	if key == "" || len(cfg) == 0 {
		return true, ""
	}
	limit := cfg[key]
	if limit == nil {
		limit = cfg["*"]
	}
	if limit == nil || limit.MaxActions <= 0 || limit.Window <= 0 {
		return true, ""
	}

	count := s.Snapshot(key, limit.Window, now)
	if count >= limit.MaxActions {
		return false, fmt.Sprintf("%s: %d/%d actions in %s window",
			key, count, limit.MaxActions, limit.Window)
	}
	s.Increment(key)
	return true, ""
}
