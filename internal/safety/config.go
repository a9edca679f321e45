package safety

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"deskgate/internal/ratelimit"
)

// Duration decodes YAML durations written either as Go duration strings
// ("90s", "5m") or as plain numbers of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration: %s", node.Value)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// BucketLimit is the YAML form of one rate-limit bucket.
type BucketLimit struct {
	MaxActions int      `yaml:"max_actions"`
	Window     Duration `yaml:"window"`
}

// QueueConfig holds deferred-queue suppression knobs.
type QueueConfig struct {
	DedupeWindow Duration `yaml:"dedupe_window"`
	Cooldown     Duration `yaml:"cooldown"`
}

// VerifyConfig holds post-action verification knobs.
type VerifyConfig struct {
	Settle      Duration `yaml:"settle"`
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     Duration `yaml:"backoff"`
}

// Config is the operator-tunable safety policy, loaded from YAML.
type Config struct {
	StaleAfter Duration                `yaml:"stale_after"`
	RateLimits map[string]*BucketLimit `yaml:"rate_limits"`
	Queue      QueueConfig             `yaml:"queue"`
	Verify     VerifyConfig            `yaml:"verify"`
}

// DefaultConfig mirrors the thresholds the original deployment ran with.
func DefaultConfig() *Config {
	return &Config{
		StaleAfter: Duration(10 * time.Second),
		RateLimits: map[string]*BucketLimit{
			"*": {MaxActions: 30, Window: Duration(time.Minute)},
		},
		Queue: QueueConfig{
			DedupeWindow: Duration(24 * time.Hour),
			Cooldown:     Duration(5 * time.Minute),
		},
		Verify: VerifyConfig{
			Settle:      Duration(800 * time.Millisecond),
			MaxAttempts: 3,
			Backoff:     Duration(500 * time.Millisecond),
		},
	}
}

// LoadConfig loads the safety policy from a YAML file. A missing file
// returns defaults; invalid YAML is an error.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("safety: read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("safety: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// RateLimitConfig converts the YAML buckets into the form the gate consumes.
func (c *Config) RateLimitConfig() ratelimit.Config {
	out := make(ratelimit.Config, len(c.RateLimits))
	for key, b := range c.RateLimits {
		if b == nil {
			continue
		}
		out[key] = &ratelimit.Limit{MaxActions: b.MaxActions, Window: b.Window.Std()}
	}
	return out
}
