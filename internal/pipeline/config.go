package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the parsed pipeline configuration file. The JSON shape is:
//
//	{
//	  "root": ".",
//	  "pipeline": ["capture", "propose", "effect"],
//	  "capture": {"module": "sensor", "options": {...}},
//	  "propose": {"module": "decision", "critical": true, "options": {...}},
//	  "effect":  {"module": "effector", "options": {...}}
//	}
//
// Every name in "pipeline" must have a configuration block; a block's
// "module" field selects the registered type (defaulting to the instance
// name itself, so simple pipelines stay terse). The same type may appear
// multiple times under different instance names.
type Config struct {
	Root      string
	Pipeline  []string
	CarryOver []string
	Interval  float64
	blocks    map[string]instanceBlock
}

type instanceBlock struct {
	Module   string          `json:"module"`
	Critical bool            `json:"critical"`
	Options  json.RawMessage `json:"options"`
}

type rawConfig struct {
	Root      string   `json:"root"`
	Pipeline  []string `json:"pipeline"`
	CarryOver []string `json:"carry_over"`
	Interval  float64  `json:"interval_s"`
}

// reservedKeys are top-level keys that are not module instance blocks.
var reservedKeys = map[string]bool{
	"root":       true,
	"pipeline":   true,
	"carry_over": true,
	"interval_s": true,
}

// LoadConfig parses and validates the pipeline config file. Every failure
// here is a *ConfigError: configuration problems are fatal at startup, not
// discovered mid-run.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("read %s: %v", path, err)}
	}
	return ParseConfig(data)
}

// ParseConfig parses a pipeline config from raw JSON.
func ParseConfig(data []byte) (*Config, error) {
	var rc rawConfig
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, &ConfigError{Msg: "invalid JSON: " + err.Error()}
	}
	if rc.Pipeline == nil {
		return nil, &ConfigError{Msg: `missing "pipeline"`}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, &ConfigError{Msg: "invalid JSON: " + err.Error()}
	}

	cfg := &Config{
		Root:      rc.Root,
		Pipeline:  rc.Pipeline,
		CarryOver: rc.CarryOver,
		Interval:  rc.Interval,
		blocks:    make(map[string]instanceBlock),
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}

	for key, raw := range top {
		if reservedKeys[key] {
			continue
		}
		var block instanceBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, &ConfigError{Instance: key, Msg: "invalid instance block: " + err.Error()}
		}
		cfg.blocks[key] = block
	}

	seen := make(map[string]bool)
	for _, name := range cfg.Pipeline {
		if name == "" {
			return nil, &ConfigError{Msg: "empty instance name in pipeline"}
		}
		if seen[name] {
			return nil, &ConfigError{Instance: name, Msg: "listed twice in pipeline"}
		}
		seen[name] = true
		if _, ok := cfg.blocks[name]; !ok {
			return nil, &ConfigError{Instance: name, Msg: "no configuration block"}
		}
	}
	return cfg, nil
}

// Instance is a constructed, initialized module bound to its name.
type Instance struct {
	Name     string
	Role     Role
	Critical bool
	Module   Module
}

// Build resolves every pipeline entry against the registry and initializes
// it. Unknown types, unknown options, and failing Init calls all surface
// here, before the first tick.
func (c *Config) Build(registry *Registry, live bool) ([]Instance, error) {
	instances := make([]Instance, 0, len(c.Pipeline))
	for _, name := range c.Pipeline {
		block := c.blocks[name]
		typeName := block.Module
		if typeName == "" {
			typeName = name
		}

		mod, err := registry.Create(typeName, name)
		if err != nil {
			return nil, err
		}
		mc := ModuleConfig{
			Instance: name,
			Root:     c.Root,
			Live:     live,
			Options:  block.Options,
		}
		if err := mod.Init(mc); err != nil {
			if _, ok := err.(*ConfigError); ok {
				return nil, err
			}
			return nil, &ConfigError{Instance: name, Msg: "init: " + err.Error()}
		}
		instances = append(instances, Instance{
			Name:     name,
			Role:     registry.Role(typeName),
			Critical: block.Critical,
			Module:   mod,
		})
	}
	return instances, nil
}
