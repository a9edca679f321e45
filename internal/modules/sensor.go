// Package modules provides the built-in pipeline modules: a file-fed sensor,
// a configurable decision proposer, the gated effector, and the post-action
// verifier. Sensing and effecting backends are swappable collaborators; the
// defaults are neutral seams: evidence read from JSON files, effects run as
// shell commands.
package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"deskgate/internal/model"
	"deskgate/internal/pipeline"
)

// FileSensor reads the latest observation from a JSON file written by the
// sensing backend. A missing file is an observation failure, not an empty
// observation.
type FileSensor struct {
	Path   string
	Source string
}

// Observe implements model.Sensor.
func (s *FileSensor) Observe(ctx context.Context) (model.Evidence, error) {
	if err := ctx.Err(); err != nil {
		return model.Evidence{}, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return model.Evidence{}, fmt.Errorf("sensor: read %s: %w", s.Path, err)
	}
	var ev model.Evidence
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.Evidence{}, fmt.Errorf("sensor: parse %s: %w", s.Path, err)
	}
	if ev.Source == "" {
		ev.Source = s.Source
	}
	return ev, nil
}

type sensorOptions struct {
	Path   string `json:"path"`
	Source string `json:"source"`
}

// SensorModule captures one observation per tick and stores it in the
// context under <instance>.evidence.
type SensorModule struct {
	instance string
	sensor   model.Sensor
}

// NewSensorModule wraps an externally supplied sensor; when sensor is nil a
// FileSensor is built from the instance options.
func NewSensorModule(instance string, sensor model.Sensor) *SensorModule {
	return &SensorModule{instance: instance, sensor: sensor}
}

// Init implements pipeline.Module.
func (m *SensorModule) Init(cfg pipeline.ModuleConfig) error {
	if m.sensor != nil {
		return nil
	}
	var opts sensorOptions
	if err := cfg.DecodeOptions(&opts); err != nil {
		return err
	}
	if opts.Path == "" {
		return &pipeline.ConfigError{Instance: cfg.Instance, Msg: `sensor requires "path"`}
	}
	path := opts.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Root, path)
	}
	source := opts.Source
	if source == "" {
		source = cfg.Instance
	}
	m.sensor = &FileSensor{Path: path, Source: source}
	return nil
}

// RunOnce implements pipeline.Module.
func (m *SensorModule) RunOnce(ctx context.Context, pctx *pipeline.Context) error {
	ev, err := m.sensor.Observe(ctx)
	if err != nil {
		return err
	}
	pctx.Set(m.instance, "evidence", ev)
	return nil
}

// Shutdown implements pipeline.Module.
func (m *SensorModule) Shutdown() error { return nil }
