package pipeline

import "fmt"

// ConfigError is fatal at load time: unknown module, malformed config,
// unrecognized option. It is never produced after construction.
type ConfigError struct {
	Instance string
	Msg      string
}

func (e *ConfigError) Error() string {
	if e.Instance != "" {
		return fmt.Sprintf("pipeline config: %s: %s", e.Instance, e.Msg)
	}
	return "pipeline config: " + e.Msg
}

// ModuleError wraps a single module's tick failure. The tick continues past
// it unless the module is marked critical.
type ModuleError struct {
	Instance string
	Err      error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %s: %v", e.Instance, e.Err)
}

func (e *ModuleError) Unwrap() error { return e.Err }
