package pipeline

import (
	"fmt"
	"sort"
)

// Factory builds a fresh module instance. Called once per instance name at
// config-load time.
type Factory func(instance string) Module

// Registry maps module type names to factories. Production modules and test
// doubles register the same way.
type Registry struct {
	factories map[string]Factory
	roles     map[string]Role
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		roles:     make(map[string]Role),
	}
}

// Register adds a module type. Duplicate names are a programming error.
func (r *Registry) Register(typeName string, role Role, factory Factory) error {
	if typeName == "" {
		return fmt.Errorf("registry: type name must be non-empty")
	}
	if _, exists := r.factories[typeName]; exists {
		return fmt.Errorf("registry: module type already registered: %s", typeName)
	}
	r.factories[typeName] = factory
	r.roles[typeName] = role
	return nil
}

// Create builds a module of the given type for an instance name.
func (r *Registry) Create(typeName, instance string) (Module, error) {
	factory, ok := r.factories[typeName]
	if !ok {
		return nil, &ConfigError{
			Instance: instance,
			Msg:      fmt.Sprintf("unknown module type %q (known: %v)", typeName, r.TypeNames()),
		}
	}
	return factory(instance), nil
}

// Role returns the registered role for a type name.
func (r *Registry) Role(typeName string) Role {
	return r.roles[typeName]
}

// TypeNames lists registered types, sorted, for error messages.
func (r *Registry) TypeNames() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
