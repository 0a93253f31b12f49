// Package registry maps node type names and versions to executable
// definitions. A Registry is an explicit dependency: create one, register the
// catalog you need, and hand it to the runtime.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/petal-labs/signalflow/core"
)

// ErrInvalidDefinition is returned by Register for malformed definitions.
var ErrInvalidDefinition = errors.New("invalid node definition")

// Registry holds all known node types.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]*core.Definition
	latest map[string]string // type -> most recently registered version
	order  []string          // preserves registration order
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		types:  make(map[string]*core.Definition),
		latest: make(map[string]string),
	}
}

func key(typeName, version string) string {
	return typeName + "@" + version
}

// Register adds a node type definition. A definition with the same type and
// version is overwritten.
func (r *Registry) Register(def core.Definition) error {
	if def.Type == "" {
		return fmt.Errorf("%w: empty type", ErrInvalidDefinition)
	}
	if !def.Archetype.Valid() {
		return fmt.Errorf("%w: %s has unknown archetype %q", ErrInvalidDefinition, def.Type, def.Archetype)
	}
	if def.Archetype == core.ArchetypeStream && def.Stream == nil {
		return fmt.Errorf("%w: stream-action %s has no stream behavior", ErrInvalidDefinition, def.Type)
	}
	if def.Archetype == core.ArchetypeLoop && def.Loop != core.LoopForEach && def.Loop != core.LoopWhile {
		return fmt.Errorf("%w: loop %s has unknown mode %q", ErrInvalidDefinition, def.Type, def.Loop)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(def.Type, def.Version)
	if _, exists := r.types[k]; !exists {
		r.order = append(r.order, k)
	}
	d := def
	r.types[k] = &d
	r.latest[def.Type] = def.Version
	return nil
}

// MustRegister is Register for static catalogs; it panics on error.
func (r *Registry) MustRegister(defs ...core.Definition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// Definition returns the definition for type and version. An empty version
// selects the most recently registered version of the type.
func (r *Registry) Definition(typeName, version string) (*core.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if version == "" {
		v, ok := r.latest[typeName]
		if !ok {
			return nil, false
		}
		version = v
	}
	def, ok := r.types[key(typeName, version)]
	return def, ok
}

// Has returns true if the type name is registered in any version.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.latest[typeName]
	return ok
}

// All returns all registered definitions in registration order.
func (r *Registry) All() []core.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]core.Definition, 0, len(r.order))
	for _, k := range r.order {
		result = append(result, *r.types[k])
	}
	return result
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// Compile-time interface check.
var _ core.DefinitionSource = (*Registry)(nil)
