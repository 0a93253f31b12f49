package registry

import "github.com/petal-labs/signalflow/nodes"

// NewWithBuiltins creates a registry holding the built-in node catalog.
func NewWithBuiltins() *Registry {
	r := New()
	r.MustRegister(nodes.Builtins()...)
	return r
}
