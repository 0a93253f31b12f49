package core

import (
	"context"
	"log/slog"
)

// Property describes a named configuration value of a node type.
type Property struct {
	Name    string `json:"name"`
	Label   string `json:"label,omitempty"`
	Default any    `json:"default,omitempty"`
}

// RunParams is what a node's run behavior receives.
type RunParams struct {
	// Input is the resolved input bundle, keyed by in-port name.
	Input NodeOutput

	// Params holds property values: definition defaults overlaid with the
	// node instance's configured properties.
	Params map[string]any

	// Logger is scoped to the executing node.
	Logger *slog.Logger

	// Hooks lets a node publish custom events.
	Hooks Hooks
}

// RunFunc computes a node's output.
type RunFunc func(ctx context.Context, p RunParams) (NodeOutput, error)

// StreamFunc returns a push source instead of a direct output.
// Used only by stream-action nodes.
type StreamFunc func(ctx context.Context, p RunParams) (Subscribable, error)

// Definition is the executable description of a node type.
type Definition struct {
	Type        string     `json:"type"`
	Version     string     `json:"version"`
	Archetype   Archetype  `json:"archetype"`
	Category    string     `json:"category,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	Description string     `json:"description,omitempty"`
	Ports       []Port     `json:"ports"`
	Properties  []Property `json:"properties,omitempty"`
	Triggerable bool       `json:"is_triggerable,omitempty"`
	Loop        LoopMode   `json:"loop,omitempty"` // loop archetype only

	Run    RunFunc    `json:"-"`
	Stream StreamFunc `json:"-"`
}

// Port returns the declared port with the given name.
func (d *Definition) Port(name string) (Port, bool) {
	for _, p := range d.Ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// Params overlays configured values on the property defaults.
func (d *Definition) Params(configured map[string]any) map[string]any {
	params := make(map[string]any, len(d.Properties)+len(configured))
	for _, p := range d.Properties {
		if p.Default != nil {
			params[p.Name] = p.Default
		}
	}
	for k, v := range configured {
		params[k] = v
	}
	return params
}

// DefinitionSource resolves node definitions by type and version.
// It is the only view of the registry the runtime depends on.
type DefinitionSource interface {
	Definition(typeName, version string) (*Definition, bool)
}

// Hooks receives lifecycle callbacks from the runtime. Calls are synchronous
// and made from the run's drain loop.
type Hooks interface {
	OnNodeStart(nodeID string, archetype Archetype)
	OnNodeEnd(nodeID string, status NodeStatus)
	OnCustomEvent(name string, payload any)
}

// NopHooks ignores every callback.
type NopHooks struct{}

func (NopHooks) OnNodeStart(string, Archetype) {}
func (NopHooks) OnNodeEnd(string, NodeStatus) {}
func (NopHooks) OnCustomEvent(string, any) {}

// MultiHooks fans callbacks out to several hooks in order.
type MultiHooks []Hooks

func (m MultiHooks) OnNodeStart(nodeID string, a Archetype) {
	for _, h := range m {
		if h != nil {
			h.OnNodeStart(nodeID, a)
		}
	}
}

func (m MultiHooks) OnNodeEnd(nodeID string, status NodeStatus) {
	for _, h := range m {
		if h != nil {
			h.OnNodeEnd(nodeID, status)
		}
	}
}

func (m MultiHooks) OnCustomEvent(name string, payload any) {
	for _, h := range m {
		if h != nil {
			h.OnCustomEvent(name, payload)
		}
	}
}

// Ensure interface compliance at compile time.
var (
	_ Hooks = NopHooks{}
	_ Hooks = MultiHooks(nil)
)
