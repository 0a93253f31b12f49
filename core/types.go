// Package core provides the foundational types shared by the SignalFlow graph,
// registry, node catalog and runtime packages.
//
// This package contains:
//   - Port and wiring vocabulary: PortType, Direction, Port
//   - Node behavior: Archetype, Definition, RunFunc, StreamFunc
//   - Execution vocabulary: Signal, NodeOutput, Hooks
//   - Push sources: Subscribable, StreamObserver, Subscription
package core

import "fmt"

// Archetype is the behavioral category of a node. It decides how the runtime
// schedules the node; the set is closed.
type Archetype string

const (
	ArchetypeAction   Archetype = "action"
	ArchetypePure     Archetype = "pure"
	ArchetypeBranch   Archetype = "branch"
	ArchetypeMerge    Archetype = "merge"
	ArchetypeFork     Archetype = "fork"
	ArchetypeJoin     Archetype = "join"
	ArchetypeLoop     Archetype = "loop"
	ArchetypeCompound Archetype = "compound"
	ArchetypeStream   Archetype = "stream-action"
)

// String returns the string representation of the Archetype.
func (a Archetype) String() string {
	return string(a)
}

// Valid reports whether a is one of the known archetypes.
func (a Archetype) Valid() bool {
	switch a {
	case ArchetypeAction, ArchetypePure, ArchetypeBranch, ArchetypeMerge,
		ArchetypeFork, ArchetypeJoin, ArchetypeLoop, ArchetypeCompound,
		ArchetypeStream:
		return true
	}
	return false
}

// LoopMode selects the iteration strategy of a loop archetype node.
type LoopMode string

const (
	LoopForEach LoopMode = "for-each"
	LoopWhile   LoopMode = "while"
)

// PortType separates the control plane from the data plane.
type PortType string

const (
	PortControl PortType = "control"
	PortData    PortType = "data"
)

// Direction of a port relative to its node.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Port is a named connection point on a node.
type Port struct {
	Name      string    `json:"name" yaml:"name"`
	Label     string    `json:"label,omitempty" yaml:"label,omitempty"`
	Type      PortType  `json:"type" yaml:"type"`
	Direction Direction `json:"direction" yaml:"direction"`
	DataType  string    `json:"dataType,omitempty" yaml:"dataType,omitempty"` // authoring hint only
	Default   any       `json:"default,omitempty" yaml:"default,omitempty"`
}

// IsControl reports whether the port belongs to the control plane.
func (p Port) IsControl() bool { return p.Type == PortControl }

// IsData reports whether the port belongs to the data plane.
func (p Port) IsData() bool { return p.Type == PortData }

// ControlIn declares a control in-port.
func ControlIn(name string) Port {
	return Port{Name: name, Type: PortControl, Direction: DirectionIn}
}

// ControlOut declares a control out-port.
func ControlOut(name string) Port {
	return Port{Name: name, Type: PortControl, Direction: DirectionOut}
}

// DataIn declares a data in-port with an optional default value.
func DataIn(name, dataType string, def any) Port {
	return Port{Name: name, Type: PortData, Direction: DirectionIn, DataType: dataType, Default: def}
}

// DataOut declares a data out-port.
func DataOut(name, dataType string) Port {
	return Port{Name: name, Type: PortData, Direction: DirectionOut, DataType: dataType}
}

// SignalKind distinguishes control firings from pushed data.
type SignalKind string

const (
	SignalControl SignalKind = "control"
	SignalData    SignalKind = "data"
)

// Signal is a unit of work in the runtime queue.
//
// A signal normally targets an in-port: control means "this port fired", data
// carries a pushed value straight to the port. A signal targeting an out-port
// is an emission from a stream-action node that the runtime fans out along the
// port's edges.
type Signal struct {
	NodeID  string
	Port    string
	Kind    SignalKind
	Payload any
}

// String implements fmt.Stringer for logging.
func (s Signal) String() string {
	return fmt.Sprintf("%s %s.%s", s.Kind, s.NodeID, s.Port)
}

// Control returns a control signal for nodeID.port.
func Control(nodeID, port string) Signal {
	return Signal{NodeID: nodeID, Port: port, Kind: SignalControl}
}

// Data returns a data signal carrying payload for nodeID.port.
func Data(nodeID, port string, payload any) Signal {
	return Signal{NodeID: nodeID, Port: port, Kind: SignalData, Payload: payload}
}

// NodeOutput maps out-port names to the values produced by one execution.
type NodeOutput map[string]any

// Clone returns a shallow copy of the output.
func (o NodeOutput) Clone() NodeOutput {
	if o == nil {
		return nil
	}
	out := make(NodeOutput, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// NodeStatus is reported through Hooks.OnNodeEnd.
type NodeStatus string

const (
	StatusSuccess NodeStatus = "success"
	StatusError   NodeStatus = "error"
)
