package runtime

import (
	"context"
	"fmt"

	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/graph"
)

// invokeFunc runs a node's behavior with lifecycle hooks around it.
type invokeFunc func(ctx context.Context, n *graph.Node, def *core.Definition, input core.NodeOutput) (core.NodeOutput, error)

// Resolver computes input bundles. Values come from a pushed data signal, the
// injected scope, the output cache, or by running upstream pure nodes on
// demand. Pure nodes run at most once per execution state.
type Resolver struct {
	walker *graph.Walker
	state  *ExecutionState
	invoke invokeFunc
}

// NewResolver creates a resolver over walker and state. invoke executes pure
// nodes that have to be realized.
func NewResolver(walker *graph.Walker, state *ExecutionState, invoke invokeFunc) *Resolver {
	return &Resolver{walker: walker, state: state, invoke: invoke}
}

// Inputs resolves every data in-port of n. trigger is the signal that
// activated n, or nil.
func (r *Resolver) Inputs(ctx context.Context, n *graph.Node, trigger *core.Signal) (core.NodeOutput, error) {
	ports, err := r.walker.PortsOf(n, core.PortData, core.DirectionIn)
	if err != nil {
		return nil, err
	}
	input := make(core.NodeOutput, len(ports))
	for _, p := range ports {
		v, err := r.Port(ctx, n, p, trigger)
		if err != nil {
			return nil, err
		}
		input[p.Name] = v
	}
	return input, nil
}

// Port resolves a single data in-port of n.
func (r *Resolver) Port(ctx context.Context, n *graph.Node, p core.Port, trigger *core.Signal) (any, error) {
	if trigger != nil && trigger.Kind == core.SignalData && trigger.NodeID == n.ID && trigger.Port == p.Name {
		return trigger.Payload, nil
	}
	if v, ok := r.bound(n, p.Name); ok {
		return v, nil
	}

	e, err := r.walker.UpstreamEdge(n.ID, p.Name)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return p.Default, nil
	}
	return r.realize(ctx, e.Source, e.SourceHandle)
}

// bound returns a value injected by the enclosing loop or compound node.
func (r *Resolver) bound(n *graph.Node, port string) (any, bool) {
	scope := r.state.Scope()
	if n.Type == core.TypeGraphInput {
		v, ok := scope.Inputs[core.ProxyPortName(n.ID, n.Label, n.Properties)]
		return v, ok
	}
	if scope.Loop == nil {
		return nil, false
	}
	switch {
	case port == core.PortIndex:
		return scope.Loop.Index, true
	case port == core.PortItem && scope.Loop.HasItem:
		return scope.Loop.Item, true
	}
	return nil, false
}

// realize returns the value of srcID.srcPort, executing the source if it is
// pure and not yet cached.
func (r *Resolver) realize(ctx context.Context, srcID, srcPort string) (any, error) {
	if out, ok := r.state.Output(srcID); ok {
		return out[srcPort], nil
	}

	src, err := r.walker.Node(srcID)
	if err != nil {
		return nil, err
	}

	if src.Type == core.TypeGraphInput {
		v := r.state.Scope().Inputs[core.ProxyPortName(src.ID, src.Label, src.Properties)]
		r.state.SetOutput(srcID, core.NodeOutput{core.PortValue: v, srcPort: v})
		return v, nil
	}

	def, err := r.walker.Definition(src)
	if err != nil {
		return nil, err
	}
	if def.Archetype != core.ArchetypePure {
		return nil, fmt.Errorf("%w: output %s.%s needed before %s node %s ran",
			ErrExecutionOrder, srcID, srcPort, def.Archetype, srcID)
	}

	if r.state.resolving[srcID] {
		return nil, fmt.Errorf("%w: pure node %s depends on itself", ErrExecutionOrder, srcID)
	}
	r.state.resolving[srcID] = true
	defer delete(r.state.resolving, srcID)

	input, err := r.Inputs(ctx, src, nil)
	if err != nil {
		return nil, err
	}
	out, err := r.invoke(ctx, src, def, input)
	if err != nil {
		return nil, err
	}
	r.state.SetOutput(srcID, out)
	return out[srcPort], nil
}
