package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"

	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/graph"
)

// activation is one dequeued signal bound to its target node.
type activation struct {
	node *graph.Node
	def  *core.Definition
	sig  core.Signal
}

// handler is the strategy for one archetype.
type handler interface {
	handle(ctx context.Context, r *run, a activation) error
}

// handlerFor maps the closed set of archetypes to their handlers.
func handlerFor(a core.Archetype) (handler, error) {
	switch a {
	case core.ArchetypeAction:
		return actionHandler{}, nil
	case core.ArchetypePure:
		return pureHandler{}, nil
	case core.ArchetypeBranch:
		return branchHandler{}, nil
	case core.ArchetypeMerge:
		return mergeHandler{}, nil
	case core.ArchetypeFork:
		return forkHandler{}, nil
	case core.ArchetypeJoin:
		return joinHandler{}, nil
	case core.ArchetypeLoop:
		return loopHandler{}, nil
	case core.ArchetypeCompound:
		return compoundHandler{}, nil
	case core.ArchetypeStream:
		return streamHandler{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownArchetype, a)
	}
}

// actionHandler runs the node and fires every control out-port.
type actionHandler struct{}

func (actionHandler) handle(ctx context.Context, r *run, a activation) error {
	r.start(a)
	input, err := r.resolver.Inputs(ctx, a.node, &a.sig)
	if err != nil {
		return r.fail(a, err)
	}
	out, err := r.execute(ctx, a, input)
	if err != nil {
		return r.fail(a, err)
	}
	r.state.SetOutput(a.node.ID, out)
	r.finish(a)
	return r.fireAll(a.node)
}

// pureHandler only runs when a control edge mistakenly targets a pure node.
// Pure nodes never propagate control.
type pureHandler struct{}

func (pureHandler) handle(ctx context.Context, r *run, a activation) error {
	if r.state.HasOutput(a.node.ID) {
		return nil
	}
	input, err := r.resolver.Inputs(ctx, a.node, &a.sig)
	if err != nil {
		r.start(a)
		return r.fail(a, err)
	}
	out, err := r.invokePure(ctx, a.node, a.def, input)
	if err != nil {
		return nil
	}
	r.state.SetOutput(a.node.ID, out)
	return nil
}

// branchHandler fires exactly one of the true/false out-ports.
type branchHandler struct{}

func (branchHandler) handle(ctx context.Context, r *run, a activation) error {
	r.start(a)
	input, err := r.resolver.Inputs(ctx, a.node, &a.sig)
	if err != nil {
		return r.fail(a, err)
	}

	cond := input[core.PortCondition]
	out := core.NodeOutput{}
	if a.def.Run != nil {
		out, err = r.execute(ctx, a, input)
		if err != nil {
			return r.fail(a, err)
		}
		if v, ok := out[core.PortCondition]; ok {
			cond = v
		}
	}

	taken := Truthy(cond)
	out = out.Clone()
	if out == nil {
		out = core.NodeOutput{}
	}
	out[core.PortCondition] = taken
	r.state.SetOutput(a.node.ID, out)
	r.finish(a)

	if taken {
		return r.fire(a.node, core.PortTrue)
	}
	return r.fire(a.node, core.PortFalse)
}

// mergeHandler passes any control arrival straight through.
type mergeHandler struct{}

func (mergeHandler) handle(_ context.Context, r *run, a activation) error {
	if a.sig.Kind != core.SignalControl {
		r.ignore(a)
		return nil
	}
	r.start(a)
	r.finish(a)
	return r.fireAll(a.node)
}

// forkHandler fans out to every control out-port.
type forkHandler struct{}

func (forkHandler) handle(_ context.Context, r *run, a activation) error {
	if a.sig.Kind != core.SignalControl {
		r.ignore(a)
		return nil
	}
	r.start(a)
	r.finish(a)
	return r.fireAll(a.node)
}

// joinHandler waits for as many control arrivals as the node declares
// control in-ports, then fires once and forgets the counter.
type joinHandler struct{}

func (joinHandler) handle(_ context.Context, r *run, a activation) error {
	if a.sig.Kind != core.SignalControl {
		r.ignore(a)
		return nil
	}

	counter, ok := r.state.Join(a.node.ID)
	if !ok {
		ins, err := r.walker.PortsOf(a.node, core.PortControl, core.DirectionIn)
		if err != nil {
			return err
		}
		counter = &JoinCounter{Expected: max(len(ins), 1)}
		r.state.SetJoin(a.node.ID, counter)
		r.start(a)
	}

	counter.Received++
	r.obs.logger.Debug("join arrival",
		"node_id", a.node.ID, "port", a.sig.Port,
		"received", counter.Received, "expected", counter.Expected)
	if counter.Received < counter.Expected {
		return nil
	}

	r.state.ClearJoin(a.node.ID)
	r.finish(a)
	return r.fireAll(a.node)
}

// start reports the node as started.
func (r *run) start(a activation) {
	r.obs.nodeStarted(r.state.scope.Token, a.node.ID, a.def.Archetype)
}

// finish reports the node as successfully ended.
func (r *run) finish(a activation) {
	r.obs.nodeEnded(r.state.scope.Token, a.node.ID, a.def.Archetype, nil)
}

// fail handles an error raised while handling a. Structural errors are
// returned and abort the run. Anything else ends the node with an error
// status and silences its branch.
func (r *run) fail(a activation, err error) error {
	if isStructural(err) {
		return err
	}
	r.obs.logger.Warn("node failed", "node_id", a.node.ID, "node_type", a.node.Type, "error", err)
	r.obs.nodeEnded(r.state.scope.Token, a.node.ID, a.def.Archetype, err)
	return nil
}

func (r *run) ignore(a activation) {
	r.obs.logger.Debug("ignoring data signal", "node_id", a.node.ID, "archetype", a.def.Archetype, "port", a.sig.Port)
}

// params builds what a node behavior receives.
func (r *run) params(a activation, input core.NodeOutput) core.RunParams {
	return core.RunParams{
		Input:  input,
		Params: a.def.Params(a.node.Properties),
		Logger: r.nodeLogger(a.node),
		Hooks:  nodeHooks{o: r.obs, scope: r.state.scope.Token, nodeID: a.node.ID, a: a.def.Archetype},
	}
}

func (r *run) nodeLogger(n *graph.Node) *slog.Logger {
	return r.obs.logger.With("node_id", n.ID, "node_type", n.Type)
}

// execute calls the node's Run behavior. A nil Run yields an empty output.
// Panics are converted into node failures.
func (r *run) execute(ctx context.Context, a activation, input core.NodeOutput) (out core.NodeOutput, err error) {
	if a.def.Run == nil {
		return core.NodeOutput{}, nil
	}
	defer func() {
		if p := recover(); p != nil {
			r.obs.logger.Error("node panicked", "node_id", a.node.ID, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: node %s: panic: %v", ErrNodeExecution, a.node.ID, p)
		}
	}()
	out, err = a.def.Run(ctx, r.params(a, input))
	if err != nil {
		return nil, fmt.Errorf("%w: node %s: %w", ErrNodeExecution, a.node.ID, err)
	}
	if out == nil {
		out = core.NodeOutput{}
	}
	return out, nil
}

// invokePure runs a pure node with lifecycle reporting. It is the
// resolver's way of realizing pure values on demand.
func (r *run) invokePure(ctx context.Context, n *graph.Node, def *core.Definition, input core.NodeOutput) (core.NodeOutput, error) {
	a := activation{node: n, def: def}
	r.start(a)
	out, err := r.execute(ctx, a, input)
	if err != nil {
		r.obs.nodeEnded(r.state.scope.Token, n.ID, def.Archetype, err)
		return nil, err
	}
	r.finish(a)
	return out, nil
}

// fire enqueues a control signal for every edge leaving n.port.
func (r *run) fire(n *graph.Node, port string) error {
	for _, e := range r.walker.DownstreamEdges(n.ID, port) {
		r.state.Enqueue(core.Control(e.Target, e.TargetHandle))
	}
	return nil
}

// fireAll fires every declared control out-port of n.
func (r *run) fireAll(n *graph.Node) error {
	outs, err := r.walker.PortsOf(n, core.PortControl, core.DirectionOut)
	if err != nil {
		return err
	}
	for _, p := range outs {
		if err := r.fire(n, p.Name); err != nil {
			return err
		}
	}
	return nil
}

// Truthy interprets a condition value. Booleans are themselves; nil, zero
// numbers, empty strings and empty collections are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32:
		return rv.Float() != 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
