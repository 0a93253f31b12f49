package runtime

import (
	"context"
	"fmt"
	"reflect"

	"github.com/petal-labs/signalflow/core"
)

// loopHandler runs the node's subgraph once per element (for-each) or until
// the body reports loopCondition false (while). Each iteration gets its own
// execution state.
type loopHandler struct{}

func (loopHandler) handle(ctx context.Context, r *run, a activation) error {
	r.start(a)
	if a.node.Subgraph == nil {
		return r.fail(a, fmt.Errorf("%w: loop %s has no subgraph", ErrNodeExecution, a.node.ID))
	}
	input, err := r.resolver.Inputs(ctx, a.node, &a.sig)
	if err != nil {
		return r.fail(a, err)
	}

	var out core.NodeOutput
	switch a.def.Loop {
	case core.LoopWhile:
		out, err = r.whileLoop(ctx, a, input)
	default:
		out, err = r.forEach(ctx, a, input)
	}
	if err != nil {
		return r.fail(a, err)
	}

	r.state.SetOutput(a.node.ID, out)
	r.finish(a)
	return r.fire(a.node, core.PortLoopCompleted)
}

func (r *run) forEach(ctx context.Context, a activation, input core.NodeOutput) (core.NodeOutput, error) {
	items, err := toSlice(input[core.PortArray])
	if err != nil {
		return nil, fmt.Errorf("%w: loop %s: %w", ErrNodeExecution, a.node.ID, err)
	}

	iterations := make([]core.NodeOutput, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRunCanceled, err)
		}
		bindings := input.Clone()
		bindings[core.PortItem] = item
		bindings[core.PortIndex] = i

		child := r.child(a.node.Subgraph, &LoopFrame{Item: item, Index: i, HasItem: true}, bindings)
		res, err := child.runSubgraph(ctx)
		if err != nil {
			return nil, err
		}
		iterations = append(iterations, res)
	}

	// Every graph/output port becomes an array aligned with the input.
	out := core.NodeOutput{}
	for i, res := range iterations {
		for k, v := range res {
			col, ok := out[k].([]any)
			if !ok {
				col = make([]any, len(iterations))
				out[k] = col
			}
			col[i] = v
		}
	}
	return out, nil
}

func (r *run) whileLoop(ctx context.Context, a activation, input core.NodeOutput) (core.NodeOutput, error) {
	carry := input.Clone()
	if carry == nil {
		carry = core.NodeOutput{}
	}
	limit := r.engine.maxWhile

	n := 0
	for {
		if n >= limit {
			r.obs.logger.Warn("while loop hit iteration cap", "node_id", a.node.ID, "cap", limit)
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRunCanceled, err)
		}
		carry[core.PortIndex] = n

		child := r.child(a.node.Subgraph, &LoopFrame{Index: n}, carry.Clone())
		res, err := child.runSubgraph(ctx)
		if err != nil {
			return nil, err
		}
		n++
		for k, v := range res {
			carry[k] = v
		}
		if !Truthy(res[core.PortLoopCondition]) {
			break
		}
	}

	delete(carry, core.PortIndex)
	delete(carry, core.PortLoopCondition)
	carry[core.PortIterations] = n
	return carry, nil
}

// compoundHandler runs the embedded subgraph once with the node's inputs
// bound to its graph/input proxies.
type compoundHandler struct{}

func (compoundHandler) handle(ctx context.Context, r *run, a activation) error {
	r.start(a)
	if a.node.Subgraph == nil {
		return r.fail(a, fmt.Errorf("%w: compound %s has no subgraph", ErrNodeExecution, a.node.ID))
	}
	input, err := r.resolver.Inputs(ctx, a.node, &a.sig)
	if err != nil {
		return r.fail(a, err)
	}

	out, err := r.child(a.node.Subgraph, nil, input).runSubgraph(ctx)
	if err != nil {
		return r.fail(a, err)
	}
	r.state.SetOutput(a.node.ID, out)
	r.finish(a)
	return r.fireAll(a.node)
}

// runSubgraph drives a nested run to completion and returns the values of its
// graph/output proxies keyed by their bound port name. A subgraph without a
// start node only has its outputs resolved.
func (r *run) runSubgraph(ctx context.Context) (core.NodeOutput, error) {
	g := r.walker.Graph()
	if starts := g.NodesOfType(core.TypeStart); len(starts) > 0 {
		if err := r.seed(ctx, starts[0].ID, nil); err != nil {
			return nil, err
		}
		if err := r.drain(ctx); err != nil {
			return nil, err
		}
	}

	out := core.NodeOutput{}
	for _, n := range g.NodesOfType(core.TypeGraphOutput) {
		p, err := r.walker.Port(n, core.PortValue)
		if err != nil {
			return nil, err
		}
		v, err := r.resolver.Port(ctx, n, p, nil)
		switch {
		case err == nil:
			out[core.ProxyPortName(n.ID, n.Label, n.Properties)] = v
		case isStructural(err):
			return nil, err
		default:
			r.obs.logger.Warn("subgraph output failed", "node_id", n.ID, "error", err)
		}
	}
	return out, nil
}

func toSlice(v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("array input is %T, not a list", v)
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}
