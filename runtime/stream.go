package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/graph"
)

// streamBuffer keeps what a stream-action node has pushed so far. It is only
// touched by the drain loop.
type streamBuffer struct {
	ports   []string
	done    map[string]string // on<P>Done -> P
	failed  map[string]string // on<P>Error -> P
	chunks  map[string][]any
	pending map[string]bool
}

func newStreamBuffer(ports []string) *streamBuffer {
	b := &streamBuffer{
		ports:   ports,
		done:    make(map[string]string, len(ports)),
		failed:  make(map[string]string, len(ports)),
		chunks:  make(map[string][]any, len(ports)),
		pending: make(map[string]bool, len(ports)),
	}
	for _, p := range ports {
		b.done[core.DonePort(p)] = p
		b.failed[core.ErrorPort(p)] = p
		b.pending[p] = true
	}
	return b
}

// emission wraps the payload of a signal pushed by a subscription so the
// drain loop can route it to the buffer of the activation that owns it.
type emission struct {
	handle TaskHandle
	value  any
}

// streamHandler subscribes to the node's push source. Each push is routed
// back through the queue so the drain loop stays the only writer of the cache.
type streamHandler struct{}

func (streamHandler) handle(ctx context.Context, r *run, a activation) error {
	r.start(a)
	input, err := r.resolver.Inputs(ctx, a.node, &a.sig)
	if err != nil {
		return r.fail(a, err)
	}

	ports, err := r.streamPorts(a.node)
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		return r.fail(a, fmt.Errorf("%w: node %s declares no stream port", ErrNodeExecution, a.node.ID))
	}

	src, err := r.subscribable(ctx, a, input)
	if err != nil {
		return r.fail(a, err)
	}

	if !r.state.HasOutput(a.node.ID) {
		r.state.SetOutput(a.node.ID, core.NodeOutput{})
	}

	id := a.node.ID
	h := r.state.AddTask(ports)
	r.state.streams[h] = newStreamBuffer(ports)
	obs := core.StreamObserver{
		OnData: func(port string, value any) {
			r.state.Push(h, core.Data(id, port, emission{handle: h, value: value}))
		},
		OnDone: func(port string) {
			sig := core.Control(id, core.DonePort(port))
			sig.Payload = emission{handle: h}
			r.state.Done(h, port, sig)
		},
		OnError: func(port string, err error) {
			sig := core.Signal{NodeID: id, Port: core.ErrorPort(port), Kind: core.SignalControl, Payload: emission{handle: h, value: err}}
			if sub, ok := r.state.Fail(h, sig); ok && sub != nil {
				sub.Unsubscribe()
			}
		},
	}

	sub, err := subscribe(src, obs)
	if err != nil {
		r.state.ReleaseTask(h)
		delete(r.state.streams, h)
		return r.fail(a, fmt.Errorf("%w: node %s: %w", ErrNodeExecution, id, err))
	}
	if !r.state.AttachTask(h, sub) {
		// Completed or failed synchronously inside Subscribe.
		sub.Unsubscribe()
	}
	return nil
}

// subscribable invokes the node's Stream behavior.
func (r *run) subscribable(ctx context.Context, a activation, input core.NodeOutput) (src core.Subscribable, err error) {
	if a.def.Stream == nil {
		return nil, fmt.Errorf("%w: node %s has no stream behavior", ErrNodeExecution, a.node.ID)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: node %s: panic: %v", ErrNodeExecution, a.node.ID, p)
		}
	}()
	src, err = a.def.Stream(ctx, r.params(a, input))
	if err != nil {
		return nil, fmt.Errorf("%w: node %s: %w", ErrNodeExecution, a.node.ID, err)
	}
	if src == nil {
		return nil, fmt.Errorf("%w: node %s returned no source", ErrNodeExecution, a.node.ID)
	}
	return src, nil
}

func subscribe(src core.Subscribable, obs core.StreamObserver) (sub core.Subscription, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("subscribe panicked: %v", p)
		}
	}()
	sub = src.Subscribe(obs)
	if sub == nil {
		sub = core.UnsubscribeFunc(nil)
	}
	return sub, nil
}

// streamPorts returns the data out-ports of n that have a matching
// on<P>Done control out-port.
func (r *run) streamPorts(n *graph.Node) ([]string, error) {
	outs, err := r.walker.PortsOf(n, core.PortData, core.DirectionOut)
	if err != nil {
		return nil, err
	}
	var ports []string
	for _, p := range outs {
		done, err := r.walker.Port(n, core.DonePort(p.Name))
		if err != nil {
			if errors.Is(err, graph.ErrPortNotFound) {
				continue
			}
			return nil, err
		}
		if done.IsControl() && done.Direction == core.DirectionOut {
			ports = append(ports, p.Name)
		}
	}
	return ports, nil
}

// isEmission reports whether a signal addressed to a stream node's port was
// pushed by its own subscription rather than arriving from upstream.
func (r *run) isEmission(n *graph.Node, port string) bool {
	p, err := r.walker.Port(n, port)
	if err != nil {
		return false
	}
	return p.Direction == core.DirectionOut
}

// emit applies one push from a stream-action subscription. Every activation
// owns its buffer, so concurrent subscriptions of the same node keep their
// chunks and completions apart.
func (r *run) emit(_ context.Context, n *graph.Node, def *core.Definition, sig core.Signal) error {
	em, ok := sig.Payload.(emission)
	if !ok {
		r.obs.logger.Warn("dropping push without a subscription", "node_id", n.ID, "port", sig.Port)
		return nil
	}
	buf, ok := r.state.streams[em.handle]
	if !ok {
		r.obs.logger.Debug("dropping push from inactive stream", "node_id", n.ID, "port", sig.Port)
		return nil
	}
	a := activation{node: n, def: def, sig: sig}
	out, _ := r.state.Output(n.ID)

	if port, ok := buf.done[sig.Port]; ok {
		out[core.FullPort(port)] = slices.Clone(buf.chunks[port])
		delete(buf.pending, port)
		if len(buf.pending) == 0 {
			delete(r.state.streams, em.handle)
			r.finish(a)
		}
		return r.fire(n, sig.Port)
	}

	if port, ok := buf.failed[sig.Port]; ok {
		err, _ := em.value.(error)
		if err == nil {
			err = fmt.Errorf("stream %s failed", port)
		}
		delete(r.state.streams, em.handle)
		out["error"] = err.Error()
		r.obs.logger.Warn("stream failed", "node_id", n.ID, "port", port, "error", err)
		r.obs.nodeEnded(r.state.scope.Token, n.ID, def.Archetype, fmt.Errorf("%w: node %s: %w", ErrNodeExecution, n.ID, err))
		return r.fire(n, sig.Port)
	}

	if !slices.Contains(buf.ports, sig.Port) {
		r.obs.logger.Warn("push on undeclared stream port", "node_id", n.ID, "port", sig.Port)
		return nil
	}

	index := len(buf.chunks[sig.Port])
	buf.chunks[sig.Port] = append(buf.chunks[sig.Port], em.value)
	out[sig.Port] = em.value

	r.obs.emit(r.obs.event(EventNodeOutputDelta, r.state.scope.Token, n.ID, def.Archetype).
		WithPayload("port", sig.Port).
		WithPayload("value", em.value).
		WithPayload("index", index))

	for _, e := range r.walker.DownstreamEdges(n.ID, sig.Port) {
		r.state.Enqueue(core.Data(e.Target, e.TargetHandle, em.value))
	}
	return nil
}
