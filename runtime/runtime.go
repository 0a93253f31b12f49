package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/graph"
)

// DefaultMaxWhileIterations caps while loops that never turn their condition
// false. Reaching the cap stops the loop without failing it.
const DefaultMaxWhileIterations = 1000

// Config configures an Engine.
type Config struct {
	// Logger is used for engine diagnostics and handed to node behaviors.
	// If nil, slog.Default() is used.
	Logger *slog.Logger

	// MaxWhileIterations caps while loops (default: DefaultMaxWhileIterations).
	MaxWhileIterations int
}

// RunOptions controls a single run.
type RunOptions struct {
	// RunID identifies the run. Generated when empty.
	RunID string

	// StartNodeID is the node the run is seeded at. When empty the first
	// special/start node of the graph is used.
	StartNodeID string

	// InitialData is fed to a triggerable start node as its input bundle.
	InitialData core.NodeOutput

	// Hooks receives node lifecycle callbacks.
	Hooks core.Hooks

	// EventHandler receives events during execution.
	EventHandler EventHandler

	// EventBus distributes events to subscribers.
	EventBus EventPublisher

	// EventEmitterDecorator wraps the internal event emitter.
	EventEmitterDecorator EventEmitterDecorator

	// Metadata is copied into the run.started payload, e.g. the trigger
	// that caused the run.
	Metadata map[string]any

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time
}

// Engine interprets node/edge graphs. An Engine holds no per-run state and is
// safe for concurrent runs.
type Engine struct {
	defs     core.DefinitionSource
	logger   *slog.Logger
	maxWhile int
}

// NewEngine creates an engine resolving node types through defs.
func NewEngine(defs core.DefinitionSource, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxWhileIterations <= 0 {
		cfg.MaxWhileIterations = DefaultMaxWhileIterations
	}
	return &Engine{
		defs:     defs,
		logger:   cfg.Logger,
		maxWhile: cfg.MaxWhileIterations,
	}
}

// Run executes g and returns the values collected from its special/end
// nodes, keyed by label (or id when unlabeled).
//
// Failures of individual node behaviors end their branch and are reported
// through hooks and events only. Structural errors (graph integrity,
// execution order, unknown types) and cancellation abort the run.
func (e *Engine) Run(ctx context.Context, g *graph.Graph, opts RunOptions) (core.NodeOutput, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	obs := newObserver(opts, e.logger.With("run_id", opts.RunID))
	runStart := opts.Now()
	started := NewEvent(EventRunStarted, opts.RunID)
	for k, v := range opts.Metadata {
		started = started.WithPayload(k, v)
	}
	obs.emit(started.
		WithPayload("graph", g.ID).
		WithPayload("start", opts.StartNodeID))

	results, err := e.run(ctx, g, opts, obs)

	finish := NewEvent(EventRunFinished, opts.RunID).WithElapsed(opts.Now().Sub(runStart))
	if err != nil {
		finish = finish.WithPayload("status", "failed").WithPayload("error", err.Error())
	} else {
		finish = finish.WithPayload("status", "completed").WithPayload("results", len(results))
	}
	obs.emit(finish)

	return results, err
}

func (e *Engine) run(ctx context.Context, g *graph.Graph, opts RunOptions, obs *observer) (core.NodeOutput, error) {
	r := e.newRun(g, Scope{RunID: opts.RunID, Token: uuid.NewString()}, obs)

	startID := opts.StartNodeID
	if startID == "" {
		starts := g.NodesOfType(core.TypeStart)
		if len(starts) == 0 {
			return nil, fmt.Errorf("%w: graph %s has no %s node", ErrNoStartNode, g.ID, core.TypeStart)
		}
		startID = starts[0].ID
	}
	if err := r.seed(ctx, startID, opts.InitialData); err != nil {
		return nil, err
	}
	if err := r.drain(ctx); err != nil {
		return nil, err
	}
	return r.collectResults(ctx)
}

// run is one execution of one graph: the top-level workflow or a nested
// loop/compound body.
type run struct {
	engine   *Engine
	walker   *graph.Walker
	state    *ExecutionState
	resolver *Resolver
	obs      *observer
}

func (e *Engine) newRun(g *graph.Graph, scope Scope, obs *observer) *run {
	r := &run{
		engine: e,
		walker: graph.NewWalker(g, e.defs),
		state:  NewExecutionState(scope),
		obs:    obs,
	}
	r.resolver = NewResolver(r.walker, r.state, r.invokePure)
	return r
}

// seed enqueues the first signal. A triggerable start node given initial
// data runs eagerly with that data as its input.
func (r *run) seed(ctx context.Context, startID string, initial core.NodeOutput) error {
	n, err := r.walker.Node(startID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoStartNode, err)
	}
	def, err := r.walker.Definition(n)
	if err != nil {
		return err
	}

	if initial == nil || !def.Triggerable {
		if initial != nil {
			r.obs.logger.Debug("start node is not triggerable, ignoring initial data", "node_id", startID)
		}
		r.state.Enqueue(core.Control(startID, core.PortIn))
		return nil
	}

	a := activation{node: n, def: def, sig: core.Control(startID, core.PortIn)}
	r.start(a)
	out, err := r.execute(ctx, a, initial.Clone())
	if err != nil {
		return r.fail(a, err)
	}
	r.state.SetOutput(startID, out)
	r.finish(a)
	return r.fire(n, core.PortOut)
}

// drain processes signals until the queue is empty and no background
// producer remains. When only producers are outstanding it blocks until one
// of them pushes or finishes.
func (r *run) drain(ctx context.Context) error {
	for r.state.HasActiveTasks() {
		if err := ctx.Err(); err != nil {
			r.state.CancelTasks()
			return fmt.Errorf("%w: %w", ErrRunCanceled, err)
		}
		sig, ok := r.state.Dequeue()
		if !ok {
			if err := r.state.Wait(ctx); err != nil {
				r.state.CancelTasks()
				return fmt.Errorf("%w: %w", ErrRunCanceled, err)
			}
			continue
		}
		if err := r.dispatch(ctx, sig); err != nil {
			r.state.CancelTasks()
			return err
		}
	}
	return nil
}

// dispatch routes one signal to the handler of its target's archetype.
func (r *run) dispatch(ctx context.Context, sig core.Signal) error {
	n, err := r.walker.Node(sig.NodeID)
	if err != nil {
		return err
	}
	def, err := r.walker.Definition(n)
	if err != nil {
		return err
	}

	if def.Archetype == core.ArchetypeStream && r.isEmission(n, sig.Port) {
		return r.emit(ctx, n, def, sig)
	}

	if sig.Kind == core.SignalControl {
		if _, err := r.walker.UpstreamEdge(n.ID, sig.Port); err != nil {
			return err
		}
	}
	if _, err := r.walker.Port(n, sig.Port); err != nil {
		return err
	}

	h, err := handlerFor(def.Archetype)
	if err != nil {
		return err
	}
	return h.handle(ctx, r, activation{node: n, def: def, sig: sig})
}

// collectResults reads the result input of every special/end node.
//
// An end node that ran contributes its cached result. An end node without
// control wiring is force-resolved, which may run pure nodes; reading an
// action that never ran fails the run with ErrExecutionOrder. An end node
// wired for control that never fired sat on a branch not taken and is
// skipped.
func (r *run) collectResults(ctx context.Context) (core.NodeOutput, error) {
	results := core.NodeOutput{}
	for _, n := range r.walker.Graph().NodesOfType(core.TypeEnd) {
		key := n.DisplayName()
		if out, ok := r.state.Output(n.ID); ok {
			results[key] = out[core.PortResult]
			continue
		}

		controlled, err := r.hasControlInput(n)
		if err != nil {
			return nil, err
		}
		if controlled {
			continue
		}

		p, err := r.walker.Port(n, core.PortResult)
		if err != nil {
			return nil, err
		}
		v, err := r.resolver.Port(ctx, n, p, nil)
		switch {
		case err == nil:
			results[key] = v
		case isStructural(err):
			return nil, err
		default:
			r.obs.logger.Warn("end node result failed", "node_id", n.ID, "error", err)
		}
	}
	return results, nil
}

func (r *run) hasControlInput(n *graph.Node) (bool, error) {
	ports, err := r.walker.PortsOf(n, core.PortControl, core.DirectionIn)
	if err != nil {
		return false, err
	}
	for _, p := range ports {
		if e, err := r.walker.UpstreamEdge(n.ID, p.Name); err != nil {
			return false, err
		} else if e != nil {
			return true, nil
		}
	}
	return false, nil
}

// child creates an isolated run over a subgraph. It shares the observer
// but nothing else.
func (r *run) child(g *graph.Graph, loop *LoopFrame, inputs core.NodeOutput) *run {
	return r.engine.newRun(g, Scope{
		RunID:  r.state.scope.RunID,
		Token:  uuid.NewString(),
		Loop:   loop,
		Inputs: inputs,
	}, r.obs)
}
