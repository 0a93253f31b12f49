package runtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/petal-labs/signalflow/core"
)

// observer carries the hooks, event emitter and logger of a top-level run.
// Nested runs share it.
type observer struct {
	runID  string
	hooks  core.Hooks
	emit   EventEmitter
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	started map[string]time.Time // scope:node -> start time
}

func newObserver(opts RunOptions, logger *slog.Logger) *observer {
	seq := newSeqGen()
	emit := func(e Event) {
		e.Seq = seq.Next()
		if opts.EventBus != nil {
			opts.EventBus.Publish(e)
		}
		if opts.EventHandler != nil {
			opts.EventHandler(e)
		}
	}
	if opts.EventEmitterDecorator != nil {
		emit = opts.EventEmitterDecorator(emit)
	}

	hooks := opts.Hooks
	if hooks == nil {
		hooks = core.NopHooks{}
	}
	return &observer{
		runID:   opts.RunID,
		hooks:   hooks,
		emit:    emit,
		now:     opts.Now,
		logger:  logger,
		started: make(map[string]time.Time),
	}
}

func (o *observer) event(kind EventKind, scope, nodeID string, a core.Archetype) Event {
	e := NewEvent(kind, o.runID).WithNode(nodeID, a).WithScope(scope)
	e.Time = o.now()
	return e
}

func (o *observer) nodeStarted(scope, nodeID string, a core.Archetype) {
	o.mu.Lock()
	o.started[scope+":"+nodeID] = o.now()
	o.mu.Unlock()

	o.hooks.OnNodeStart(nodeID, a)
	o.emit(o.event(EventNodeStarted, scope, nodeID, a))
}

func (o *observer) nodeEnded(scope, nodeID string, a core.Archetype, err error) {
	key := scope + ":" + nodeID
	o.mu.Lock()
	began, ok := o.started[key]
	delete(o.started, key)
	o.mu.Unlock()

	e := o.event(EventNodeFinished, scope, nodeID, a)
	if ok {
		e = e.WithElapsed(e.Time.Sub(began))
	}
	if err != nil {
		o.hooks.OnNodeEnd(nodeID, core.StatusError)
		e.Kind = EventNodeFailed
		o.emit(e.WithPayload("error", err.Error()))
		return
	}
	o.hooks.OnNodeEnd(nodeID, core.StatusSuccess)
	o.emit(e)
}

// nodeHooks is the Hooks value handed to a running node: custom events are
// forwarded to the run's hooks and published as node.custom events.
type nodeHooks struct {
	o      *observer
	scope  string
	nodeID string
	a      core.Archetype
}

func (h nodeHooks) OnNodeStart(nodeID string, a core.Archetype) {
	h.o.hooks.OnNodeStart(nodeID, a)
}

func (h nodeHooks) OnNodeEnd(nodeID string, status core.NodeStatus) {
	h.o.hooks.OnNodeEnd(nodeID, status)
}

func (h nodeHooks) OnCustomEvent(name string, payload any) {
	h.o.hooks.OnCustomEvent(name, payload)
	h.o.emit(h.o.event(EventNodeCustom, h.scope, h.nodeID, h.a).
		WithPayload("name", name).
		WithPayload("value", payload))
}

var _ core.Hooks = nodeHooks{}
