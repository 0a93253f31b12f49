package bus

import (
	"sync"
	"time"

	"github.com/petal-labs/signalflow/runtime"
)

// DefaultCoalesceInterval is the flush period of a ThrottledEmitter.
const DefaultCoalesceInterval = 100 * time.Millisecond

// ThrottleConfig controls the behavior of ThrottledEmitter.
type ThrottleConfig struct {
	// CoalesceInterval is how often coalesced delta events are flushed.
	CoalesceInterval time.Duration
}

// deltaKey identifies one stream port of one node execution.
type deltaKey struct {
	scope, node, port string
}

// ThrottledEmitter coalesces node.output.delta events: within an interval
// only the latest delta per stream port survives. Every other event passes
// through immediately, after any pending deltas of the same node so a
// consumer never sees a delta after node.finished.
type ThrottledEmitter struct {
	emit     runtime.EventEmitter
	interval time.Duration

	// emitMu serializes downstream emission so flushed deltas and
	// pass-through events cannot interleave.
	emitMu sync.Mutex

	mu      sync.Mutex
	pending map[deltaKey]runtime.Event
	order   []deltaKey
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewThrottledEmitter wraps emit and starts the flush loop.
func NewThrottledEmitter(emit runtime.EventEmitter, cfg ThrottleConfig) *ThrottledEmitter {
	interval := cfg.CoalesceInterval
	if interval <= 0 {
		interval = DefaultCoalesceInterval
	}
	te := &ThrottledEmitter{
		emit:     emit,
		interval: interval,
		pending:  make(map[deltaKey]runtime.Event),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go te.run()
	return te
}

// ThrottleDecorator returns a runtime.EventEmitterDecorator that throttles
// one run's deltas. The emitter shuts itself down once run.finished passes.
func ThrottleDecorator(cfg ThrottleConfig) runtime.EventEmitterDecorator {
	return func(next runtime.EventEmitter) runtime.EventEmitter {
		te := NewThrottledEmitter(next, cfg)
		return func(e runtime.Event) {
			te.Emit(e)
			if e.Kind == runtime.EventRunFinished {
				te.Close()
			}
		}
	}
}

// Emit forwards or coalesces e.
func (te *ThrottledEmitter) Emit(e runtime.Event) {
	if e.Kind == runtime.EventNodeOutputDelta {
		te.mu.Lock()
		if !te.closed {
			key := deltaKey{scope: e.Scope, node: e.NodeID, port: portOf(e)}
			if _, ok := te.pending[key]; !ok {
				te.order = append(te.order, key)
			}
			te.pending[key] = e
			te.mu.Unlock()
			return
		}
		te.mu.Unlock()
		te.flush(nil, &e)
		return
	}

	if e.NodeID == "" {
		te.flush(anyDelta, &e)
		return
	}
	te.flush(func(k deltaKey) bool { return k.node == e.NodeID && k.scope == e.Scope }, &e)
}

// Close flushes pending deltas and stops the flush loop. It is safe to call
// more than once.
func (te *ThrottledEmitter) Close() {
	te.mu.Lock()
	if te.closed {
		te.mu.Unlock()
		return
	}
	te.closed = true
	te.mu.Unlock()

	close(te.stopCh)
	<-te.doneCh
}

func (te *ThrottledEmitter) run() {
	defer close(te.doneCh)

	ticker := time.NewTicker(te.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			te.flush(anyDelta, nil)
		case <-te.stopCh:
			te.flush(anyDelta, nil)
			return
		}
	}
}

func anyDelta(deltaKey) bool { return true }

// flush emits the pending deltas selected by match in arrival order, then
// tail when non-nil. A nil match selects nothing.
func (te *ThrottledEmitter) flush(match func(deltaKey) bool, tail *runtime.Event) {
	te.emitMu.Lock()
	defer te.emitMu.Unlock()

	var out []runtime.Event
	if match != nil {
		te.mu.Lock()
		keep := te.order[:0]
		for _, k := range te.order {
			if match(k) {
				out = append(out, te.pending[k])
				delete(te.pending, k)
				continue
			}
			keep = append(keep, k)
		}
		te.order = keep
		te.mu.Unlock()
	}

	for _, e := range out {
		te.emit(e)
	}
	if tail != nil {
		te.emit(*tail)
	}
}

func portOf(e runtime.Event) string {
	p, _ := e.Payload["port"].(string)
	return p
}
