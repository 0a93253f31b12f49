package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/signalflow/runtime"
)

type recorder struct {
	mu     sync.Mutex
	events []runtime.Event
}

func (r *recorder) emit(e runtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []runtime.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runtime.Event(nil), r.events...)
}

func delta(node, port string, index int) runtime.Event {
	e := runtime.NewEvent(runtime.EventNodeOutputDelta, "run-1")
	e.NodeID = node
	return e.WithPayload("port", port).WithPayload("index", index).WithPayload("value", index)
}

func nodeEvent(kind runtime.EventKind, node string) runtime.Event {
	e := runtime.NewEvent(kind, "run-1")
	e.NodeID = node
	return e
}

func TestThrottle_NonDeltaPassThrough(t *testing.T) {
	var rec recorder
	te := NewThrottledEmitter(rec.emit, ThrottleConfig{CoalesceInterval: time.Hour})
	defer te.Close()

	te.Emit(runtime.NewEvent(runtime.EventRunStarted, "run-1"))
	te.Emit(nodeEvent(runtime.EventNodeStarted, "a"))

	got := rec.snapshot()
	if len(got) != 2 || got[0].Kind != runtime.EventRunStarted || got[1].Kind != runtime.EventNodeStarted {
		t.Fatalf("events = %v", got)
	}
}

func TestThrottle_CoalescesPerPort(t *testing.T) {
	var rec recorder
	te := NewThrottledEmitter(rec.emit, ThrottleConfig{CoalesceInterval: 20 * time.Millisecond})
	defer te.Close()

	for i := 0; i < 5; i++ {
		te.Emit(delta("a", "stream", i))
	}
	te.Emit(delta("a", "other", 0))
	te.Emit(delta("b", "stream", 9))

	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("deltas forwarded before flush: %d", n)
	}

	deadline := time.Now().Add(time.Second)
	for len(rec.snapshot()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := rec.snapshot()
	if len(got) != 3 {
		t.Fatalf("flushed %d deltas, want 3", len(got))
	}
	if got[0].NodeID != "a" || got[0].Payload["index"] != 4 {
		t.Errorf("first flushed = %s %v, want latest delta of a.stream", got[0].NodeID, got[0].Payload)
	}
	if got[1].Payload["port"] != "other" || got[2].NodeID != "b" {
		t.Errorf("flush order = %v", got)
	}
}

func TestThrottle_NodeEventFlushesItsDeltasFirst(t *testing.T) {
	var rec recorder
	te := NewThrottledEmitter(rec.emit, ThrottleConfig{CoalesceInterval: time.Hour})
	defer te.Close()

	te.Emit(delta("a", "stream", 0))
	te.Emit(delta("b", "stream", 0))
	te.Emit(nodeEvent(runtime.EventNodeFinished, "a"))

	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2 (a's delta then node.finished)", len(got))
	}
	if got[0].Kind != runtime.EventNodeOutputDelta || got[0].NodeID != "a" {
		t.Errorf("got[0] = %s/%s", got[0].Kind, got[0].NodeID)
	}
	if got[1].Kind != runtime.EventNodeFinished {
		t.Errorf("got[1] = %s", got[1].Kind)
	}
}

func TestThrottle_CloseFlushesAndPassesLateDeltas(t *testing.T) {
	var rec recorder
	te := NewThrottledEmitter(rec.emit, ThrottleConfig{CoalesceInterval: time.Hour})

	te.Emit(delta("a", "stream", 1))
	te.Close()
	te.Close()

	if n := len(rec.snapshot()); n != 1 {
		t.Fatalf("after Close: %d events, want 1", n)
	}
	te.Emit(delta("a", "stream", 2))
	if n := len(rec.snapshot()); n != 2 {
		t.Errorf("late delta not forwarded: %d events", n)
	}
}

func TestThrottleDecorator_Run(t *testing.T) {
	var rec recorder
	emit := ThrottleDecorator(ThrottleConfig{CoalesceInterval: time.Hour})(rec.emit)

	emit(runtime.NewEvent(runtime.EventRunStarted, "run-1"))
	for i := 0; i < 10; i++ {
		emit(delta("s", "stream", i))
	}
	emit(runtime.NewEvent(runtime.EventRunFinished, "run-1"))

	got := rec.snapshot()
	if len(got) != 3 {
		t.Fatalf("events = %d, want run.started, one delta, run.finished", len(got))
	}
	if got[1].Payload["index"] != 9 || got[2].Kind != runtime.EventRunFinished {
		t.Errorf("events = %v", got)
	}
}
