package runtime_test

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/graph"
	"github.com/petal-labs/signalflow/runtime"
)

func TestEngine_Run_StreamFanOut(t *testing.T) {
	r, recorders := testRegistry(t, "test/logger")

	g := graph.New("fan-out").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("counter", "stream/counter", map[string]any{"chunks": 3})).
		AddNode(node("logger", "test/logger", nil)).
		Connect("start.out", "counter.in").
		Connect("counter.stream", "logger.value")

	var deltas []runtime.Event
	mustRun(t, r, g, runtime.RunOptions{
		EventHandler: func(e runtime.Event) {
			if e.Kind == runtime.EventNodeOutputDelta {
				deltas = append(deltas, e)
			}
		},
	})

	if got := recorders["test/logger"].seen(); !reflect.DeepEqual(got, []any{0, 1, 2}) {
		t.Errorf("logger saw %v, want [0 1 2]", got)
	}
	if len(deltas) != 3 {
		t.Fatalf("node.output.delta events = %d, want 3", len(deltas))
	}
	for i, e := range deltas {
		if e.Payload["index"] != i || e.Payload["port"] != "stream" {
			t.Errorf("delta %d payload = %v", i, e.Payload)
		}
	}
}

func TestEngine_Run_StreamAggregation(t *testing.T) {
	r, _ := testRegistry(t)

	g := graph.New("aggregate").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("counter", "stream/counter", map[string]any{"chunks": 4, "intervalMs": 1})).
		AddNode(node("agg", "text/suffix", map[string]any{"suffix": "_agg"})).
		AddNode(node("end", core.TypeEnd, nil)).
		Connect("start.out", "counter.in").
		Connect("counter.onStreamDone", "agg.in").
		Connect("counter.fullStream", "agg.value").
		Connect("agg.out", "end.in").
		Connect("agg.result", "end.result")

	hooks := newHookRecorder()
	out := mustRun(t, r, g, runtime.RunOptions{Hooks: hooks})

	want := []any{"0_agg", "1_agg", "2_agg", "3_agg"}
	if !reflect.DeepEqual(out["end"], want) {
		t.Errorf("results[end] = %v, want %v", out["end"], want)
	}
	if s, _ := hooks.status("counter"); s != core.StatusSuccess {
		t.Errorf("status(counter) = %q, want success", s)
	}
}

func TestEngine_Run_StreamError(t *testing.T) {
	r, recorders := testRegistry(t, "test/logger", "test/onerror", "test/ondone")

	g := graph.New("stream-error").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("counter", "stream/counter", map[string]any{"chunks": 5, "failAt": 2})).
		AddNode(node("logger", "test/logger", nil)).
		AddNode(node("onerror", "test/onerror", nil)).
		AddNode(node("ondone", "test/ondone", nil)).
		Connect("start.out", "counter.in").
		Connect("counter.stream", "logger.value").
		Connect("counter.onStreamError", "onerror.in").
		Connect("counter.onStreamDone", "ondone.in")

	hooks := newHookRecorder()
	if _, err := run(t, r, g, runtime.RunOptions{Hooks: hooks}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := recorders["test/logger"].seen(); !reflect.DeepEqual(got, []any{0, 1}) {
		t.Errorf("logger saw %v, want [0 1]", got)
	}
	if recorders["test/onerror"].calls() != 1 {
		t.Error("onStreamError should fire once")
	}
	if recorders["test/ondone"].calls() != 0 {
		t.Error("onStreamDone must not fire after an error")
	}
	if s, _ := hooks.status("counter"); s != core.StatusError {
		t.Errorf("status(counter) = %q, want error", s)
	}
}

func TestEngine_Run_StreamSynchronousSource(t *testing.T) {
	r, recorders := testRegistry(t, "test/logger")
	r.MustRegister(core.Definition{
		Type:      "test/sync-stream",
		Archetype: core.ArchetypeStream,
		Ports: []core.Port{
			core.ControlIn("in"),
			core.DataOut("items", "any"),
			core.DataOut("fullItems", "array"),
			core.ControlOut("onItemsDone"),
			core.ControlOut("onItemsError"),
		},
		Stream: func(context.Context, core.RunParams) (core.Subscribable, error) {
			return core.SubscribeFunc(func(obs core.StreamObserver) core.Subscription {
				obs.OnData("items", "a")
				obs.OnData("items", "b")
				obs.OnDone("items")
				return core.UnsubscribeFunc(nil)
			}), nil
		},
	})

	g := graph.New("sync").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("s", "test/sync-stream", nil)).
		AddNode(node("logger", "test/logger", nil)).
		AddNode(node("end", core.TypeEnd, nil)).
		Connect("start.out", "s.in").
		Connect("s.items", "logger.value").
		Connect("s.onItemsDone", "end.in").
		Connect("s.fullItems", "end.result")

	out := mustRun(t, r, g, runtime.RunOptions{})
	if got := recorders["test/logger"].seen(); !reflect.DeepEqual(got, []any{"a", "b"}) {
		t.Errorf("logger saw %v, want [a b]", got)
	}
	if !reflect.DeepEqual(out["end"], []any{"a", "b"}) {
		t.Errorf("results[end] = %v, want [a b]", out["end"])
	}
}

func TestEngine_Run_CancelUnsubscribesStreams(t *testing.T) {
	r, _ := testRegistry(t)
	var unsubscribed atomic.Bool
	subscribed := make(chan struct{})
	r.MustRegister(core.Definition{
		Type:      "test/forever",
		Archetype: core.ArchetypeStream,
		Ports: []core.Port{
			core.ControlIn("in"),
			core.DataOut("stream", "any"),
			core.ControlOut("onStreamDone"),
		},
		Stream: func(context.Context, core.RunParams) (core.Subscribable, error) {
			return core.SubscribeFunc(func(core.StreamObserver) core.Subscription {
				close(subscribed)
				return core.UnsubscribeFunc(func() { unsubscribed.Store(true) })
			}), nil
		},
	})

	g := graph.New("cancel").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("s", "test/forever", nil)).
		Connect("start.out", "s.in")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-subscribed
		cancel()
	}()

	e := runtime.NewEngine(r, runtime.Config{})
	done := make(chan error, 1)
	go func() {
		_, err := e.Run(ctx, g, runtime.RunOptions{})
		done <- err
	}()

	select {
	case err := <-done:
		wantErr(t, err, runtime.ErrRunCanceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if !unsubscribed.Load() {
		t.Error("outstanding subscription was not unsubscribed")
	}
}

func TestEngine_Run_StreamReactivatedWhileRunning(t *testing.T) {
	r, recorders := testRegistry(t, "test/ondone")

	// merge fires the counter twice; both subscriptions overlap in time.
	g := graph.New("overlap").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("fork", "flow/fork", nil)).
		AddNode(node("merge", "flow/merge", nil)).
		AddNode(node("counter", "stream/counter", map[string]any{"chunks": 3, "intervalMs": 5})).
		AddNode(node("ondone", "test/ondone", nil)).
		Connect("start.out", "fork.in").
		Connect("fork.out1", "merge.in1").
		Connect("fork.out2", "merge.in2").
		Connect("merge.out", "counter.in").
		Connect("counter.onStreamDone", "ondone.in").
		Connect("counter.fullStream", "ondone.value")

	var deltas int
	mustRun(t, r, g, runtime.RunOptions{
		EventHandler: func(e runtime.Event) {
			if e.Kind == runtime.EventNodeOutputDelta {
				deltas++
			}
		},
	})

	want := []any{[]any{0, 1, 2}, []any{0, 1, 2}}
	if got := recorders["test/ondone"].seen(); !reflect.DeepEqual(got, want) {
		t.Errorf("onStreamDone saw %v, want %v", got, want)
	}
	if deltas != 6 {
		t.Errorf("node.output.delta events = %d, want 6", deltas)
	}
}

func TestEngine_Run_PushIntoPureWithFailingInput(t *testing.T) {
	r, _ := testRegistry(t)
	r.MustRegister(core.Definition{
		Type:      "test/broken",
		Archetype: core.ArchetypePure,
		Ports:     []core.Port{core.DataOut("value", "any")},
		Run: func(context.Context, core.RunParams) (core.NodeOutput, error) {
			return nil, errors.New("broken")
		},
	})

	g := graph.New("push-pure").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("counter", "stream/counter", map[string]any{"chunks": 1})).
		AddNode(node("broken", "test/broken", nil)).
		AddNode(node("add", "math/add", nil)).
		Connect("start.out", "counter.in").
		Connect("counter.stream", "add.a").
		Connect("broken.value", "add.b")

	hooks := newHookRecorder()
	mustRun(t, r, g, runtime.RunOptions{Hooks: hooks})

	if !slices.Contains(hooks.starts, "add") {
		t.Error("OnNodeStart was not called for add")
	}
	if s, _ := hooks.status("add"); s != core.StatusError {
		t.Errorf("status(add) = %q, want error", s)
	}
}
