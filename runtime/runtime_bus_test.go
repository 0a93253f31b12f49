package runtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/petal-labs/signalflow/bus"
	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/graph"
	"github.com/petal-labs/signalflow/runtime"
)

func TestEngine_Run_WithEventBus(t *testing.T) {
	b := bus.NewMemBus(bus.MemBusConfig{})
	defer b.Close()

	r, _ := testRegistry(t, "test/a")
	g := graph.New("bus-test").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("a", "test/a", nil)).
		Connect("start.out", "a.in")

	runSub := b.Subscribe("bus-run")
	defer runSub.Close()
	failures := b.Subscribe("bus-run", runtime.EventNodeFailed)
	defer failures.Close()

	mustRun(t, r, g, runtime.RunOptions{RunID: "bus-run", EventBus: b})

	var kinds []runtime.EventKind
	var lastSeq uint64
	for len(kinds) == 0 || kinds[len(kinds)-1] != runtime.EventRunFinished {
		select {
		case e := <-runSub.Events():
			if e.Seq <= lastSeq {
				t.Fatalf("seq %d after %d", e.Seq, lastSeq)
			}
			lastSeq = e.Seq
			kinds = append(kinds, e.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %v", kinds)
		}
	}
	// run.started, start and a each started+finished, run.finished
	if len(kinds) != 6 {
		t.Errorf("received %d events via bus, want 6: %v", len(kinds), kinds)
	}
	if len(failures.Events()) != 0 {
		t.Error("filtered subscription received events")
	}
}

func TestEngine_Run_PersistsThroughStoreSubscriber(t *testing.T) {
	store := bus.NewMemEventStore()
	r, _ := testRegistry(t)
	g := graph.New("stream").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("counter", "stream/counter", map[string]any{"chunks": 20})).
		Connect("start.out", "counter.in")

	mustRun(t, r, g, runtime.RunOptions{
		RunID:                 "persisted",
		EventHandler:          bus.NewStoreSubscriber(store, nil).Handle,
		EventEmitterDecorator: bus.ThrottleDecorator(bus.ThrottleConfig{CoalesceInterval: time.Hour}),
	})

	events, err := store.List(context.Background(), "persisted", bus.ListOptions{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	deltas, _ := store.List(context.Background(), "persisted", bus.ListOptions{
		Kinds: []runtime.EventKind{runtime.EventNodeOutputDelta},
	})
	if len(deltas) != 1 || deltas[0].Payload["index"] != 19 {
		t.Errorf("deltas after throttling = %v, want only index 19", deltas)
	}
	if events[len(events)-1].Kind != runtime.EventRunFinished {
		t.Errorf("last stored event = %s", events[len(events)-1].Kind)
	}
	for i, e := range events {
		if e.Seq != uint64(i+1) {
			t.Fatalf("stored seq[%d] = %d, want gapless sequence", i, e.Seq)
		}
	}
}
