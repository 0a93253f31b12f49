package runtime_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/graph"
	"github.com/petal-labs/signalflow/runtime"
)

func proxy(id, typ, portName string) graph.Node {
	return graph.Node{ID: id, Type: typ, Properties: map[string]any{core.PropPortName: portName}}
}

func TestEngine_Run_CompoundBinding(t *testing.T) {
	r, _ := testRegistry(t)

	body := graph.New("body").
		AddNode(proxy("x", core.TypeGraphInput, "x")).
		AddNode(node("ten", "data/constant", map[string]any{"value": 10})).
		AddNode(node("add", "math/add", nil)).
		AddNode(proxy("y", core.TypeGraphOutput, "y")).
		Connect("x.value", "add.a").
		Connect("ten.value", "add.b").
		Connect("add.result", "y.value")

	compound := node("compound", "graph/compound", nil)
	compound.Ports = []core.Port{core.DataIn("x", "number", nil), core.DataOut("y", "number")}
	compound.Subgraph = body

	g := graph.New("compound").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("five", "data/constant", map[string]any{"value": 5})).
		AddNode(compound).
		AddNode(node("end", core.TypeEnd, nil)).
		Connect("start.out", "compound.in").
		Connect("five.value", "compound.x").
		Connect("compound.out", "end.in").
		Connect("compound.y", "end.result")

	out := mustRun(t, r, g, runtime.RunOptions{})
	if out["end"] != 15 {
		t.Errorf("results[end] = %v, want 15", out["end"])
	}
}

func TestEngine_Run_CompoundWithStart(t *testing.T) {
	r, recorders := testRegistry(t, "test/inner")

	body := graph.New("body").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(proxy("msg", core.TypeGraphInput, "msg")).
		AddNode(node("inner", "test/inner", nil)).
		AddNode(proxy("echo", core.TypeGraphOutput, "echo")).
		Connect("start.out", "inner.in").
		Connect("msg.value", "inner.value").
		Connect("inner.result", "echo.value")

	compound := node("c", "graph/compound", nil)
	compound.Ports = []core.Port{core.DataIn("msg", "string", nil), core.DataOut("echo", "string")}
	compound.Subgraph = body

	g := graph.New("outer").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("hello", "data/constant", map[string]any{"value": "hello"})).
		AddNode(compound).
		AddNode(node("end", core.TypeEnd, nil)).
		Connect("start.out", "c.in").
		Connect("hello.value", "c.msg").
		Connect("c.out", "end.in").
		Connect("c.echo", "end.result")

	out := mustRun(t, r, g, runtime.RunOptions{})
	if out["end"] != "hello" {
		t.Errorf("results[end] = %v, want hello", out["end"])
	}
	if recorders["test/inner"].calls() != 1 {
		t.Errorf("inner ran %d times, want 1", recorders["test/inner"].calls())
	}
}

func TestEngine_Run_CompoundOutputFromIdleAction(t *testing.T) {
	r, _ := testRegistry(t, "test/idle")

	body := graph.New("body").
		AddNode(node("idle", "test/idle", nil)).
		AddNode(proxy("y", core.TypeGraphOutput, "y")).
		Connect("idle.result", "y.value")

	compound := node("compound", "graph/compound", nil)
	compound.Ports = []core.Port{core.DataOut("y", "any")}
	compound.Subgraph = body

	g := graph.New("idle").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(compound).
		Connect("start.out", "compound.in")

	_, err := run(t, r, g, runtime.RunOptions{})
	wantErr(t, err, runtime.ErrExecutionOrder)
}

func TestEngine_Run_ForEachCollects(t *testing.T) {
	r, _ := testRegistry(t)

	body := graph.New("body").
		AddNode(proxy("item", core.TypeGraphInput, "item")).
		AddNode(node("hundred", "data/constant", map[string]any{"value": 100})).
		AddNode(node("add", "math/add", nil)).
		AddNode(proxy("collected", core.TypeGraphOutput, "collected")).
		Connect("item.value", "add.a").
		Connect("hundred.value", "add.b").
		Connect("add.result", "collected.value")

	loop := node("loop", "loop/for-each", nil)
	loop.Subgraph = body

	g := graph.New("for-each").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("items", "data/constant", map[string]any{"value": []int{1, 2, 3}})).
		AddNode(loop).
		AddNode(node("end", core.TypeEnd, nil)).
		Connect("start.out", "loop.in").
		Connect("items.value", "loop.array").
		Connect("loop.loopCompleted", "end.in").
		Connect("loop.collected", "end.result")

	out := mustRun(t, r, g, runtime.RunOptions{})
	want := []any{101, 102, 103}
	if !reflect.DeepEqual(out["end"], want) {
		t.Errorf("results[end] = %v, want %v", out["end"], want)
	}
}

func TestEngine_Run_ForEachBindsItemAndIndexPorts(t *testing.T) {
	r, _ := testRegistry(t)
	var seen []any
	r.MustRegister(core.Definition{
		Type:      "test/item-reader",
		Archetype: core.ArchetypeAction,
		Ports: []core.Port{
			core.ControlIn("in"),
			core.DataIn("item", "any", nil),
			core.DataIn("index", "number", nil),
		},
		Run: func(_ context.Context, p core.RunParams) (core.NodeOutput, error) {
			seen = append(seen, p.Input["index"], p.Input["item"])
			return nil, nil
		},
	})

	body := graph.New("body").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("reader", "test/item-reader", nil)).
		Connect("start.out", "reader.in")

	loop := node("loop", "loop/for-each", nil)
	loop.Subgraph = body

	g := graph.New("for-each").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("items", "data/constant", map[string]any{"value": []any{"a", "b"}})).
		AddNode(loop).
		Connect("start.out", "loop.in").
		Connect("items.value", "loop.array")

	mustRun(t, r, g, runtime.RunOptions{})
	want := []any{0, "a", 1, "b"}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("seen = %v, want %v", seen, want)
	}
}

func TestEngine_Run_ForEachJoinPerIteration(t *testing.T) {
	r, recorders := testRegistry(t, "test/after")

	body := graph.New("body").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("fork", "flow/fork", nil)).
		AddNode(node("join", "flow/join", nil)).
		AddNode(node("after", "test/after", nil)).
		Connect("start.out", "fork.in").
		Connect("fork.out1", "join.in1").
		Connect("fork.out2", "join.in2").
		Connect("join.out", "after.in")

	loop := node("loop", "loop/for-each", nil)
	loop.Subgraph = body

	g := graph.New("joins").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(node("items", "data/constant", map[string]any{"value": []any{1, 2, 3}})).
		AddNode(loop).
		Connect("start.out", "loop.in").
		Connect("items.value", "loop.array")

	mustRun(t, r, g, runtime.RunOptions{})
	if n := recorders["test/after"].calls(); n != 3 {
		t.Errorf("join fired %d times, want once per iteration (3)", n)
	}
}

func whileBody(cond graph.Node) *graph.Graph {
	return graph.New("body").
		AddNode(proxy("n", core.TypeGraphInput, "n")).
		AddNode(node("one", "data/constant", map[string]any{"value": 1})).
		AddNode(node("inc", "math/add", nil)).
		AddNode(proxy("next", core.TypeGraphOutput, "n")).
		AddNode(cond).
		AddNode(proxy("cond", core.TypeGraphOutput, core.PortLoopCondition)).
		Connect("n.value", "inc.a").
		Connect("one.value", "inc.b").
		Connect("inc.result", "next.value").
		Connect(cond.ID+".result", "cond.value")
}

func TestEngine_Run_WhileCarriesOutputs(t *testing.T) {
	r, _ := testRegistry(t)

	// n := 0; do { n++ } while (n < 3)
	body := whileBody(node("lt", "math/compare", map[string]any{"operator": "<"})).
		AddNode(node("three", "data/constant", map[string]any{"value": 3})).
		Connect("inc.result", "lt.a").
		Connect("three.value", "lt.b")

	loop := node("loop", "loop/while", nil)
	loop.Ports = []core.Port{core.DataIn("n", "number", 0)}
	loop.Subgraph = body

	g := graph.New("while").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(loop).
		AddNode(node("end", core.TypeEnd, nil)).
		Connect("start.out", "loop.in").
		Connect("loop.loopCompleted", "end.in").
		Connect("loop.iterations", "end.result")

	out := mustRun(t, r, g, runtime.RunOptions{})
	if out["end"] != 3 {
		t.Errorf("iterations = %v, want 3", out["end"])
	}
}

func TestEngine_Run_WhileCap(t *testing.T) {
	r, _ := testRegistry(t)

	body := graph.New("body").
		AddNode(node("always", "data/constant", map[string]any{"value": true})).
		AddNode(proxy("cond", core.TypeGraphOutput, core.PortLoopCondition)).
		Connect("always.value", "cond.value")

	loop := node("loop", "loop/while", nil)
	loop.Subgraph = body

	g := graph.New("runaway").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(loop).
		AddNode(node("end", core.TypeEnd, nil)).
		Connect("start.out", "loop.in").
		Connect("loop.loopCompleted", "end.in").
		Connect("loop.iterations", "end.result")

	e := runtime.NewEngine(r, runtime.Config{MaxWhileIterations: 7})
	out, err := e.Run(context.Background(), g, runtime.RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v, hitting the cap is not an error", err)
	}
	if out["end"] != 7 {
		t.Errorf("iterations = %v, want 7", out["end"])
	}
}

func TestEngine_Run_LoopCanceled(t *testing.T) {
	r, _ := testRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	r.MustRegister(core.Definition{
		Type:      "test/cancel",
		Archetype: core.ArchetypePure,
		Ports:     []core.Port{core.DataOut("value", "any")},
		Run: func(context.Context, core.RunParams) (core.NodeOutput, error) {
			cancel()
			return core.NodeOutput{"value": true}, nil
		},
	})

	body := graph.New("body").
		AddNode(node("c", "test/cancel", nil)).
		AddNode(proxy("cond", core.TypeGraphOutput, core.PortLoopCondition)).
		Connect("c.value", "cond.value")

	loop := node("loop", "loop/while", nil)
	loop.Subgraph = body

	g := graph.New("cancel").
		AddNode(node("start", core.TypeStart, nil)).
		AddNode(loop).
		Connect("start.out", "loop.in")

	_, err := runtime.NewEngine(r, runtime.Config{}).Run(ctx, g, runtime.RunOptions{})
	wantErr(t, err, runtime.ErrRunCanceled)
}
