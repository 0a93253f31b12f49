package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/graph"
	"github.com/petal-labs/signalflow/registry"
	"github.com/petal-labs/signalflow/runtime"
)

// recorder is an action node type that records every value it receives.
type recorder struct {
	mu     sync.Mutex
	values []any
	order  *[]string
	name   string
}

func (p *recorder) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.values)
}

func (p *recorder) seen() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.values...)
}

func (p *recorder) definition() core.Definition {
	return core.Definition{
		Type:      p.name,
		Archetype: core.ArchetypeAction,
		Ports: []core.Port{
			core.ControlIn("in"),
			core.DataIn("value", "any", nil),
			core.ControlOut("out"),
			core.DataOut("result", "any"),
		},
		Run: func(_ context.Context, params core.RunParams) (core.NodeOutput, error) {
			p.mu.Lock()
			p.values = append(p.values, params.Input["value"])
			if p.order != nil {
				*p.order = append(*p.order, p.name)
			}
			p.mu.Unlock()
			return core.NodeOutput{"result": params.Input["value"]}, nil
		},
	}
}

// testRegistry returns the built-in catalog plus one recorder type per name.
func testRegistry(t *testing.T, names ...string) (*registry.Registry, map[string]*recorder) {
	t.Helper()
	r := registry.NewWithBuiltins()
	recorders := make(map[string]*recorder, len(names))
	var order []string
	for _, name := range names {
		p := &recorder{name: name, order: &order}
		recorders[name] = p
		if err := r.Register(p.definition()); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}
	return r, recorders
}

// countingPure registers a pure node type that counts executions.
func countingPure(t *testing.T, r *registry.Registry, typeName string, value any) *int {
	t.Helper()
	calls := new(int)
	err := r.Register(core.Definition{
		Type:      typeName,
		Archetype: core.ArchetypePure,
		Ports:     []core.Port{core.DataOut("value", "any")},
		Run: func(context.Context, core.RunParams) (core.NodeOutput, error) {
			*calls++
			return core.NodeOutput{"value": value}, nil
		},
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", typeName, err)
	}
	return calls
}

// hookRecorder captures lifecycle callbacks.
type hookRecorder struct {
	mu     sync.Mutex
	starts []string
	ends   map[string]core.NodeStatus
	custom []any
}

func newHookRecorder() *hookRecorder {
	return &hookRecorder{ends: make(map[string]core.NodeStatus)}
}

func (h *hookRecorder) OnNodeStart(nodeID string, _ core.Archetype) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, nodeID)
}

func (h *hookRecorder) OnNodeEnd(nodeID string, status core.NodeStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends[nodeID] = status
}

func (h *hookRecorder) OnCustomEvent(_ string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.custom = append(h.custom, payload)
}

func (h *hookRecorder) status(nodeID string) (core.NodeStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.ends[nodeID]
	return s, ok
}

func node(id, typ string, props map[string]any) graph.Node {
	return graph.Node{ID: id, Type: typ, Properties: props}
}

func run(t *testing.T, r *registry.Registry, g *graph.Graph, opts runtime.RunOptions) (core.NodeOutput, error) {
	t.Helper()
	e := runtime.NewEngine(r, runtime.Config{})
	return e.Run(context.Background(), g, opts)
}

func mustRun(t *testing.T, r *registry.Registry, g *graph.Graph, opts runtime.RunOptions) core.NodeOutput {
	t.Helper()
	out, err := run(t, r, g, opts)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return out
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}
