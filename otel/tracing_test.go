package otel_test

import (
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petal-labs/signalflow/core"
	sfotel "github.com/petal-labs/signalflow/otel"
	"github.com/petal-labs/signalflow/runtime"
)

func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	return exporter, sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ev(kind runtime.EventKind, nodeID, scope string, offset time.Duration, payload map[string]any) runtime.Event {
	return runtime.Event{
		Kind:      kind,
		RunID:     "run-1",
		NodeID:    nodeID,
		Archetype: core.ArchetypeAction,
		Scope:     scope,
		Time:      t0.Add(offset),
		Payload:   payload,
	}
}

func spanByName(spans tracetest.SpanStubs, name string) *tracetest.SpanStub {
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	return nil
}

func attr(s *tracetest.SpanStub, key string) string {
	for _, a := range s.Attributes {
		if string(a.Key) == key {
			return a.Value.Emit()
		}
	}
	return ""
}

func TestTracingHandler_RunAndNodeSpans(t *testing.T) {
	exporter, tp := newTestTracer()
	h := sfotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(ev(runtime.EventRunStarted, "", "", 0, map[string]any{"graph": "orders"}))
	if !h.ActiveRunSpanContext("run-1").IsValid() {
		t.Fatal("expected an active run span")
	}
	h.Handle(ev(runtime.EventNodeStarted, "log", "s1", time.Millisecond, nil))
	if !h.ActiveSpanContext("run-1", "s1", "log").IsValid() {
		t.Fatal("expected an active node span")
	}
	h.Handle(ev(runtime.EventNodeFinished, "log", "s1", 2*time.Millisecond, nil))
	h.Handle(ev(runtime.EventRunFinished, "", "", 3*time.Millisecond, map[string]any{"status": "completed"}))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	run := spanByName(spans, "run:orders")
	node := spanByName(spans, "node:log")
	if run == nil || node == nil {
		t.Fatalf("span names = %v, %v", spans[0].Name, spans[1].Name)
	}
	if node.Parent.SpanID() != run.SpanContext.SpanID() {
		t.Error("node span should be a child of the run span")
	}
	if attr(node, "signalflow.archetype") != "action" || attr(node, "signalflow.scope") != "s1" {
		t.Errorf("node attributes = %v", node.Attributes)
	}
	if attr(run, "signalflow.status") != "completed" || run.Status.Code != otelcodes.Ok {
		t.Errorf("run status = %v %v", attr(run, "signalflow.status"), run.Status)
	}
	if !node.EndTime.Equal(t0.Add(2 * time.Millisecond)) {
		t.Errorf("node end = %v", node.EndTime)
	}
}

func TestTracingHandler_ScopesAreSeparateSpans(t *testing.T) {
	exporter, tp := newTestTracer()
	h := sfotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(ev(runtime.EventRunStarted, "", "", 0, nil))
	h.Handle(ev(runtime.EventNodeStarted, "body", "iter-0", 0, nil))
	h.Handle(ev(runtime.EventNodeStarted, "body", "iter-1", 0, nil))
	h.Handle(ev(runtime.EventNodeFinished, "body", "iter-1", time.Millisecond, nil))
	h.Handle(ev(runtime.EventNodeFinished, "body", "iter-0", 2*time.Millisecond, nil))

	if n := len(exporter.GetSpans()); n != 2 {
		t.Errorf("ended spans = %d, want one per scope (2)", n)
	}
}

func TestTracingHandler_NodeFailed(t *testing.T) {
	exporter, tp := newTestTracer()
	h := sfotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(ev(runtime.EventNodeStarted, "hook", "s", 0, nil))
	h.Handle(ev(runtime.EventNodeFailed, "hook", "s", time.Millisecond, map[string]any{"error": "status 500"}))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != otelcodes.Error || spans[0].Status.Description != "status 500" {
		t.Errorf("status = %+v", spans[0].Status)
	}
	if len(spans[0].Events) != 1 || spans[0].Events[0].Name != "exception" {
		t.Errorf("events = %v, want one exception", spans[0].Events)
	}
}

func TestTracingHandler_StreamDeltasAndCustomEvents(t *testing.T) {
	exporter, tp := newTestTracer()
	h := sfotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(ev(runtime.EventNodeStarted, "counter", "s", 0, nil))
	for i := 0; i < 3; i++ {
		h.Handle(ev(runtime.EventNodeOutputDelta, "counter", "s", 0, map[string]any{"port": "stream", "index": i}))
	}
	h.Handle(ev(runtime.EventNodeCustom, "counter", "s", 0, map[string]any{"name": "log", "value": 1}))
	h.Handle(ev(runtime.EventNodeFinished, "counter", "s", time.Millisecond, nil))

	events := exporter.GetSpans()[0].Events
	if len(events) != 4 {
		t.Fatalf("span events = %d, want 4", len(events))
	}
	if events[0].Name != "node.output.delta" || events[3].Name != "log" {
		t.Errorf("event names = %s, %s", events[0].Name, events[3].Name)
	}
}

func TestTracingHandler_RunFinishedClosesOrphans(t *testing.T) {
	exporter, tp := newTestTracer()
	h := sfotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(ev(runtime.EventRunStarted, "", "", 0, nil))
	h.Handle(ev(runtime.EventNodeStarted, "forever", "s", 0, nil))
	h.Handle(ev(runtime.EventRunFinished, "", "", time.Second, map[string]any{"status": "failed", "error": "canceled"}))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	for _, s := range spans {
		if s.Status.Code != otelcodes.Error {
			t.Errorf("span %s status = %v, want error", s.Name, s.Status)
		}
	}
	if h.ActiveSpanContext("run-1", "s", "forever").IsValid() {
		t.Error("orphan span still tracked")
	}
}

func TestTracingHandler_UnknownEndsAreIgnored(t *testing.T) {
	exporter, tp := newTestTracer()
	h := sfotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(ev(runtime.EventNodeFinished, "ghost", "s", 0, nil))
	h.Handle(ev(runtime.EventRunFinished, "", "", 0, nil))

	if n := len(exporter.GetSpans()); n != 0 {
		t.Errorf("spans = %d, want 0", n)
	}
}
