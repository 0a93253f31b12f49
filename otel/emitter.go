package otel

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/signalflow/runtime"
)

// EnrichEmitter stamps events with the trace and span ids of the matching
// active span: the node span for node events, else the run span.
func EnrichEmitter(emit runtime.EventEmitter, tracing *TracingHandler) runtime.EventEmitter {
	return func(e runtime.Event) {
		if e.NodeID != "" {
			stamp(&e, tracing.ActiveSpanContext(e.RunID, e.Scope, e.NodeID))
		}
		if e.TraceID == "" && e.RunID != "" {
			stamp(&e, tracing.ActiveRunSpanContext(e.RunID))
		}
		emit(e)
	}
}

// Decorator wires tracing into a run: events first drive the spans, then
// pass downstream carrying the ids of the span they belong to.
func Decorator(tracing *TracingHandler) runtime.EventEmitterDecorator {
	return func(next runtime.EventEmitter) runtime.EventEmitter {
		enriched := EnrichEmitter(next, tracing)
		return func(e runtime.Event) {
			if e.Kind == runtime.EventRunStarted || e.Kind == runtime.EventNodeStarted {
				tracing.Handle(e)
				enriched(e)
				return
			}
			enriched(e)
			tracing.Handle(e)
		}
	}
}

func stamp(e *runtime.Event, sc trace.SpanContext) {
	if sc.IsValid() {
		e.TraceID = sc.TraceID().String()
		e.SpanID = sc.SpanID().String()
	}
}
