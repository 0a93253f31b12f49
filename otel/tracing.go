// Package otel translates SignalFlow runtime events into OpenTelemetry spans
// and metrics.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/signalflow/runtime"
)

// Attribute keys set on spans.
const (
	AttrRunID     = attribute.Key("signalflow.run_id")
	AttrGraph     = attribute.Key("signalflow.graph")
	AttrNodeID    = attribute.Key("signalflow.node_id")
	AttrArchetype = attribute.Key("signalflow.archetype")
	AttrScope     = attribute.Key("signalflow.scope")
	AttrStatus    = attribute.Key("signalflow.status")
	AttrPort      = attribute.Key("signalflow.port")
)

// TracingHandler turns runtime events into spans: one root span per run and
// one child span per node execution. A node that runs in several scopes
// (loop iterations, compound bodies) gets one span per scope.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span
	runCtxs   map[string]context.Context
	nodeSpans map[string]trace.Span // runID/scope/nodeID
}

// NewTracingHandler creates a TracingHandler using tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		nodeSpans: make(map[string]trace.Span),
	}
}

func nodeKey(runID, scope, nodeID string) string {
	return runID + "/" + scope + "/" + nodeID
}

// Handle processes one runtime event.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventRunStarted:
		h.runStarted(e)
	case runtime.EventNodeStarted:
		h.nodeStarted(e)
	case runtime.EventNodeFinished:
		h.endNode(e, nil)
	case runtime.EventNodeFailed:
		msg := payloadString(e, "error")
		if msg == "" {
			msg = "node failed"
		}
		h.endNode(e, spanError(msg))
	case runtime.EventNodeOutputDelta, runtime.EventNodeCustom:
		h.nodeEvent(e)
	case runtime.EventRunFinished:
		h.runFinished(e)
	}
}

func (h *TracingHandler) runStarted(e runtime.Event) {
	graphID := payloadString(e, "graph")
	name := "run:" + e.RunID
	if graphID != "" {
		name = "run:" + graphID
	}
	ctx, span := h.tracer.Start(context.Background(), name,
		trace.WithAttributes(AttrRunID.String(e.RunID)),
		trace.WithTimestamp(e.Time),
	)
	if graphID != "" {
		span.SetAttributes(AttrGraph.String(graphID))
	}

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) nodeStarted(e runtime.Event) {
	h.mu.RLock()
	parent, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()
	if !ok {
		parent = context.Background()
	}

	_, span := h.tracer.Start(parent, "node:"+e.NodeID,
		trace.WithAttributes(
			AttrRunID.String(e.RunID),
			AttrNodeID.String(e.NodeID),
			AttrArchetype.String(string(e.Archetype)),
			AttrScope.String(e.Scope),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.nodeSpans[nodeKey(e.RunID, e.Scope, e.NodeID)] = span
	h.mu.Unlock()
}

func (h *TracingHandler) endNode(e runtime.Event, err error) {
	key := nodeKey(e.RunID, e.Scope, e.NodeID)
	h.mu.Lock()
	span, ok := h.nodeSpans[key]
	delete(h.nodeSpans, key)
	h.mu.Unlock()
	if !ok {
		return
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err, trace.WithTimestamp(e.Time))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// nodeEvent records stream chunks and custom node events as span events.
func (h *TracingHandler) nodeEvent(e runtime.Event) {
	h.mu.RLock()
	span, ok := h.nodeSpans[nodeKey(e.RunID, e.Scope, e.NodeID)]
	h.mu.RUnlock()
	if !ok {
		return
	}

	name := string(e.Kind)
	var attrs []attribute.KeyValue
	if port := payloadString(e, "port"); port != "" {
		attrs = append(attrs, AttrPort.String(port))
	}
	if idx, ok := e.Payload["index"].(int); ok {
		attrs = append(attrs, attribute.Int("signalflow.index", idx))
	}
	if custom := payloadString(e, "name"); custom != "" && e.Kind == runtime.EventNodeCustom {
		name = custom
	}
	span.AddEvent(name, trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

func (h *TracingHandler) runFinished(e runtime.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	delete(h.runSpans, e.RunID)
	delete(h.runCtxs, e.RunID)
	// Spans of nodes that never ended (canceled streams) close with the run.
	var orphans []trace.Span
	prefix := e.RunID + "/"
	for key, s := range h.nodeSpans {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			orphans = append(orphans, s)
			delete(h.nodeSpans, key)
		}
	}
	h.mu.Unlock()

	for _, s := range orphans {
		s.SetStatus(codes.Error, "run ended before node completed")
		s.End(trace.WithTimestamp(e.Time))
	}
	if !ok {
		return
	}

	status := payloadString(e, "status")
	span.SetAttributes(AttrStatus.String(status))
	if status == "failed" {
		msg := payloadString(e, "error")
		if msg == "" {
			msg = "run failed"
		}
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext returns the span context of a running node, or an
// invalid SpanContext.
func (h *TracingHandler) ActiveSpanContext(runID, scope, nodeID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.nodeSpans[nodeKey(runID, scope, nodeID)]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the span context of a running run, or an
// invalid SpanContext.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func payloadString(e runtime.Event, key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

type spanError string

func (e spanError) Error() string { return string(e) }
