package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/signalflow/runtime"
)

// Metric instrument names.
const (
	MetricNodeExecutions = "signalflow.node.executions"
	MetricNodeFailures   = "signalflow.node.failures"
	MetricNodeDuration   = "signalflow.node.duration"
	MetricStreamChunks   = "signalflow.stream.chunks"
	MetricRuns           = "signalflow.runs"
	MetricRunDuration    = "signalflow.run.duration"
)

// MetricsHandler records counters and histograms from runtime events.
type MetricsHandler struct {
	nodeExecutions metric.Int64Counter
	nodeFailures   metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	streamChunks   metric.Int64Counter
	runs           metric.Int64Counter
	runDuration    metric.Float64Histogram
}

// NewMetricsHandler creates the instruments on meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	h := &MetricsHandler{}
	var err error
	if h.nodeExecutions, err = meter.Int64Counter(MetricNodeExecutions,
		metric.WithDescription("Number of successful node executions")); err != nil {
		return nil, err
	}
	if h.nodeFailures, err = meter.Int64Counter(MetricNodeFailures,
		metric.WithDescription("Number of failed node executions")); err != nil {
		return nil, err
	}
	if h.nodeDuration, err = meter.Float64Histogram(MetricNodeDuration,
		metric.WithDescription("Duration of node execution in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if h.streamChunks, err = meter.Int64Counter(MetricStreamChunks,
		metric.WithDescription("Number of chunks pushed by stream nodes")); err != nil {
		return nil, err
	}
	if h.runs, err = meter.Int64Counter(MetricRuns,
		metric.WithDescription("Number of completed runs by status")); err != nil {
		return nil, err
	}
	if h.runDuration, err = meter.Float64Histogram(MetricRunDuration,
		metric.WithDescription("Duration of workflow run in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return h, nil
}

// Handle processes one runtime event.
func (h *MetricsHandler) Handle(e runtime.Event) {
	ctx := context.Background()
	switch e.Kind {
	case runtime.EventNodeFinished:
		attrs := nodeAttrs(e)
		h.nodeExecutions.Add(ctx, 1, attrs)
		h.nodeDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	case runtime.EventNodeFailed:
		h.nodeFailures.Add(ctx, 1, nodeAttrs(e))
	case runtime.EventNodeOutputDelta:
		h.streamChunks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("node_id", e.NodeID),
			attribute.String("port", payloadString(e, "port")),
		))
	case runtime.EventRunFinished:
		status := metric.WithAttributes(attribute.String("status", payloadString(e, "status")))
		h.runs.Add(ctx, 1, status)
		h.runDuration.Record(ctx, e.Elapsed.Seconds(), status)
	}
}

func nodeAttrs(e runtime.Event) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("archetype", string(e.Archetype)),
		attribute.String("node_id", e.NodeID),
	)
}
