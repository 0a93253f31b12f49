package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/signalflow/runtime"
)

// InstrumentationName is the tracer and meter name used by SignalFlow.
const InstrumentationName = "github.com/petal-labs/signalflow"

// Config configures Setup.
type Config struct {
	// Endpoint is the OTLP/HTTP collector (host:port). Empty disables trace
	// export; spans are still created so events carry trace ids.
	Endpoint string

	// Insecure sends spans over plain HTTP.
	Insecure bool

	// ServiceName is reported as service.name (default "signalflow").
	ServiceName string

	// SampleRatio is the fraction of runs traced (default 1).
	SampleRatio float64

	// Exporter overrides the OTLP exporter, for tests.
	Exporter sdktrace.SpanExporter
}

// Providers holds the SDK providers created by Setup. Metrics are collected
// through a manual reader and read back with Collect.
type Providers struct {
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// Setup creates the tracer and meter providers.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "signalflow"
	}
	if cfg.SampleRatio <= 0 {
		cfg.SampleRatio = 1
	}
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	exporter := cfg.Exporter
	if exporter == nil && cfg.Endpoint != "" {
		httpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
		}
		var err error
		if exporter, err = otlptracehttp.New(ctx, httpOpts...); err != nil {
			return nil, fmt.Errorf("otel: create trace exporter: %w", err)
		}
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	reader := sdkmetric.NewManualReader()
	return &Providers{
		tp:     sdktrace.NewTracerProvider(opts...),
		mp:     sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res)),
		reader: reader,
	}, nil
}

// Tracer returns the SignalFlow tracer.
func (p *Providers) Tracer() trace.Tracer {
	return p.tp.Tracer(InstrumentationName)
}

// Meter returns the SignalFlow meter.
func (p *Providers) Meter() metric.Meter {
	return p.mp.Meter(InstrumentationName)
}

// Collect reads the current metric values.
func (p *Providers) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := p.reader.Collect(ctx, &rm)
	return rm, err
}

// ForceFlush exports all finished spans.
func (p *Providers) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

// Shutdown flushes pending spans and releases both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if err := p.tp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
	}
	if err := p.mp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
	}
	return errors.Join(errs...)
}

// Instrument builds the tracing decorator and metrics handler for one
// engine. The handler goes into RunOptions.EventHandler.
func (p *Providers) Instrument() (runtime.EventEmitterDecorator, runtime.EventHandler, error) {
	metrics, err := NewMetricsHandler(p.Meter())
	if err != nil {
		return nil, nil, fmt.Errorf("otel: create metrics: %w", err)
	}
	return Decorator(NewTracingHandler(p.Tracer())), metrics.Handle, nil
}

// Counter sums an Int64 counter across all attribute sets.
func Counter(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return 0, false
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total, true
		}
	}
	return 0, false
}
