// Package rpc
package rpc

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/yingshulu/rpcproxy"

// Metric names are part of the public surface, dashboards key on them.
const (
	metricRequestSent      = "request_sent"
	metricRequestProcessed = "request_processed"
	metricProcessingTime   = "request_processing_time"
)

// Component supplies the tracing and metrics backends at Init time.
// Nil fields fall back to the otel globals.
type Component struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Propagator     propagation.TextMapPropagator
}

// instruments bundles everything a call executor touches for
// observability. The client swaps the whole bundle atomically at Init,
// so executors built earlier observe the replacement.
type instruments struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	sent      metric.Int64Counter
	processed metric.Int64Counter
	timing    metric.Float64Histogram
}

func newInstruments(component Component) *instruments {
	tp := component.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := component.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	propagator := component.Propagator
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}

	meter := mp.Meter(instrumentationName)
	ins := &instruments{
		tracer:     tp.Tracer(instrumentationName),
		propagator: propagator,
	}
	ins.sent = mustCounter(meter, metricRequestSent)
	ins.processed = mustCounter(meter, metricRequestProcessed)
	ins.timing = mustHist(meter, metricProcessingTime)
	return ins
}

func mustCounter(m metric.Meter, name string) metric.Int64Counter {
	c, _ := m.Int64Counter(name)
	return c
}

func mustHist(m metric.Meter, name string) metric.Float64Histogram {
	h, _ := m.Float64Histogram(name, metric.WithUnit("ms"))
	return h
}

func (ins *instruments) startSpan(ctx context.Context, path, endpoint string) (context.Context, trace.Span) {
	return ins.tracer.Start(ctx, path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "rpcproxy"),
			attribute.String("rpc.method", path),
			attribute.String("net.peer.name", endpoint),
			attribute.String("component", "rpcproxy-client"),
			attribute.Int("sampling.priority", 1),
		))
}

// inject writes the active span context into outgoing call metadata.
func (ins *instruments) inject(ctx context.Context, md Metadata) {
	ins.propagator.Inject(ctx, propagation.MapCarrier(md))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	} else {
		span.SetStatus(otelcodes.Ok, "")
	}
	span.End()
}

func durMs(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
