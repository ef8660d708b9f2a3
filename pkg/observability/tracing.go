package observability

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	defaultServiceName = "answercache"
	defaultEndpoint    = "localhost:4317"
)

type tracerHolder struct {
	tracer trace.Tracer
}

var activeTracer atomic.Pointer[tracerHolder]

func init() {
	activeTracer.Store(&tracerHolder{tracer: noop.NewTracerProvider().Tracer("")})
}

// ShutdownFunc flushes pending spans and stops the exporter
type ShutdownFunc func(ctx context.Context) error

// InitTracing exports spans to an OTLP/gRPC collector. With tracing disabled
// spans stay no-ops and the returned ShutdownFunc does nothing.
func InitTracing(ctx context.Context, cfg TracingConfig) (ShutdownFunc, error) {
	logger := NewLogger("observability.tracing")
	if !cfg.Enabled {
		logger.Debug("Tracing is disabled", nil)
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", cfg.ServiceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	SetTracer(provider.Tracer(cfg.ServiceName))

	logger.Info("Tracing initialized", map[string]interface{}{
		"service_name": cfg.ServiceName,
		"endpoint":     cfg.Endpoint,
		"sample_ratio": cfg.SampleRatio,
	})
	return provider.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// SetTracer replaces the tracer behind StartSpan
func SetTracer(t trace.Tracer) {
	activeTracer.Store(&tracerHolder{tracer: t})
}

// StartSpan starts a span named after the component operation, e.g.
// "answer.cache.get"
func StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, s := activeTracer.Load().tracer.Start(ctx, name)
	return ctx, &otelSpan{span: s}
}

type otelSpan struct {
	span trace.Span
}

func (o *otelSpan) End() { o.span.End() }

func (o *otelSpan) SetAttribute(key string, value interface{}) {
	o.span.SetAttributes(toAttribute(key, value))
}

func (o *otelSpan) AddEvent(name string, attributes map[string]interface{}) {
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, toAttribute(k, v))
	}
	o.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError also marks the span as failed
func (o *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	o.span.RecordError(err)
	o.span.SetStatus(codes.Error, err.Error())
}

func (o *otelSpan) SpanContext() trace.SpanContext { return o.span.SpanContext() }

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int32:
		return attribute.Int64(key, int64(v))
	case int64:
		return attribute.Int64(key, v)
	case float32:
		return attribute.Float64(key, float64(v))
	case float64:
		return attribute.Float64(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
