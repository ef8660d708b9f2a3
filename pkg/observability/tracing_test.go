package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan_NoopByDefault(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "answer.test")
	defer span.End()

	span.AddEvent("event", map[string]interface{}{"key": "value", "n": 2})
	span.SetAttribute("ratio", 0.5)
	span.RecordError(errors.New("boom"))
	span.RecordError(nil)

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
}

func TestStartSpan_RecordsToInstalledTracer(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	SetTracer(provider.Tracer("test"))
	t.Cleanup(func() {
		SetTracer(sdktrace.NewTracerProvider().Tracer(""))
		_ = provider.Shutdown(context.Background())
	})

	_, span := StartSpan(context.Background(), "answer.cache.get")
	span.SetAttribute("outcome", "hit")
	span.SetAttribute("size_bytes", int64(42))
	span.SetAttribute("elapsed", 3*time.Millisecond)
	span.RecordError(errors.New("decode failed"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	got := ended[0]
	assert.Equal(t, "answer.cache.get", got.Name())
	assert.Equal(t, codes.Error, got.Status().Code)
	assert.Contains(t, got.Attributes(), attribute.String("outcome", "hit"))
	assert.Contains(t, got.Attributes(), attribute.Int64("size_bytes", 42))
	assert.Contains(t, got.Attributes(), attribute.String("elapsed", "3ms"))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(1.5).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
