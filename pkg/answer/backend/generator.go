// Package backend wraps the paid text-generation service. It classifies
// failures into kinds and layers bounded retry, a circuit breaker and
// outbound pacing over any Generator.
package backend

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var calls = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "answercache",
		Subsystem: "backend",
		Name:      "calls_total",
		Help:      "Generation backend calls by outcome",
	},
	[]string{"outcome"},
)

// Request is one generation call
type Request struct {
	SubjectID      string
	Question       string
	SubjectContext string
}

// Usage reports token consumption
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Generation is a backend answer
type Generation struct {
	Content      string
	Model        string
	FinishReason string
	Usage        *Usage
	Latency      time.Duration
}

// Generator produces answers. Implementations return *Error for failures.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Generation, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, req Request) (*Generation, error)

// Generate implements Generator
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Generation, error) {
	return f(ctx, req)
}

func observe(err error) {
	if err == nil {
		calls.WithLabelValues("success").Inc()
		return
	}
	if kind, ok := KindOf(err); ok {
		calls.WithLabelValues(string(kind)).Inc()
		return
	}
	calls.WithLabelValues("unknown").Inc()
}
