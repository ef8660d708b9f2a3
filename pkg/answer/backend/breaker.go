package backend

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/developer-mesh/answercache/pkg/observability"
)

// BreakerConfig configures the circuit breaker
type BreakerConfig struct {
	Name         string        `mapstructure:"name"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

// DefaultBreakerConfig returns the default breaker configuration
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "generation",
		MaxRequests:  1,
		Interval:     30 * time.Second,
		Timeout:      60 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.5,
	}
}

// Breaker stops calling the backend after repeated failures. Auth, rate-limit
// and invalid-request failures are the caller's fault and do not count.
type Breaker struct {
	next Generator
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a circuit breaker
func NewBreaker(next Generator, cfg BreakerConfig, logger observability.Logger) *Breaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.5
	}
	if logger == nil {
		logger = observability.NewLogger("answer.backend.breaker")
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			kind, ok := KindOf(err)
			return ok && (kind == KindAuth || kind == KindRateLimit || kind == KindInvalidRequest)
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Generate implements Generator. An open breaker fails with KindServer.
func (b *Breaker) Generate(ctx context.Context, req Request) (*Generation, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Error{Kind: KindServer, Err: err}
	}
	if err != nil {
		return nil, err
	}
	return out.(*Generation), nil
}

// State returns the breaker state name
func (b *Breaker) State() string {
	return b.cb.State().String()
}
