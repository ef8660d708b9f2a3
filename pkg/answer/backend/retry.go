package backend

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/developer-mesh/answercache/pkg/observability"
)

// RetryConfig bounds retries of transient failures
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

// DefaultRetryConfig returns three attempts with capped exponential delay
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
	}
}

// Retrying retries network and server failures of the wrapped generator.
// Every other failure, and any error that is not an *Error, is returned at
// once.
type Retrying struct {
	next   Generator
	cfg    RetryConfig
	logger observability.Logger
}

// NewRetrying wraps next with bounded retry
func NewRetrying(next Generator, cfg RetryConfig, logger observability.Logger) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	if logger == nil {
		logger = observability.NewLogger("answer.backend.retry")
	}
	return &Retrying{next: next, cfg: cfg, logger: logger}
}

// Generate implements Generator
func (r *Retrying) Generate(ctx context.Context, req Request) (*Generation, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.Multiplier = r.cfg.Multiplier
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)

	var gen *Generation
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		var err error
		gen, err = r.next.Generate(ctx, req)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		r.logger.Warn("Retrying generation", map[string]interface{}{
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
			"error":   err.Error(),
		})
	})
	if err != nil {
		return nil, err
	}
	return gen, nil
}
