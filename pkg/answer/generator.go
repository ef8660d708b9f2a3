package answer

import (
	"github.com/developer-mesh/answercache/pkg/answer/backend"
	"github.com/developer-mesh/answercache/pkg/observability"
)

// NewGenerator builds the OpenAI generator behind pacing, retry and a circuit
// breaker. The breaker is outermost so retried attempts count as one call.
func NewGenerator(cfg BackendConfig, logger observability.Logger) (backend.Generator, error) {
	if logger == nil {
		logger = observability.NewLogger("answer.backend")
	}
	client, err := backend.NewOpenAI(cfg.OpenAI, logger)
	if err != nil {
		return nil, err
	}
	return WrapGenerator(client, cfg, logger), nil
}

// WrapGenerator applies the resilience layers to any generator
func WrapGenerator(gen backend.Generator, cfg BackendConfig, logger observability.Logger) backend.Generator {
	paced := backend.NewPaced(gen, cfg.PacePerSecond, cfg.PaceBurst)
	retrying := backend.NewRetrying(paced, cfg.Retry, logger)
	return backend.NewBreaker(retrying, cfg.Breaker, logger)
}
