package backend

import (
	"context"

	"golang.org/x/time/rate"
)

// Paced spaces outbound calls with a token bucket. It smooths bursts; quota
// enforcement stays with the rate limiter upstream.
type Paced struct {
	next    Generator
	limiter *rate.Limiter
}

// NewPaced allows perSecond calls per second with the given burst. A
// non-positive perSecond disables pacing.
func NewPaced(next Generator, perSecond float64, burst int) *Paced {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Paced{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Generate implements Generator. Waiting past ctx's deadline fails with
// KindTimeout.
func (p *Paced) Generate(ctx context.Context, req Request) (*Generation, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, Err: err}
	}
	return p.next.Generate(ctx, req)
}
