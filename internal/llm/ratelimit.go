package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedGenerator wraps a TextGenerator with a token bucket limiter so
// a burst of pipeline turns cannot flood the provider.
type RateLimitedGenerator struct {
	inner   TextGenerator
	limiter *rate.Limiter
}

// NewRateLimitedGenerator wraps gen with a limiter allowing requestsPerSec
// sustained calls and a burst of one extra.
func NewRateLimitedGenerator(gen TextGenerator, requestsPerSec float64) *RateLimitedGenerator {
	return &RateLimitedGenerator{
		inner:   gen,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), 2),
	}
}

// Complete waits for a rate limit slot, then delegates to the wrapped generator.
func (g *RateLimitedGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit wait: %w", err)
	}
	return g.inner.Complete(ctx, prompt)
}

// GetModel returns the wrapped generator's model name.
func (g *RateLimitedGenerator) GetModel() string {
	return g.inner.GetModel()
}

var _ TextGenerator = (*RateLimitedGenerator)(nil)
