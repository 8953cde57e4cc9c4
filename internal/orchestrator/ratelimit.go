package orchestrator

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedFetcher wraps an OriginFetcher with a token-bucket cap on
// requests per second, letting any origin call the orchestrator issues be
// throttled without the orchestrator itself knowing about rate limiting.
type RateLimitedFetcher struct {
	inner   OriginFetcher
	limiter *rate.Limiter
}

// NewRateLimitedFetcher caps inner at maxRPS requests per second with a
// burst of the same size.
func NewRateLimitedFetcher(inner OriginFetcher, maxRPS int) *RateLimitedFetcher {
	return &RateLimitedFetcher{inner: inner, limiter: rate.NewLimiter(rate.Limit(maxRPS), maxRPS)}
}

// Fetch blocks until the limiter admits the call or ctx is done, then
// delegates to inner.
func (f *RateLimitedFetcher) Fetch(ctx context.Context, fingerprint string) (interface{}, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return f.inner.Fetch(ctx, fingerprint)
}
