package probe

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/followcrawl/internal/crawler"
	"github.com/JakeFAU/followcrawl/internal/metrics"
)

// RateLimited throttles every call to the wrapped probe with one shared
// token bucket.
type RateLimited struct {
	next    crawler.Probe
	limiter *rate.Limiter
}

// NewRateLimited wraps next. A non-positive qps disables throttling.
func NewRateLimited(next crawler.Probe, qps float64, burst int) *RateLimited {
	limit := rate.Limit(qps)
	if qps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Exists implements crawler.Probe.
func (r *RateLimited) Exists(ctx context.Context, username crawler.Username) (bool, error) {
	if err := r.wait(ctx); err != nil {
		return false, err
	}
	return r.next.Exists(ctx, username)
}

// Following implements crawler.Probe.
func (r *RateLimited) Following(ctx context.Context, username crawler.Username) ([]crawler.Username, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Following(ctx, username)
}

func (r *RateLimited) wait(ctx context.Context) error {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens that were available immediately are not worth a sample.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(d)
	}
	return nil
}
