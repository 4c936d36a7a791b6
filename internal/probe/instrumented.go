package probe

import (
	"context"
	"time"

	"github.com/JakeFAU/followcrawl/internal/crawler"
	"github.com/JakeFAU/followcrawl/internal/metrics"
)

// Instrumented records call counts and latency for the wrapped probe.
type Instrumented struct {
	next crawler.Probe
}

// NewInstrumented wraps next.
func NewInstrumented(next crawler.Probe) *Instrumented {
	return &Instrumented{next: next}
}

// Exists implements crawler.Probe.
func (i *Instrumented) Exists(ctx context.Context, username crawler.Username) (bool, error) {
	start := time.Now()
	exists, err := i.next.Exists(ctx, username)
	status := metrics.StatusOK
	switch {
	case err != nil:
		status = metrics.StatusFailed
	case !exists:
		status = metrics.StatusMissing
	}
	metrics.ObserveProbe(OpExists, status, time.Since(start))
	return exists, err
}

// Following implements crawler.Probe.
func (i *Instrumented) Following(ctx context.Context, username crawler.Username) ([]crawler.Username, error) {
	start := time.Now()
	following, err := i.next.Following(ctx, username)
	status := metrics.StatusOK
	if err != nil {
		status = metrics.StatusFailed
	}
	metrics.ObserveProbe(OpFollowing, status, time.Since(start))
	return following, err
}
