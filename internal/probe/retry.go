package probe

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/followcrawl/internal/crawler"
)

// RetryPolicy decides whether and when a failed probe call is retried.
type RetryPolicy interface {
	// ShouldRetry reports whether another attempt is allowed after attempt
	// calls have failed with err.
	ShouldRetry(err error, attempt int) bool
	// Backoff returns the wait before the next attempt.
	Backoff(attempt int) time.Duration
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy allows maxRetries extra attempts. Non-positive
// delays fall back to 250ms and 5s.
func NewExponentialRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &ExponentialRetryPolicy{
		maxAttempts: max(0, maxRetries) + 1,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// ShouldRetry retries timeouts, throttling and server errors. Cancellation
// is never retried. A deadline error is treated as a per-request timeout;
// Retrying stops on its own when the caller's context is done.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Retrying retries transient probe failures according to a RetryPolicy.
type Retrying struct {
	next   crawler.Probe
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetrying wraps next.
func NewRetrying(next crawler.Probe, policy RetryPolicy, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, logger: logger}
}

// Exists implements crawler.Probe.
func (r *Retrying) Exists(ctx context.Context, username crawler.Username) (bool, error) {
	var exists bool
	err := r.do(ctx, OpExists, username, func(ctx context.Context) error {
		var err error
		exists, err = r.next.Exists(ctx, username)
		return err
	})
	return exists, err
}

// Following implements crawler.Probe.
func (r *Retrying) Following(ctx context.Context, username crawler.Username) ([]crawler.Username, error) {
	var following []crawler.Username
	err := r.do(ctx, OpFollowing, username, func(ctx context.Context) error {
		var err error
		following, err = r.next.Following(ctx, username)
		return err
	})
	return following, err
}

func (r *Retrying) do(ctx context.Context, op string, username crawler.Username, call func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := call(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s interrupted: %w", op, errors.Join(err, ctxErr))
		}
		if !r.policy.ShouldRetry(err, attempt) {
			if attempt > 1 {
				return fmt.Errorf("%s failed after %d attempts: %w", op, attempt, err)
			}
			return err
		}
		delay := r.policy.Backoff(attempt - 1)
		r.logger.Debug("retrying probe",
			zap.String("op", op),
			zap.String("username", string(username)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s retry wait: %w", op, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
