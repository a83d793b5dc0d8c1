package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy is a bounded exponential backoff shared by both discovery
// tiers and the page validator.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy allows three attempts, waiting 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

// Backoff returns the wait before attempt n+1, given that attempt n (1-based)
// just failed.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << (n - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. The last error is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for n := 1; n <= attempts; n++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !isRetryable(err) || n == attempts {
			return err
		}

		wait := p.Backoff(n)
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			slog.Warn("rate limited, backing off", "op", op, "attempt", n, "wait", wait)
		} else {
			slog.Debug("retrying", "op", op, "attempt", n, "wait", wait, "err", err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
