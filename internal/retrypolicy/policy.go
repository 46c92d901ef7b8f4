// Package retrypolicy wraps cenkalti/backoff/v4 for the key-value store's
// bounded connect retry (spec §5 "Resource pools"). The ingress's
// credential-level retry loop (spec.md §4.6 point 7) takes a Config too but
// reads only MaxAttempts from it and does not run through Do, so it retries
// without any delay between attempts. Adapted from the teacher's hand-rolled pkg/internal/retry
// package, replaced with the ecosystem backoff library per the dependency
// stack.
package retrypolicy

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ShouldRetry reports whether an error should trigger another attempt.
type ShouldRetry func(err error) bool

// Config configures a bounded retry loop.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	ShouldRetry  ShouldRetry // nil retries every error
}

// DefaultIngressConfig is the ingress's credential-retry loop: up to 3
// attempts total (spec §7 "Retries are bounded by max-attempts (default 3)").
func DefaultIngressConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// KVStoreConnectConfig is the prefix-cache store's lazy-connect retry: at
// most 3 attempts, 200ms*n capped at 2s (spec §5 "Resource pools").
func KVStoreConnectConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// linearBackOff implements backoff.BackOff with the spec's "step*n capped
// at max" growth, rather than cenkalti's geometric ExponentialBackOff.
type linearBackOff struct {
	step    time.Duration
	max     time.Duration
	attempt int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	d := l.step * time.Duration(l.attempt)
	if d > l.max {
		return l.max
	}
	return d
}

func (l *linearBackOff) Reset() { l.attempt = 0 }

func (c Config) backoff() backoff.BackOff {
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	b := &linearBackOff{step: c.InitialDelay, max: c.MaxDelay}
	return backoff.WithMaxRetries(b, uint64(maxAttempts-1))
}

// Do runs fn, retrying per cfg until it succeeds, cfg.ShouldRetry rejects the
// error, attempts are exhausted, or ctx is cancelled.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(cfg.backoff(), ctx))
}
