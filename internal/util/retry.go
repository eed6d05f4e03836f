package util

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy describes how an operation is retried. The zero value performs a
// single attempt without backoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Multiplier grows the backoff after every failed attempt. Values < 1 are treated as 1.
	Multiplier float64
	// Jitter randomizes each backoff by +/- the given fraction (0..1).
	Jitter float64
	// Retryable reports whether err is worth another attempt. A nil Retryable
	// retries every error except context cancellation.
	Retryable func(err error) bool
	// OnRetry is called before sleeping for the next attempt.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetryPolicy returns three attempts with exponential backoff from 2s to 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
	}
}

// RetryPolicyFromEnv starts from DefaultRetryPolicy and applies KG_RETRY_ATTEMPTS,
// KG_RETRY_MIN and KG_RETRY_MAX.
func RetryPolicyFromEnv() RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = GetEnvInt("KG_RETRY_ATTEMPTS", p.MaxAttempts)
	p.InitialBackoff = GetEnvDuration("KG_RETRY_MIN", p.InitialBackoff)
	p.MaxBackoff = GetEnvDuration("KG_RETRY_MAX", p.MaxBackoff)
	return p
}

// WithRetryable returns a copy of p using fn as its retryable predicate.
func (p RetryPolicy) WithRetryable(fn func(error) bool) RetryPolicy {
	p.Retryable = fn
	return p
}

// Backoff returns the wait before attempt+1, where attempt starts at 1.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.InitialBackoff <= 0 || attempt < 1 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	wait := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if p.MaxBackoff > 0 && wait > float64(p.MaxBackoff) {
		wait = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		j := min(p.Jitter, 1)
		wait += wait * j * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}

func (p RetryPolicy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// RetryWithPolicy calls fn until it succeeds, the policy gives up, or ctx is done.
// Non-retryable errors are returned immediately.
func RetryWithPolicy[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !p.retryable(err) || attempt == attempts {
			break
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if err := sleepContext(ctx, wait); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// RetryErrWithPolicy is RetryWithPolicy for functions without a result.
func RetryErrWithPolicy(ctx context.Context, p RetryPolicy, fn func(context.Context) error) error {
	_, err := RetryWithPolicy(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
