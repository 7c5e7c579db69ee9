package embedder

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Retry defaults
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 8 * time.Second
	BackoffMultiplier  = 2.0
)

// RetryPolicy configures the Retrier. MaxAttempts counts every call,
// including the first one.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64

	// IsRetryable decides whether a failed call may be repeated.
	// Defaults to IsTransient.
	IsRetryable func(error) bool

	// BeforeRetry runs before every attempt after the first. A non-nil
	// error stops the loop and is returned wrapped with the last failure.
	BeforeRetry func(attempt int) error

	// OnRetry observes each scheduled retry
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep waits between attempts; tests replace it to avoid real timers
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns sensible defaults for provider calls
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  BackoffMultiplier,
	}
}

// Backoff returns the wait before retry number n (1-based): BaseDelay
// multiplied by Multiplier^(n-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n-1))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = BackoffMultiplier
	}
	if p.IsRetryable == nil {
		p.IsRetryable = IsTransient
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Retrier wraps an Embedder with bounded retries and exponential backoff
type Retrier struct {
	next   Embedder
	policy RetryPolicy
}

// NewRetrier creates a Retrier around next
func NewRetrier(next Embedder, policy RetryPolicy) *Retrier {
	return &Retrier{next: next, policy: policy.withDefaults()}
}

// Embed calls the wrapped embedder, retrying transient failures
func (r *Retrier) Embed(ctx context.Context, text string) (Vector, error) {
	return retryWithPolicy(ctx, r.policy, func(ctx context.Context) (Vector, error) {
		return r.next.Embed(ctx, text)
	})
}

// Policy returns the effective policy
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

func retryWithPolicy[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 && p.BeforeRetry != nil {
			if err := p.BeforeRetry(attempt); err != nil {
				return zero, fmt.Errorf("%w (last error: %w)", err, lastErr)
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !p.IsRetryable(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, p.MaxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
