package modelcall

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy configures exponential backoff for retryable failures.
type RetryPolicy struct {
	MaxRetries int           // retry attempts beyond the initial call
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap applied to every delay
	Multiplier float64       // backoff factor between attempts
	Jitter     bool          // spread delays by +/- 50%
	OnRetry    func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the runtime-default policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Delay computes the backoff for attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	if p.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// Do runs fn under the policy, retrying only errors that IsRetryable
// accepts. Context cancellation aborts a pending backoff immediately.
func Do[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if !IsRetryable(err) {
			return zero, err
		}
		delay := policy.Delay(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
	}
	return zero, err
}
