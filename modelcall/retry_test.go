package modelcall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:  time.Second,
		Multiplier: 2.0,
		MaxDelay:   time.Minute,
	}

	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, policy.Delay(i), "attempt %d", i)
	}
}

func TestRetryPolicyDelayCapped(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:  time.Second,
		Multiplier: 2.0,
		MaxDelay:   5 * time.Second,
	}
	assert.Equal(t, 5*time.Second, policy.Delay(10))
}

func TestRetryPolicyDelayJitter(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:  time.Second,
		Multiplier: 2.0,
		MaxDelay:   time.Minute,
		Jitter:     true,
	}
	for i := 0; i < 100; i++ {
		got := policy.Delay(0)
		assert.GreaterOrEqual(t, got, 500*time.Millisecond)
		assert.LessOrEqual(t, got, 1500*time.Millisecond)
	}
}

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
}

func TestDoEventualSuccess(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &ServerError{ProviderError{Message: "server error", Retryable: true}}
		}
		return "success", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, 3, calls)
}

func TestDoNonRetryable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		return "", &AuthenticationError{ProviderError{Message: "invalid key"}}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors get no retries")
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(2), func(ctx context.Context) (string, error) {
		calls++
		return "", &ServerError{ProviderError{Message: "server error", Retryable: true}}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial + 2 retries
}

func TestDoCancelled(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second, Multiplier: 1, MaxDelay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := Do(ctx, policy, func(ctx context.Context) (string, error) {
		calls++
		return "", &ServerError{ProviderError{Message: "server error", Retryable: true}}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls, 2)
}

func TestDoOnRetryCallback(t *testing.T) {
	policy := fastPolicy(2)
	var attempts []int
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		attempts = append(attempts, attempt)
	}
	_, _ = Do(context.Background(), policy, func(ctx context.Context) (string, error) {
		return "", &ServerError{ProviderError{Message: "server error", Retryable: true}}
	})
	assert.Equal(t, []int{1, 2}, attempts)
}
