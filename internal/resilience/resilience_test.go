package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		MaxElapsedTime:      time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0,
		MaxRetries:          3,
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastRetry(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("transient %d", calls)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("always")
	})

	require.Error(t, err)
	assert.Equal(t, "always", err.Error())
	assert.Equal(t, 4, calls, "one attempt plus MaxRetries retries")
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	_, err := Retry(context.Background(), fastRetry(), func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRetryDisabled(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), NoRetry(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Retry(ctx, fastRetry(), func(ctx context.Context) (int, error) {
		calls++
		return 1, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestBreakerTripsAndCallStopsRetrying(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{MaxRequests: 1, Timeout: time.Minute, ConsecutiveFailures: 2}, nil)
	cb := reg.Get("run_tests")
	assert.Same(t, cb, reg.Get("run_tests"))

	calls := 0
	fail := func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	}

	_, err := Call(context.Background(), cb, fastRetry(), fail)
	require.Error(t, err)
	assert.True(t, IsOpen(err), "breaker should open after two failures, got %v", err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, gobreaker.StateOpen, reg.State("run_tests"))
	assert.Equal(t, gobreaker.StateClosed, reg.State("unknown"))
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{MaxRequests: 1, Timeout: time.Minute, ConsecutiveFailures: 1}, nil)
	cb := reg.Get("slow")

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, context.DeadlineExceeded
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCallReturnsValue(t *testing.T) {
	reg := NewBreakerRegistry(DefaultBreakerConfig(), nil)
	got, err := Call(context.Background(), reg.Get("planner"), fastRetry(), func(ctx context.Context) ([]string, error) {
		return []string{"a", "b"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestWithTimeoutReturnsValue(t *testing.T) {
	v, err := WithTimeout(context.Background(), time.Second, func(ctx context.Context) (string, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return "plan", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "plan", v)
}

func TestWithTimeoutAbandonsStuckCall(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithTimeoutLateSuccessFails(t *testing.T) {
	_, err := WithTimeout(context.Background(), 5*time.Millisecond, func(ctx context.Context) (int, error) {
		time.Sleep(30 * time.Millisecond)
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeoutKeepsCalleeError(t *testing.T) {
	errBoom := errors.New("boom")
	_, err := WithTimeout(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 0, errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}
