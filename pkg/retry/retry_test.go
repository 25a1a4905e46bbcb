package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fast(opts ...Option) *Retrier {
	return New(append([]Option{WithInitialDelay(time.Millisecond), WithMaxDelay(2 * time.Millisecond), WithJitter(0)}, opts...)...)
}

func TestDo_SucceedsAfterRetryableFailures(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(3)).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errFlaky)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustedReturnsUnwrappedError(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(2)).Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errFlaky)
	})

	assert.Equal(t, 2, calls)
	assert.Same(t, errFlaky, err)
	assert.False(t, IsRetryable(err))
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(5)).Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errFlaky)
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, errFlaky, err)
}

func TestDo_UnmarkedErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := fast().Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errFlaky)
}

func TestDo_RetryIfOverridesMarkers(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(3), WithRetryIf(func(err error) bool {
		return errors.Is(err, errFlaky)
	})).Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, errFlaky)
}

func TestDo_PermanentBeatsRetryIf(t *testing.T) {
	calls := 0
	_ = fast(WithRetryIf(func(error) bool { return true })).Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errFlaky)
	})
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryHook(t *testing.T) {
	var attempts []int
	_ = fast(WithMaxAttempts(3), WithOnRetry(func(attempt int, err error, _ time.Duration) {
		attempts = append(attempts, attempt)
		assert.Same(t, errFlaky, err)
	})).Do(context.Background(), func(context.Context) error {
		return Retryable(errFlaky)
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_ContextCanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(WithMaxAttempts(5), WithInitialDelay(time.Hour), WithJitter(0))

	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return Retryable(errFlaky)
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, errFlaky, err)
}

func TestDo_ContextDoneBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fast().Do(ctx, func(context.Context) error {
		t.Fatal("operation must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff(t *testing.T) {
	r := New(WithInitialDelay(100*time.Millisecond), WithMaxDelay(time.Second), WithMultiplier(3), WithJitter(0))

	assert.Equal(t, 100*time.Millisecond, r.backoff(1))
	assert.Equal(t, 300*time.Millisecond, r.backoff(2))
	assert.Equal(t, 900*time.Millisecond, r.backoff(3))
	assert.Equal(t, time.Second, r.backoff(4))
	assert.Equal(t, time.Second, r.backoff(40))
}

func TestBackoff_JitterStaysInBand(t *testing.T) {
	r := New(WithInitialDelay(100*time.Millisecond), WithJitter(0.2))
	for range 100 {
		d := r.backoff(1)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestOptions_IgnoreOutOfRange(t *testing.T) {
	r := New(WithMaxAttempts(0), WithMultiplier(0.5), WithJitter(2), WithInitialDelay(-1))
	assert.Equal(t, 3, r.p.attempts)
	assert.Equal(t, 2.0, r.p.multiplier)
	assert.Equal(t, 0.1, r.p.jitter)
	assert.Equal(t, 100*time.Millisecond, r.p.initial)
}

func TestPresets(t *testing.T) {
	b := BackendRetrier(WithMaxAttempts(1))
	assert.Equal(t, 1, b.p.attempts)
	assert.Equal(t, 200*time.Millisecond, b.p.initial)

	d := DatabaseRetrier()
	assert.Equal(t, 3, d.p.attempts)
	assert.Equal(t, time.Second, d.p.ceiling)
}

func TestMarkers(t *testing.T) {
	assert.NoError(t, Retryable(nil))
	assert.NoError(t, Permanent(nil))

	wrapped := Retryable(errFlaky)
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, errFlaky)
	assert.Equal(t, "flaky", wrapped.Error())
}
