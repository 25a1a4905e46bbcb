// Package retry runs an operation again after transient failures, waiting an
// exponentially growing, jittered delay between attempts.
//
// An operation signals intent by wrapping its error: Retryable asks for
// another attempt, Permanent stops immediately. A custom classifier set with
// WithRetryIf replaces the Retryable check, but Permanent always wins.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryableError marks an error worth another attempt.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// PermanentError marks an error that no further attempt can fix.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Retryable wraps err as retryable. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Permanent wraps err as permanent. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var target *PermanentError
	return errors.As(err, &target)
}

// policy is the tunable part of a Retrier.
type policy struct {
	attempts   int
	initial    time.Duration
	ceiling    time.Duration
	multiplier float64
	jitter     float64
	retryIf    func(error) bool
	onRetry    func(attempt int, err error, delay time.Duration)
}

// Option tunes a Retrier. Out-of-range values are ignored.
type Option func(*policy)

// WithMaxAttempts sets the total number of attempts, the first one included.
func WithMaxAttempts(n int) Option {
	return func(p *policy) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithInitialDelay sets the wait before the second attempt.
func WithInitialDelay(d time.Duration) Option {
	return func(p *policy) {
		if d > 0 {
			p.initial = d
		}
	}
}

// WithMaxDelay caps the wait between attempts.
func WithMaxDelay(d time.Duration) Option {
	return func(p *policy) {
		if d > 0 {
			p.ceiling = d
		}
	}
}

// WithMultiplier sets the growth factor of the wait. Must be at least 1.
func WithMultiplier(m float64) Option {
	return func(p *policy) {
		if m >= 1 {
			p.multiplier = m
		}
	}
}

// WithJitter spreads each wait by up to ±j of its value, j in [0, 1].
func WithJitter(j float64) Option {
	return func(p *policy) {
		if j >= 0 && j <= 1 {
			p.jitter = j
		}
	}
}

// WithRetryIf replaces the default IsRetryable classifier.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *policy) { p.retryIf = fn }
}

// WithOnRetry registers a hook called before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *policy) { p.onRetry = fn }
}

// Retrier executes operations under a retry policy. It holds no mutable
// state and is safe for concurrent use.
type Retrier struct {
	p policy
}

// New builds a Retrier: 3 attempts, 100ms initial wait doubling up to 30s,
// 10% jitter, then opts.
func New(opts ...Option) *Retrier {
	p := policy{
		attempts:   3,
		initial:    100 * time.Millisecond,
		ceiling:    30 * time.Second,
		multiplier: 2,
		jitter:     0.1,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return &Retrier{p: p}
}

// Do calls op until it succeeds, returns a non-retryable error, the attempt
// budget runs out or ctx is done. The returned error has the Retryable or
// Permanent marker removed. When ctx ends during a wait, the last operation
// error is returned rather than the context error.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		last = unmark(err)

		if IsPermanent(err) || !r.shouldRetry(err) || attempt >= r.p.attempts {
			return last
		}

		delay := r.backoff(attempt)
		if r.p.onRetry != nil {
			r.p.onRetry(attempt, last, delay)
		}
		if !sleep(ctx, delay) {
			return last
		}
	}
}

func (r *Retrier) shouldRetry(err error) bool {
	if r.p.retryIf != nil {
		return r.p.retryIf(err)
	}
	return IsRetryable(err)
}

// backoff returns the wait after the given failed attempt.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := float64(r.p.initial)
	for i := 1; i < attempt && d < float64(r.p.ceiling); i++ {
		d *= r.p.multiplier
	}
	d = min(d, float64(r.p.ceiling))
	if r.p.jitter > 0 {
		d += d * r.p.jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(max(d, 0))
}

// unmark strips a top-level Retryable or Permanent wrapper.
func unmark(err error) error {
	switch e := err.(type) {
	case *RetryableError:
		return e.Err
	case *PermanentError:
		return e.Err
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// BackendRetrier is tuned for progress store calls made while a page load
// waits. opts apply after the preset.
func BackendRetrier(opts ...Option) *Retrier {
	return New(append([]Option{
		WithMaxAttempts(3),
		WithInitialDelay(200 * time.Millisecond),
		WithMaxDelay(2 * time.Second),
		WithJitter(0.2),
	}, opts...)...)
}

// DatabaseRetrier is tuned for short PostgreSQL statements.
func DatabaseRetrier(opts ...Option) *Retrier {
	return New(append([]Option{
		WithMaxAttempts(3),
		WithInitialDelay(50 * time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.05),
	}, opts...)...)
}
