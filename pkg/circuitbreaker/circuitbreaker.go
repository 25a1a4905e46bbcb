// Package circuitbreaker fails calls fast while a dependency is down.
//
// A breaker starts closed. After FailureThreshold consecutive failures it
// opens and rejects calls with ErrCircuitOpen. Once the open timeout has
// passed it lets a limited number of probe calls through (half-open); enough
// probe successes close it again and any probe failure reopens it.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrCircuitOpen rejects a call while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests rejects a call while the half-open probes are in use.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type settings struct {
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	maxProbes        int
	onStateChange    func(name string, from, to State)
	isFailure        func(error) bool
	now              func() time.Time
}

// Option tunes a breaker. Non-positive numbers are ignored.
type Option func(*settings)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many probe successes close the breaker.
func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.successThreshold = n
		}
	}
}

// WithTimeout sets how long the breaker stays open before probing.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.openTimeout = d
		}
	}
}

// WithMaxHalfOpenRequests sets how many probes may run at once.
func WithMaxHalfOpenRequests(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxProbes = n
		}
	}
}

// WithOnStateChange registers a hook called on every transition. It runs
// with the breaker locked and must not call back into it.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onStateChange = fn }
}

// WithIsFailure decides which errors count as failures. Errors it rejects
// are returned to the caller but count as successes.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) { s.isFailure = fn }
}

func withClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  settings

	mu        sync.Mutex
	state     State
	failures  int // consecutive, while closed
	successes int // consecutive, while half-open
	probes    int // in flight, while half-open
	openedAt  time.Time
}

// New returns a closed breaker. Defaults: 5 failures to open, 30s open,
// 1 probe, 2 probe successes to close.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{
		failureThreshold: 5,
		successThreshold: 2,
		openTimeout:      30 * time.Second,
		maxProbes:        1,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, cfg: cfg}
}

// Execute runs fn unless the breaker rejects the call, and records the
// outcome. fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(probe, cb.failed(err))
	return err
}

// State returns the current state. An open breaker whose timeout has passed
// still reports open until the next call probes it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name identifies the breaker in state change hooks.
func (cb *CircuitBreaker) Name() string { return cb.name }

func (cb *CircuitBreaker) failed(err error) bool {
	if err == nil {
		return false
	}
	if cb.cfg.isFailure != nil {
		return cb.cfg.isFailure(err)
	}
	return true
}

// admit reports whether the call is a half-open probe.
func (cb *CircuitBreaker) admit() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if cb.cfg.now().Sub(cb.openedAt) < cb.cfg.openTimeout {
			return false, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}

	if cb.probes >= cb.cfg.maxProbes {
		return false, ErrTooManyRequests
	}
	cb.probes++
	return true, nil
}

func (cb *CircuitBreaker) record(probe, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe && cb.state == StateHalfOpen {
		cb.probes--
	}

	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.cfg.failureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		if failed {
			cb.transition(StateOpen)
			return
		}
		cb.successes++
		if cb.successes >= cb.cfg.successThreshold {
			cb.transition(StateClosed)
		}
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.failures, cb.successes, cb.probes = 0, 0, 0
	if to == StateOpen {
		cb.openedAt = cb.cfg.now()
	}
	if cb.cfg.onStateChange != nil {
		cb.cfg.onStateChange(cb.name, from, to)
	}
}

// BackendBreaker guards the remote progress store. It opens after three
// failures so page loads fall back to cached progress quickly. opts apply
// after the preset.
func BackendBreaker(onStateChange func(name string, from, to State), opts ...Option) *CircuitBreaker {
	return New("progress-backend", append([]Option{
		WithFailureThreshold(3),
		WithTimeout(30 * time.Second),
		WithOnStateChange(onStateChange),
		WithIsFailure(notCanceled),
	}, opts...)...)
}

// DatabaseBreaker guards PostgreSQL. A single probe success closes it.
func DatabaseBreaker(onStateChange func(name string, from, to State), opts ...Option) *CircuitBreaker {
	return New("database", append([]Option{
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithTimeout(10 * time.Second),
		WithOnStateChange(onStateChange),
		WithIsFailure(notCanceled),
	}, opts...)...)
}

// notCanceled keeps caller cancellation out of the failure count.
func notCanceled(err error) bool {
	return !errors.Is(err, context.Canceled)
}
