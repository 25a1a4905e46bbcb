package handlers

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// HealthChecker reports the health of progressd and what it depends on.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc returns nil when the dependency is usable.
type HealthCheckFunc func(ctx context.Context) error

type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// CompositeHealthChecker runs every registered check concurrently, each
// under its own timeout, and is healthy only when all of them pass.
type CompositeHealthChecker struct {
	version string
	started time.Time

	mu      sync.RWMutex
	checks  map[string]HealthCheckFunc
	timeout time.Duration
}

// NewCompositeHealthChecker returns a checker with no checks and a 5s
// per-check timeout.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		version: version,
		started: time.Now(),
		checks:  make(map[string]HealthCheckFunc),
		timeout: 5 * time.Second,
	}
}

func (c *CompositeHealthChecker) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// AddCheck registers check under name, replacing any check with that name.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]HealthCheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	timeout := c.timeout
	c.mu.RUnlock()

	st := HealthStatus{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	if len(checks) == 0 {
		st.Message = "No health checks registered"
		return st
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, fn := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := run(ctx, fn, timeout)
			mu.Lock()
			st.Checks[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	var failed []string
	for name, res := range st.Checks {
		if !res.Healthy {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		st.Message = "All checks passed"
		return st
	}
	slices.Sort(failed)
	st.Healthy = false
	st.Message = "Some checks failed: " + strings.Join(failed, ", ")
	return st
}

func run(ctx context.Context, fn HealthCheckFunc, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	res := CheckResult{
		Healthy:  err == nil,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// Pinger is satisfied by the Postgres connection and the Redis store.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}
