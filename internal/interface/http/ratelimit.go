package http

import (
	"sync"
	"time"
)

// rateLimiter allows limit requests per key in any sliding window. Keys
// with no recent requests are dropped during a sweep that runs on access at
// most once per window.
type rateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	requests  map[string][]time.Time // ascending
	lastSweep time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		requests: make(map[string][]time.Time),
	}
}

// Allow records a request for key and reports whether it is within limit.
// Rejected requests are not recorded.
func (rl *rateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)
	if now.Sub(rl.lastSweep) > rl.window {
		for k, ts := range rl.requests {
			if kept := after(ts, cutoff); len(kept) > 0 {
				rl.requests[k] = kept
			} else {
				delete(rl.requests, k)
			}
		}
		rl.lastSweep = now
	}

	ts := after(rl.requests[key], cutoff)
	if len(ts) >= rl.limit {
		rl.requests[key] = ts
		return false
	}
	rl.requests[key] = append(ts, now)
	return true
}

func after(ts []time.Time, cutoff time.Time) []time.Time {
	for i, t := range ts {
		if t.After(cutoff) {
			return ts[i:]
		}
	}
	return nil
}
