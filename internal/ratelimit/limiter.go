// Package ratelimit implements the API Gate's per-key sliding-window quota
// (§4.7). Hand-rolled rather than go-chi/httprate — see SPEC_FULL.md's
// architectural decisions for why: httprate's single static per-middleware
// limit can't express a per-key variable limit or the exact
// min(timestamps)+1h reset semantics testable property #9 and scenario #6
// require. Modeled as an explicit struct per §9's "model as explicit
// structs passed through a handler chain" guidance, rather than a global
// mutable map.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks request timestamps per API key, guarded by a single
// mutex (§5: "In-process rate-limit timestamp lists ... per-process,
// guarded by an internal mutex").
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	window  time.Duration
}

func New() *Limiter {
	return &Limiter{windows: make(map[string][]time.Time), window: time.Hour}
}

// Result is the outcome of an Allow check, including the header values
// §4.7 requires on every response.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Allow drops timestamps older than now-1h, and if the remaining count is
// still >= limit, rejects; otherwise it appends now and admits (§4.7).
func (l *Limiter) Allow(key string, limit int, now time.Time) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	ts := l.windows[key]
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		resetAt := kept[0].Add(l.window)
		l.windows[key] = kept
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}
	}

	kept = append(kept, now)
	l.windows[key] = kept

	remaining := limit - len(kept)
	resetAt := now.Add(l.window)
	if len(kept) > 0 {
		resetAt = kept[0].Add(l.window)
	}
	return Result{Allowed: true, Limit: limit, Remaining: remaining, ResetAt: resetAt}
}
