package auth

import (
	"sync"
	"time"

	"github.com/quillforge/quillforge/pkg/apperr"
)

// RateLimiter implements fixed-window counters keyed by {workspace_id,
// bucket}, with per-route limits supplied by configuration rather than
// hardcoded.
type RateLimiter struct {
	mu       sync.Mutex
	limits   map[string]int
	window   time.Duration
	counters map[string]*windowCounter
}

type windowCounter struct {
	count      int
	windowEnds time.Time
}

// NewRateLimiter builds a RateLimiter. limits maps a route bucket name to
// its maximum requests per window.
func NewRateLimiter(limits map[string]int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limits:   limits,
		window:   window,
		counters: make(map[string]*windowCounter),
	}
}

// Allow reports whether one more request in (workspaceID, bucket) is
// permitted in the current fixed window, incrementing the counter if so.
func (r *RateLimiter) Allow(workspaceID, bucket string) error {
	limit, configured := r.limits[bucket]
	if !configured || limit <= 0 {
		return nil
	}

	key := workspaceID + "|" + bucket
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[key]
	if !ok || now.After(c.windowEnds) {
		c = &windowCounter{count: 0, windowEnds: now.Add(r.window)}
		r.counters[key] = c
	}

	if c.count >= limit {
		return apperr.New(apperr.Throttled, "rate limit exceeded for "+bucket)
	}
	c.count++
	return nil
}
