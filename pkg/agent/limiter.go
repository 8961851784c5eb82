package agent

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorIdleEvictAfter is how long an idle visitor's limiter survives
// before the sweep drops it.
const visitorIdleEvictAfter = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-caller query budget. Each caller key gets its
// own token bucket sized to requests/window; idle buckets are swept.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	limit rate.Limit
	burst int

	lastSweep time.Time
}

// NewRateLimiter allows requests per window for each distinct key. Zero or
// negative inputs fall back to 10 requests per minute.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests <= 0 {
		requests = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		visitors:  make(map[string]*visitor),
		limit:     rate.Limit(float64(requests) / window.Seconds()),
		burst:     requests,
		lastSweep: time.Now(),
	}
}

// Allow reports whether the caller identified by key may run a query now.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > visitorIdleEvictAfter {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorIdleEvictAfter {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}
