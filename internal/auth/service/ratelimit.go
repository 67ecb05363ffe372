package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter throttles magic-link requests per key (normalized email and
// client IP independently). Limiters idle long enough are evicted so the map
// does not grow with one entry per address ever seen.
type rateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	// One request per 30 seconds sustained, bursts of 3. Enough for a user
	// who mistyped their address, useless for enumeration.
	magicRefill = 30 * time.Second
	magicBurst  = 3

	limiterIdleEviction = 30 * time.Minute
)

func newRateLimiter() *rateLimiter {
	return &rateLimiter{entries: make(map[string]*limiterEntry)}
}

// Allow reports whether a request for key may proceed now.
func (l *rateLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(magicRefill), magicBurst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now

	if len(l.entries) > 1024 {
		l.evictIdle(now)
	}
	return entry.limiter.AllowN(now, 1)
}

// evictIdle drops entries idle past the eviction window. Called under mu.
func (l *rateLimiter) evictIdle(now time.Time) {
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) > limiterIdleEviction {
			delete(l.entries, key)
		}
	}
}
