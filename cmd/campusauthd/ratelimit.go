package main

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyedLimiter gives each client+username key its own token bucket
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newKeyedLimiter(perMinute int) *keyedLimiter {
	return &keyedLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

// Allow implements campusauth.RateLimiter
func (k *keyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	e, ok := k.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[key] = e
	}
	e.lastSeen = time.Now()
	k.mu.Unlock()

	if !e.limiter.Allow() {
		RateLimitedTotal.Inc()
		return false
	}
	return true
}

// prune drops keys idle for longer than idle
func (k *keyedLimiter) prune(idle time.Duration) {
	cutoff := time.Now().Add(-idle)
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, e := range k.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(k.limiters, key)
		}
	}
}
