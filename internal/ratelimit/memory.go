package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// memoryIdleTTL is how long an unused bucket is kept.
const memoryIdleTTL = 10 * time.Minute

type memoryEntry struct {
	limiter  *rate.Limiter
	limit    int
	lastSeen time.Time
}

// MemoryLimiter is a per-key token bucket refilling limit tokens per second
// with a burst of limit.
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*memoryEntry
	lastSweep time.Time
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*memoryEntry),
	}
}

// Allow takes one token from key's bucket if one is available at now.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)

	entry := l.buckets[key]
	if entry == nil || entry.limit != limit {
		entry = &memoryEntry{limiter: rate.NewLimiter(rate.Limit(limit), limit), limit: limit}
		l.buckets[key] = entry
	}
	entry.lastSeen = now

	allowed := entry.limiter.AllowN(now, 1)
	tokens := entry.limiter.TokensAt(now)
	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}
	reset := now
	if tokens < 1 {
		reset = now.Add(time.Duration((1 - tokens) / float64(limit) * float64(time.Second)))
	}
	return Result{Allowed: allowed, Limit: limit, Remaining: remaining, Reset: reset}, nil
}

// sweep must be called with l.mu held.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < memoryIdleTTL {
		return
	}
	l.lastSweep = now
	for key, entry := range l.buckets {
		if now.Sub(entry.lastSeen) >= memoryIdleTTL {
			delete(l.buckets, key)
		}
	}
}
