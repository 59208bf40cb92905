package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// RetryAfter returns how long the caller should wait before retrying,
// rounded up to whole seconds.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || r.Reset.IsZero() {
		return 0
	}
	wait := r.Reset.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return (wait + time.Second - 1).Truncate(time.Second)
}

// Limiter provides rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}
