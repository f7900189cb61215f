package api

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RunLimiter keeps one token bucket per caller. Buckets idle for longer than
// the expiry are dropped.
type RunLimiter struct {
	mu       sync.Mutex
	limiters *cache.Cache
	limit    rate.Limit
	burst    int
	idle     time.Duration
	stopOnce sync.Once
}

// NewRunLimiter allows perMinute runs per caller with the given burst.
func NewRunLimiter(perMinute, burst int, idle time.Duration) *RunLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &RunLimiter{
		limiters: cache.New(idle, idle*2),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		idle:     idle,
	}
}

// Allow consumes a token for key. When none is available it returns false
// and the wait until the next one.
func (l *RunLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var limiter *rate.Limiter
	if v, ok := l.limiters.Get(key); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(l.limit, l.burst)
	}
	// Re-set on every access so expiry measures idleness.
	l.limiters.Set(key, limiter, l.idle)

	r := limiter.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

// Len reports how many callers currently hold a bucket.
func (l *RunLimiter) Len() int {
	return l.limiters.ItemCount()
}

// Stop releases every bucket.
func (l *RunLimiter) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.limiters.Flush()
		l.mu.Unlock()
	})
}
