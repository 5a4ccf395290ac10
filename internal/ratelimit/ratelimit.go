// Package ratelimit counts requests per key in fixed windows.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether one more request for key fits in the current window
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter is a single process Limiter used when no Redis is configured
type MemoryLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	counters map[string]*window
	now      func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// NewMemoryLimiter allows limit requests per key every window
func NewMemoryLimiter(limit int, w time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:    limit,
		window:   w,
		counters: make(map[string]*window),
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.counters[key]
	if !ok || !now.Before(entry.resetAt) {
		l.sweep(now)
		entry = &window{resetAt: now.Add(l.window)}
		l.counters[key] = entry
	}
	entry.count++
	return entry.count <= l.limit, nil
}

// sweep drops expired windows so idle keys do not accumulate
func (l *MemoryLimiter) sweep(now time.Time) {
	for k, e := range l.counters {
		if !now.Before(e.resetAt) {
			delete(l.counters, k)
		}
	}
}
