// Package ratelimit implements sliding-window request limiting.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most limit calls per key within any window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// MemoryLimiter keeps per-key timestamps in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	now     func() time.Time
}

// NewMemoryLimiter creates a process-local limiter. now may be nil.
func NewMemoryLimiter(now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		entries: make(map[string][]time.Time),
		now:     now,
	}
}

// Allow records the call and reports whether it is within the limit.
// Rejected calls are not recorded.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := evict(l.entries[key], now.Add(-window))
	if len(recent) >= limit {
		l.entries[key] = recent
		return false, nil
	}
	l.entries[key] = append(recent, now)
	return true, nil
}

// Remaining returns how many calls key may still make in the current window.
func (l *MemoryLimiter) Remaining(key string, limit int, window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := evict(l.entries[key], l.now().Add(-window))
	l.entries[key] = recent
	return max(limit-len(recent), 0)
}

// RetryAfter returns how long until key regains a slot, or zero.
func (l *MemoryLimiter) RetryAfter(key string, limit int, window time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := evict(l.entries[key], now.Add(-window))
	if len(recent) < limit {
		return 0
	}
	return recent[len(recent)-limit].Add(window).Sub(now)
}

// Cleanup drops keys with no calls inside window.
func (l *MemoryLimiter) Cleanup(window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-window)
	removed := 0
	for key, times := range l.entries {
		if recent := evict(times, cutoff); len(recent) == 0 {
			delete(l.entries, key)
			removed++
		} else {
			l.entries[key] = recent
		}
	}
	return removed
}

// evict drops timestamps at or before cutoff. times is sorted ascending.
func evict(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}
