package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func countAllowed(t *testing.T, l Limiter, key string, calls, limit int, window time.Duration) int {
	t.Helper()
	allowed := 0
	for i := 0; i < calls; i++ {
		ok, err := l.Allow(context.Background(), key, limit, window)
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	return allowed
}

func TestMemoryLimiter_Allow(t *testing.T) {
	clock := newFakeClock()
	limiter := NewMemoryLimiter(clock.Now)

	assert.Equal(t, 3, countAllowed(t, limiter, "scan:1.2.3.4", 4, 3, time.Minute))

	// Other keys are independent.
	assert.Equal(t, 3, countAllowed(t, limiter, "scan:5.6.7.8", 3, 3, time.Minute))

	clock.Advance(30 * time.Second)
	ok, err := limiter.Allow(context.Background(), "scan:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(31 * time.Second)
	ok, err = limiter.Allow(context.Background(), "scan:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLimiter_RemainingAndRetryAfter(t *testing.T) {
	clock := newFakeClock()
	limiter := NewMemoryLimiter(clock.Now)

	assert.Equal(t, 3, limiter.Remaining("k", 3, time.Minute))
	countAllowed(t, limiter, "k", 1, 3, time.Minute)
	clock.Advance(10 * time.Second)
	countAllowed(t, limiter, "k", 2, 3, time.Minute)

	assert.Equal(t, 0, limiter.Remaining("k", 3, time.Minute))
	assert.Equal(t, 50*time.Second, limiter.RetryAfter("k", 3, time.Minute))

	clock.Advance(50 * time.Second)
	assert.Equal(t, 1, limiter.Remaining("k", 3, time.Minute))
	assert.Zero(t, limiter.RetryAfter("k", 3, time.Minute))
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	clock := newFakeClock()
	limiter := NewMemoryLimiter(clock.Now)

	countAllowed(t, limiter, "old", 1, 3, time.Minute)
	clock.Advance(2 * time.Minute)
	countAllowed(t, limiter, "fresh", 1, 3, time.Minute)

	assert.Equal(t, 1, limiter.Cleanup(time.Minute))
	assert.Equal(t, 2, limiter.Remaining("fresh", 3, time.Minute))
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	limiter := NewMemoryLimiter(newFakeClock().Now)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := limiter.Allow(context.Background(), "k", 5, time.Minute)
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowed)
}
