package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T, clock *fakeClock) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, "ratelimit:", clock.Now), mr
}

func TestRedisLimiter_Allow(t *testing.T) {
	clock := newFakeClock()
	limiter, mr := newTestRedisLimiter(t, clock)

	assert.Equal(t, 3, countAllowed(t, limiter, "scan:1.2.3.4", 4, 3, time.Minute))

	members, err := mr.ZMembers("ratelimit:scan:1.2.3.4")
	require.NoError(t, err)
	assert.Len(t, members, 3)

	clock.Advance(61 * time.Second)
	ok, err := limiter.Allow(context.Background(), "scan:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	clock := newFakeClock()
	limiter, mr := newTestRedisLimiter(t, clock)
	mr.Close()

	_, err := limiter.Allow(context.Background(), "k", 3, time.Minute)
	assert.Error(t, err)
}
