package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, at *time.Time) *redisRateLimiter {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return &redisRateLimiter{
		client: client,
		now:    func() time.Time { return *at },
	}
}

func TestAllowAdmitsUpToLimitWithinWindow(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(t, &at)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		at = at.Add(time.Second)
		ok, err := limiter.Allow(ctx, "ip:10.0.0.1", 15, 60*time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should fit in the window", i+1)
	}

	at = at.Add(time.Second)
	ok, err := limiter.Allow(ctx, "ip:10.0.0.1", 15, 60*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Entries age out by arrival time, so once the oldest request leaves the
// window a new one is admitted again.
func TestAllowAdmitsAgainAfterWindowSlides(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := base
	limiter := newTestLimiter(t, &at)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		ok, err := limiter.Allow(ctx, "ip:10.0.0.2", 15, 60*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
	}

	at = base.Add(30 * time.Second)
	ok, err := limiter.Allow(ctx, "ip:10.0.0.2", 15, 60*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	at = base.Add(61 * time.Second)
	ok, err = limiter.Allow(ctx, "ip:10.0.0.2", 15, 60*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowRejectedRequestDoesNotConsumeCapacity(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := base
	limiter := newTestLimiter(t, &at)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		_, err := limiter.Allow(ctx, "ip:10.0.0.3", 15, 60*time.Second)
		require.NoError(t, err)
	}

	// Hammer the full window; none of these should leave a marker behind.
	for i := 0; i < 5; i++ {
		at = at.Add(time.Second)
		ok, err := limiter.Allow(ctx, "ip:10.0.0.3", 15, 60*time.Second)
		require.NoError(t, err)
		require.False(t, ok)
	}

	card, err := limiter.client.ZCard(ctx, "ip:10.0.0.3").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 15, card)

	// The moment the original burst ages out, capacity is back in full.
	at = base.Add(61 * time.Second)
	ok, err := limiter.Allow(ctx, "ip:10.0.0.3", 15, 60*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowKeysAreIndependent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(t, &at)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		ok, err := limiter.Allow(ctx, "ip:10.0.0.4", 15, 60*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := limiter.Allow(ctx, "ip:10.0.0.5", 15, 60*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "another client's burst must not spill over")
}
