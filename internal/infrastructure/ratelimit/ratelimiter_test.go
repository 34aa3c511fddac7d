package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseledger/internal/shared/clock"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func setupLimiter(t *testing.T) (*RedisLimiter, *clock.Fake, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	clk := clock.NewFake(epoch)
	return NewRedisLimiter(client, clk), clk, mr
}

func allowN(t *testing.T, l *RedisLimiter, key string, limits Limits, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		allowed, err := l.Allow(context.Background(), key, limits)
		require.NoError(t, err)
		require.True(t, allowed, "request %d should be allowed", i+1)
	}
}

func TestAllowPerMinute(t *testing.T) {
	l, _, _ := setupLimiter(t)
	limits := Limits{PerMinute: 5}

	allowN(t, l, "alice", limits, 5)

	allowed, err := l.Allow(context.Background(), "alice", limits)
	require.NoError(t, err)
	assert.False(t, allowed, "6th request should be denied")
}

func TestWindowSlides(t *testing.T) {
	l, clk, _ := setupLimiter(t)
	limits := Limits{PerMinute: 2}

	allowN(t, l, "alice", limits, 2)
	allowed, err := l.Allow(context.Background(), "alice", limits)
	require.NoError(t, err)
	assert.False(t, allowed)

	clk.Advance(61 * time.Second)
	allowed, err = l.Allow(context.Background(), "alice", limits)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestHourWindowOutlivesMinute(t *testing.T) {
	l, clk, _ := setupLimiter(t)
	limits := Limits{PerMinute: 5, PerHour: 3}

	allowN(t, l, "alice", limits, 3)
	clk.Advance(2 * time.Minute)

	allowed, err := l.Allow(context.Background(), "alice", limits)
	require.NoError(t, err)
	assert.False(t, allowed, "hour budget is spent")
}

func TestKeysAreIndependent(t *testing.T) {
	l, _, _ := setupLimiter(t)
	limits := Limits{PerMinute: 1}

	allowN(t, l, "alice", limits, 1)
	allowN(t, l, "bob", limits, 1)
}

func TestCountAndReset(t *testing.T) {
	l, _, _ := setupLimiter(t)
	ctx := context.Background()
	limits := Limits{PerMinute: 10}

	allowN(t, l, "alice", limits, 3)
	n, err := l.Count(ctx, "alice", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, l.Reset(ctx, "alice"))
	n, err = l.Count(ctx, "alice", time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAllowFailsWhenRedisDown(t *testing.T) {
	l, _, mr := setupLimiter(t)
	mr.Close()

	_, err := l.Allow(context.Background(), "alice", Limits{PerMinute: 1})
	assert.Error(t, err)
}

func TestLimitsEnabled(t *testing.T) {
	assert.False(t, Limits{}.Enabled())
	assert.True(t, Limits{PerDay: 1}.Enabled())
}
