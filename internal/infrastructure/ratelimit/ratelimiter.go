// Package ratelimit counts requests per key in sliding windows stored in
// Redis, so every instance enforces the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"courseledger/internal/shared/clock"
)

// Limits caps requests per window; zero disables a window.
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

func (l Limits) Enabled() bool {
	return l.PerMinute > 0 || l.PerHour > 0 || l.PerDay > 0
}

type Limiter interface {
	Allow(ctx context.Context, key string, limits Limits) (bool, error)
}

type RedisLimiter struct {
	client *redis.Client
	clock  clock.Clock
	seq    atomic.Uint64
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client *redis.Client, clk clock.Clock) *RedisLimiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &RedisLimiter{client: client, clock: clk}
}

// Allow records the request and reports whether every window still has
// room. A denied request counts against the windows too.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limits Limits) (bool, error) {
	now := l.clock.Now()

	windows := []struct {
		duration time.Duration
		limit    int
	}{
		{time.Minute, limits.PerMinute},
		{time.Hour, limits.PerHour},
		{24 * time.Hour, limits.PerDay},
	}

	for _, window := range windows {
		if window.limit <= 0 {
			continue
		}

		allowed, err := l.checkWindow(ctx, key, window.duration, window.limit, now)
		if err != nil {
			return false, err
		}

		if !allowed {
			return false, nil
		}
	}

	return true, nil
}

func (l *RedisLimiter) checkWindow(ctx context.Context, key string, window time.Duration, limit int, now time.Time) (bool, error) {
	redisKey := l.getKey(key, window)
	windowStart := now.Add(-window).UnixNano()
	nowNano := now.UnixNano()
	member := strconv.FormatInt(nowNano, 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)

	pipe := l.client.Pipeline()

	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart, 10))
	zcard := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(nowNano), Member: member})
	pipe.Expire(ctx, redisKey, window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to execute pipeline: %w", err)
	}

	return zcard.Val() < int64(limit), nil
}

// Count returns the requests recorded for key in the trailing window.
func (l *RedisLimiter) Count(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := l.getKey(key, window)
	windowStart := l.clock.Now().Add(-window).UnixNano()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart, 10))
	zcard := pipe.ZCard(ctx, redisKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}

	return zcard.Val(), nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	pattern := fmt.Sprintf("courseledger:ratelimit:%s:*", key)

	iter := l.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := l.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}

	return nil
}

func (l *RedisLimiter) getKey(identifier string, window time.Duration) string {
	return fmt.Sprintf("courseledger:ratelimit:%s:%s", identifier, window.String())
}
