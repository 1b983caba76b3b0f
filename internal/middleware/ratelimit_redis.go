package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateKeyPrefix = "vidforge:rate:"

// redisCounter is the slice of the go-redis client RedisLimiter uses.
type redisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisLimiter counts requests per key in fixed windows with INCR and
// PEXPIRE, so every API process shares one budget per caller.
type RedisLimiter struct {
	client redisCounter
	limit  int64
	per    time.Duration
}

func NewRedisLimiter(client redisCounter, limit int, per time.Duration) *RedisLimiter {
	if limit < 1 {
		limit = 1
	}
	return &RedisLimiter{client: client, limit: int64(limit), per: per}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	key = rateKeyPrefix + key
	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return true, 0, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if n == 1 {
		if err := l.client.PExpire(ctx, key, l.per).Err(); err != nil {
			return true, 0, fmt.Errorf("ratelimit: pexpire: %w", err)
		}
	}
	if n <= l.limit {
		return true, 0, nil
	}
	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil {
		return false, l.per, nil
	}
	if ttl <= 0 {
		// The window lost its expiry; start a fresh one.
		_ = l.client.PExpire(ctx, key, l.per).Err()
		ttl = l.per
	}
	return false, ttl, nil
}

var (
	_ Limiter = (*RedisLimiter)(nil)
	_ Limiter = (*LocalLimiter)(nil)
)
