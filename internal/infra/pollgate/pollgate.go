// Package pollgate coalesces bursts of polls for the same job so that a client
// hammering the status endpoint does not translate into one backend call per
// request.
package pollgate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "vidforge:poll:"

// Gate decides whether a job may contact its backend right now.
type Gate interface {
	// Allow reports true when no other poll of jobID was admitted within the
	// gate's interval.
	Allow(ctx context.Context, jobID string) (bool, error)
}

// setNXer is the slice of the go-redis client the gate uses.
type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisGate admits at most one poll per job per interval using SET NX PX.
// Because the key lives in Redis the gate is shared by every API process.
type RedisGate struct {
	client   setNXer
	interval time.Duration
}

// NewRedisGate builds a gate over client. A non-positive interval disables it.
func NewRedisGate(client setNXer, interval time.Duration) *RedisGate {
	return &RedisGate{client: client, interval: interval}
}

// Dial parses a redis:// URL and returns a pinged client.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("pollgate: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pollgate: ping redis: %w", err)
	}
	return client, nil
}

// Allow implements Gate.
func (g *RedisGate) Allow(ctx context.Context, jobID string) (bool, error) {
	if g == nil || g.client == nil || g.interval <= 0 {
		return true, nil
	}
	ok, err := g.client.SetNX(ctx, keyPrefix+jobID, time.Now().UnixMilli(), g.interval).Result()
	if err != nil {
		return true, fmt.Errorf("pollgate: setnx: %w", err)
	}
	return ok, nil
}

var _ Gate = (*RedisGate)(nil)
