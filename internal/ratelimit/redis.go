package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts admissions in Redis with INCR + first-write EXPIRE,
// so the count is shared by every edge replica. The key embeds the window
// number, which makes the counter self-resetting: a new window means a new
// key, and the TTL reaps the old one.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisLimiter connects to Redis and verifies reachability.
func NewRedisLimiter(ctx context.Context, url string, limit int, window time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ratelimit: ping redis: %w", err)
	}
	return &RedisLimiter{client: client, limit: limit, window: window}, nil
}

// Allow atomically increments the caller's window counter. The TTL is set
// only when the counter is created, so a steady request stream cannot keep
// a window alive past its boundary.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now()
	start := windowStart(now, l.window)
	resetAt := start.Add(l.window)
	redisKey := fmt.Sprintf("rl:%s:%d", key, start.Unix())

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, redisKey)
	// NX keeps the first-increment expiry; later increments are no-ops.
	pipe.ExpireNX(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}

	n := int(count.Val())
	remaining := l.limit - n
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   n <= l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
