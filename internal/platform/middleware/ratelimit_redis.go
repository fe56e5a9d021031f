package middleware

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed window counter shared by every server instance
// pointed at the same Redis.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.Cmdable, cfg RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  cfg.BurstSize,
		window: cfg.Window(),
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

func (l *RedisLimiter) windowKey(key string, now time.Time) (string, time.Duration) {
	slot := now.UnixNano() / int64(l.window)
	remaining := time.Duration(int64(l.window) - now.UnixNano()%int64(l.window))
	return l.prefix + key + ":" + strconv.FormatInt(slot, 10), remaining
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k, ttl := l.windowKey(key, l.now())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true, Limit: l.limit}, fmt.Errorf("redis rate limit: %w", err)
	}

	count := int(incr.Val())
	d := Decision{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: l.limit - count,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = int(math.Ceil(ttl.Seconds()))
	}
	return d, nil
}
