package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig suits the credential endpoints: a burst of ten
// attempts refilled at one per second.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 1,
		BurstSize:         10,
	}
}

// Window is the fixed window over which BurstSize requests are allowed when
// a windowed limiter enforces the same long run rate as the token bucket.
func (c RateLimitConfig) Window() time.Duration {
	if c.RequestsPerSecond <= 0 || c.BurstSize <= 0 {
		return time.Second
	}
	return time.Duration(float64(c.BurstSize) / c.RequestsPerSecond * float64(time.Second))
}

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int // seconds, set when not allowed
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// take refills the bucket, then consumes a token if one is available.
// It reports the tokens left and, when refused, the wait in seconds.
func (b *tokenBucket) take() (ok bool, remaining int, retryAfter int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	if b.refillRate <= 0 {
		return false, 0, 1
	}
	return false, 0, int(math.Ceil((1 - b.tokens) / b.refillRate))
}

// MemoryLimiter keeps one token bucket per key in process memory. Suitable
// for a single instance; use RedisLimiter when several instances share
// traffic. A bucket left alone long enough to refill completely behaves like
// a new one, so such buckets are dropped when new keys arrive.
type MemoryLimiter struct {
	buckets   map[string]*tokenBucket
	mu        sync.RWMutex
	config    RateLimitConfig
	idleAfter time.Duration
	lastSweep time.Time
}

func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	l := &MemoryLimiter{
		buckets:   make(map[string]*tokenBucket),
		config:    cfg,
		lastSweep: time.Now(),
	}
	// Without a refill rate a bucket never recovers, so it is never dropped.
	if cfg.RequestsPerSecond > 0 && cfg.BurstSize > 0 {
		l.idleAfter = cfg.Window()
	}
	return l
}

func (l *MemoryLimiter) getBucket(key string) *tokenBucket {
	l.mu.RLock()
	bucket, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if bucket, ok := l.buckets[key]; ok {
		return bucket
	}
	now := time.Now()
	if l.idleAfter > 0 && now.Sub(l.lastSweep) >= l.idleAfter {
		l.sweep(now)
	}
	bucket = newTokenBucket(l.config.RequestsPerSecond, l.config.BurstSize)
	l.buckets[key] = bucket
	return bucket
}

// sweep removes buckets idle for at least idleAfter. Callers hold l.mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastRefill)
		b.mu.Unlock()
		if idle >= l.idleAfter {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	ok, remaining, retryAfter := l.getBucket(key).take()
	return Decision{
		Allowed:    ok,
		Limit:      l.config.BurstSize,
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}, nil
}

// RateLimit throttles requests per client IP and route. A limiter failure
// is logged and the request is let through.
func RateLimit(limiter Limiter, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Path() + ":" + c.RealIP()

			d, err := limiter.Allow(c.Request().Context(), key)
			if err != nil {
				logger.Warn().Err(err).
					Str("request_id", GetRequestID(c)).
					Str("path", c.Path()).
					Msg("rate limiter unavailable, allowing request")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(d.RetryAfter))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
