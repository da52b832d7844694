package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/atriumhq/atrium/pkg/httputil"
	"github.com/atriumhq/atrium/pkg/observability"
)

// RateLimitConfig defines a fixed-window rate limit
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultRateLimitConfig is the limit applied to anonymous callers
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute}
}

// AuthRateLimitConfig is the tighter limit for credential endpoints, keyed
// by client address to slow password guessing.
func AuthRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}
}

// RateLimiter is a Redis-backed fixed-window counter shared across
// instances.
type RateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewRateLimiter creates a limiter with the given key prefix
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "atrium:ratelimit"
	}
	return &RateLimiter{redis: redisClient, config: config, prefix: prefix}
}

// Allow increments the caller's window counter and reports whether the
// request is within the limit.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.prefix + ":" + key

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		// first hit in the window starts the clock
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return true, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return count <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the unused quota in the current window
func (rl *RateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := rl.redis.Get(ctx, rl.prefix+":"+key).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	}
	if err != nil {
		return 0, err
	}
	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TTL returns the time until the caller's window resets
func (rl *RateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.prefix+":"+key).Result()
}

// Reset clears the counter for a key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.prefix+":"+key).Err()
}

// RateLimitMiddleware applies a per-address limit to every request. It runs
// ahead of authentication, so the client address is the only key that cannot
// be chosen by the caller. Redis failures fail open so an unavailable
// limiter never takes the API down with it.
type RateLimitMiddleware struct {
	limiter *RateLimiter
}

// NewRateLimitMiddleware creates the middleware with the standard limit
func NewRateLimitMiddleware(redisClient *redis.Client) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: NewRateLimiter(redisClient, DefaultRateLimitConfig(), "atrium:ratelimit:anon"),
	}
}

// Handler wraps a handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveLimited(w, r, next, m.limiter, "ip:"+httputil.ClientIP(r))
	})
}

// AuthEndpointLimiter returns middleware for login and password endpoints,
// always keyed by client address.
func AuthEndpointLimiter(redisClient *redis.Client) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(redisClient, AuthRateLimitConfig(), "atrium:ratelimit:auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			serveLimited(w, r, next, limiter, "ip:"+httputil.ClientIP(r))
		})
	}
}

func serveLimited(w http.ResponseWriter, r *http.Request, next http.Handler, limiter *RateLimiter, key string) {
	ctx := r.Context()

	allowed, err := limiter.Allow(ctx, key)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("rate limiter unavailable")
		next.ServeHTTP(w, r)
		return
	}

	if !allowed {
		writeRateLimited(ctx, w, limiter, key)
		return
	}

	if remaining, err := limiter.Remaining(ctx, key); err == nil {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.config.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	}
	next.ServeHTTP(w, r)
}

func writeRateLimited(ctx context.Context, w http.ResponseWriter, limiter *RateLimiter, key string) {
	retryAfter := limiter.config.WindowDuration
	if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
		retryAfter = ttl
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.config.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", "0")
	httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
}
