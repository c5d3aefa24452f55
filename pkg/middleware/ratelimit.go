package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// RateLimitConfig defines a fixed window limit
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
	Prefix            string
}

// DefaultRateLimitConfig returns per-user defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		Prefix:            "tenantguard:ratelimit",
	}
}

// RateLimiter counts requests per key in Redis so that limits are shared
// across instances
type RateLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
}

// NewRateLimiter creates a Redis-backed limiter
func NewRateLimiter(redisClient *redis.Client, config RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if config.RequestsPerWindow <= 0 {
		config.RequestsPerWindow = def.RequestsPerWindow
	}
	if config.WindowDuration <= 0 {
		config.WindowDuration = def.WindowDuration
	}
	if config.Prefix == "" {
		config.Prefix = def.Prefix
	}
	return &RateLimiter{redis: redisClient, config: config}
}

// Allow counts a request for key and reports whether it is within the limit
// and how many requests remain
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.config.Prefix, key)

	// The window key is created with its TTL before it is counted, in one
	// transaction, so a counter never exists without an expiry.
	var incr *redis.IntCmd
	_, err := rl.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, redisKey, 0, rl.config.WindowDuration)
		incr = pipe.Incr(ctx, redisKey)
		return nil
	})
	if err != nil {
		return true, 0, fmt.Errorf("redis error: %w", err)
	}
	count := incr.Val()

	remaining := rl.config.RequestsPerWindow - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(rl.config.RequestsPerWindow), remaining, nil
}

// RateLimit limits requests per authenticated user. It fails open when
// Redis is unavailable; tenant isolation never depends on it.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := contextkeys.GetUserID(r.Context())
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, err := limiter.Allow(r.Context(), "user:"+userID)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Warn("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", limiter.config.WindowDuration.Seconds()))
				httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
