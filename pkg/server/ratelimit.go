package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

// DefaultRateLimit allows ten requests per minute per client.
const DefaultRateLimit = "10-M"

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	// Rate in the limiter's formatted form, e.g. "10-M" or "100-H".
	// "off" disables limiting.
	Rate string
	// Prefix namespaces limiter keys in the store.
	Prefix string
	// Redis, when set, shares counters across instances.
	Redis *redis.Client
	// ExcludedPaths are never limited.
	ExcludedPaths []string
}

// DefaultRateLimitConfig returns an in-memory limiter at DefaultRateLimit.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:          DefaultRateLimit,
		Prefix:        "helpgate:ratelimit:",
		ExcludedPaths: []string{"/health", "/metrics"},
	}
}

func (c RateLimitConfig) disabled() bool {
	return c.Rate == "off"
}

func (c RateLimitConfig) store() (limiter.Store, error) {
	opts := limiter.StoreOptions{Prefix: c.Prefix}
	if c.Redis == nil {
		return memory.NewStoreWithOptions(opts), nil
	}
	st, err := redisstore.NewStoreWithOptions(c.Redis, opts)
	if err != nil {
		return nil, fmt.Errorf("rate limit redis store: %w", err)
	}
	return st, nil
}

// rateLimitMiddleware limits each client IP. Requests to excluded paths pass
// through without touching the store.
func rateLimitMiddleware(cfg RateLimitConfig) (gin.HandlerFunc, error) {
	if cfg.Rate == "" {
		cfg.Rate = DefaultRateLimit
	}
	if cfg.disabled() {
		return func(c *gin.Context) { c.Next() }, nil
	}
	rate, err := limiter.NewRateFromFormatted(cfg.Rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", cfg.Rate, err)
	}
	store, err := cfg.store()
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{}, len(cfg.ExcludedPaths))
	for _, p := range cfg.ExcludedPaths {
		excluded[p] = struct{}{}
	}

	limit := ginlimiter.NewMiddleware(limiter.New(store, rate),
		ginlimiter.WithLimitReachedHandler(func(c *gin.Context) {
			writeError(c, &apiError{
				Status:  http.StatusTooManyRequests,
				Code:    codeRateLimited,
				Message: "too many requests, slow down",
			})
		}),
		ginlimiter.WithErrorHandler(func(c *gin.Context, err error) {
			writeError(c, internalError(err))
		}),
	)
	return func(c *gin.Context) {
		if _, ok := excluded[c.FullPath()]; ok {
			c.Next()
			return
		}
		limit(c)
	}, nil
}
