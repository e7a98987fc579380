package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitAlgorithm selects the limiting algorithm
type RateLimitAlgorithm string

const (
	// TokenBucket refills continuously at limit/window per second
	TokenBucket RateLimitAlgorithm = "token_bucket"
	// FixedWindow counts requests per aligned window
	FixedWindow RateLimitAlgorithm = "fixed_window"
)

// RateLimitType selects the key dimension
type RateLimitType string

const (
	// RateLimitByIP keys by client IP
	RateLimitByIP RateLimitType = "ip"
	// RateLimitByUser keys by authenticated user, falling back to IP
	RateLimitByUser RateLimitType = "user"
)

// RateLimitConfig configures a limiter instance
type RateLimitConfig struct {
	// Allowed requests per window
	Limit int
	// Window size in seconds
	Window int
	// Limiting algorithm
	Algorithm RateLimitAlgorithm
	// Key dimension
	Type RateLimitType
	// Optional custom key function
	KeyFunc func(*gin.Context) string
}

// RateLimiter checks whether a request may proceed
type RateLimiter interface {
	Allow(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error)
}

// RateLimitResult is the outcome of a limiter check
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   int64
	Limit     int
}

// RedisRateLimiter implements RateLimiter on Redis
type RedisRateLimiter struct {
	redis *redis.Client
}

// NewRedisRateLimiter creates a Redis-backed rate limiter
func NewRedisRateLimiter(redis *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{redis: redis}
}

// Allow checks whether the request identified by key may proceed
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error) {
	switch config.Algorithm {
	case FixedWindow:
		return r.fixedWindow(ctx, key, config)
	default:
		return r.tokenBucket(ctx, key, config)
	}
}

func (r *RedisRateLimiter) tokenBucket(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error) {
	now := time.Now().Unix()
	bucketKey := fmt.Sprintf("ratelimit:token:%s", key)

	script := `
		local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'last_update')
		local capacity = tonumber(ARGV[1])
		local rate = tonumber(ARGV[2])
		local now = tonumber(ARGV[3])
		local requested = tonumber(ARGV[4])

		local tokens = tonumber(bucket[1]) or capacity
		local last_update = tonumber(bucket[2]) or now

		local elapsed = now - last_update
		local new_tokens = math.min(capacity, tokens + elapsed * rate)

		local allowed = new_tokens >= requested
		local remaining = 0

		if allowed then
			new_tokens = new_tokens - requested
			remaining = math.floor(new_tokens)
		end

		redis.call('HMSET', KEYS[1], 'tokens', new_tokens, 'last_update', now)
		redis.call('EXPIRE', KEYS[1], math.ceil(capacity / rate) + 1)

		return {allowed and 1 or 0, remaining, capacity}
	`

	ratePerSecond := float64(config.Limit) / float64(config.Window)

	result, err := r.redis.Eval(ctx, script, []string{bucketKey},
		config.Limit,
		ratePerSecond,
		now,
		1,
	).Result()

	if err != nil {
		return nil, err
	}

	values := result.([]interface{})
	allowed := values[0].(int64) == 1
	remaining := int(values[1].(int64))
	limit := int(values[2].(int64))

	resetAt := now + int64(config.Window)

	return &RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
		Limit:     limit,
	}, nil
}

func (r *RedisRateLimiter) fixedWindow(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error) {
	now := time.Now().Unix()
	window := now / int64(config.Window)
	windowKey := fmt.Sprintf("ratelimit:fixed:%s:%d", key, window)

	script := `
		local current = tonumber(redis.call('GET', KEYS[1]) or 0)
		local limit = tonumber(ARGV[1])
		local ttl = tonumber(ARGV[2])

		local allowed = current < limit
		local remaining = limit - current - 1

		if allowed then
			redis.call('INCR', KEYS[1])
			if current == 0 then
				redis.call('EXPIRE', KEYS[1], ttl)
			end
		else
			remaining = -1
		end

		return {allowed and 1 or 0, remaining, limit}
	`

	result, err := r.redis.Eval(ctx, script, []string{windowKey},
		config.Limit,
		config.Window+1,
	).Result()

	if err != nil {
		return nil, err
	}

	values := result.([]interface{})
	allowed := values[0].(int64) == 1
	remaining := int(values[1].(int64))
	limit := int(values[2].(int64))

	resetAt := (window + 1) * int64(config.Window)

	return &RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
		Limit:     limit,
	}, nil
}

// RateLimitMiddleware applies a single rule to all requests passing through it
type RateLimitMiddleware struct {
	limiter RateLimiter
	config  *RateLimitConfig
}

// NewRateLimitMiddleware creates a rate limit middleware
func NewRateLimitMiddleware(limiter RateLimiter, config *RateLimitConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		config:  config,
	}
}

// Middleware returns the gin handler
func (m *RateLimitMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := m.generateKey(c)

		result, err := m.limiter.Allow(c.Request.Context(), key, m.config)
		if err != nil {
			// Fail open on Redis errors
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": result.ResetAt - time.Now().Unix(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (m *RateLimitMiddleware) generateKey(c *gin.Context) string {
	if m.config.KeyFunc != nil {
		return m.config.KeyFunc(c)
	}

	switch m.config.Type {
	case RateLimitByUser:
		userID, exists := c.Get("userID")
		if !exists {
			// Anonymous requests fall back to IP
			return "ip:" + m.getClientIP(c)
		}
		return fmt.Sprintf("user:%v", userID)
	default:
		return m.getClientIP(c)
	}
}

func (m *RateLimitMiddleware) getClientIP(c *gin.Context) string {
	xff := c.GetHeader("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	xri := c.GetHeader("X-Real-Ip")
	if xri != "" {
		return xri
	}

	ip := c.ClientIP()
	if ip != "" {
		return ip
	}

	return "unknown"
}

// RateLimitGroup applies per-path rules with a default fallback
type RateLimitGroup struct {
	limiter         RateLimiter
	defaultConfig   *RateLimitConfig
	specificConfigs map[string]*RateLimitConfig
}

// NewRateLimitGroup creates a rate limit group
func NewRateLimitGroup(limiter RateLimiter, defaultConfig *RateLimitConfig) *RateLimitGroup {
	return &RateLimitGroup{
		limiter:         limiter,
		defaultConfig:   defaultConfig,
		specificConfigs: make(map[string]*RateLimitConfig),
	}
}

// AddSpecificConfig registers a rule for a path prefix
func (g *RateLimitGroup) AddSpecificConfig(path string, config *RateLimitConfig) {
	g.specificConfigs[path] = config
}

// Middleware returns the gin handler applying the matching rule
func (g *RateLimitGroup) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		config := g.defaultConfig
		for path, specific := range g.specificConfigs {
			if strings.HasPrefix(c.Request.URL.Path, path) {
				config = specific
				break
			}
		}

		m := NewRateLimitMiddleware(g.limiter, config)
		m.Middleware()(c)
	}
}
