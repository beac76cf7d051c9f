package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/sms-service/internal/config"
	"github.com/iliyamo/sms-service/internal/model"
)

// limiterScript refills and takes one token atomically.  It returns
// {allowed, remaining, retry_after_ms}.
var limiterScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local per_step = tonumber(ARGV[3])
local step_ms = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local h = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(h[1]) or capacity
local ts = tonumber(h[2]) or now

if step_ms > 0 then
  local steps = math.floor(math.max(0, now - ts) / step_ms)
  if steps > 0 then
    tokens = math.min(capacity, tokens + steps * per_step)
    ts = ts + steps * step_ms
  end
end

local allowed, wait_ms = 0, 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait_ms = math.max(0, step_ms - (now - ts))
end

redis.call('HSET', key, 'tokens', tokens, 'ts', ts)
redis.call('EXPIRE', key, ttl)
return {allowed, tokens, wait_ms}
`)

// NewTokenBucket limits requests per key with a Redis token bucket.  When
// the limiter is disabled, Redis is unavailable, or the script fails, the
// request is let through: rate limiting never takes the send path down.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log zerolog.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	limit := strconv.Itoa(cfg.Capacity)
	ttlSeconds := int64(cfg.TTL / time.Second)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			res, err := limiterScript.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(), cfg.Capacity, cfg.RefillTokens, cfg.RefillInterval.Milliseconds(), ttlSeconds,
			).Result()
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("ratelimit: script failed, allowing request")
				return next(c)
			}
			allowed, remaining, retryMs, ok := parseLimiterResult(res)
			if !ok {
				log.Warn().Str("key", key).Msg("ratelimit: unexpected script result, allowing request")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if allowed {
				return next(c)
			}

			h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(retryMs)))
			log.Debug().Str("key", key).Int64("retry_ms", retryMs).Msg("ratelimit: blocked")
			return c.JSON(http.StatusTooManyRequests, model.ErrorResponse{Message: "rate limit exceeded"})
		}
	}
}

// parseLimiterResult reads the {allowed, remaining, retry_after_ms} triple.
// Lua numbers arrive as int64; numeric strings are also accepted.
func parseLimiterResult(res interface{}) (allowed bool, remaining, retryMs int64, ok bool) {
	arr, isArr := res.([]interface{})
	if !isArr || len(arr) != 3 {
		return false, 0, 0, false
	}
	var nums [3]int64
	for i, v := range arr {
		n, isNum := toInt64(v)
		if !isNum {
			return false, 0, 0, false
		}
		nums[i] = n
	}
	return nums[0] == 1, nums[1], nums[2], true
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func retryAfterSeconds(retryMs int64) int {
	if retryMs <= 0 {
		return 0
	}
	return int((retryMs + 999) / 1000)
}

// buildRateKey derives the bucket key from the client address and route.
// The request body is never read, so access keys and tokens cannot leak
// into Redis key names.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	route := c.Request().Method + " " + c.Path()

	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		return strings.Join([]string{cfg.Prefix, "ip", ip}, ":")
	case "route":
		return strings.Join([]string{cfg.Prefix, "route", route}, ":")
	}
	return strings.Join([]string{cfg.Prefix, "ip", ip, "route", route}, ":")
}
