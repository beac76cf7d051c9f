package config

import "time"

// RateLimitConfig configures the Redis token bucket placed in front of
// POST /messages.  Every accepted request costs two upstream calls, so the
// bucket bounds how fast a single client can drive IAM and Secrets Manager.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int           // bucket size
	RefillTokens   int           // tokens added per interval
	RefillInterval time.Duration
	TTL            time.Duration // idle buckets expire after this
	KeyStrategy    string        // ip | route | ip_route
	Prefix         string
	Debug          bool // expose the bucket key in X-RateLimit-Key
}

// LoadRateLimitConfig reads the RATE_LIMIT_* variables.  Out-of-range values
// are clamped so the limiter always has a usable configuration.
func LoadRateLimitConfig() RateLimitConfig {
	rl := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       max(1, envInt("RATE_LIMIT_CAPACITY", 30)),
		RefillTokens:   max(1, envInt("RATE_LIMIT_REFILL_TOKENS", 1)),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", 2*time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip_route"),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "sms:rl"),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}
	if rl.RefillInterval <= 0 {
		rl.RefillInterval = time.Second
	}
	rl.TTL = max(rl.TTL, 5*rl.RefillInterval)
	return rl
}
