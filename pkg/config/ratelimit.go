package config

import "fmt"

// RateLimitConfig limits requests and tokens per client.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled,omitempty"`

	// Scope identifies a client: "user" (JWT subject, else remote IP) or
	// "ip".
	// Default: user
	Scope string `yaml:"scope,omitempty"`

	// Backend is the usage store: "memory" or "redis".
	// Default: memory
	Backend string `yaml:"backend,omitempty"`

	// Redis is required when Backend is redis.
	Redis *RedisConfig `yaml:"redis,omitempty"`

	// Limits defines the rate limit rules.
	Limits []RateLimitRule `yaml:"limits,omitempty"`
}

type RateLimitRule struct {
	// Type is "count" (requests) or "token" (LLM tokens).
	Type string `yaml:"type"`

	// Window is minute, hour, day, week or month.
	Window string `yaml:"window"`

	// Limit is the maximum allowed in the window.
	Limit int64 `yaml:"limit"`
}

func (c *RateLimitConfig) SetDefaults() {
	if c.Scope == "" {
		c.Scope = "user"
	}
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Enabled && len(c.Limits) == 0 {
		// 60 requests per minute, 100k tokens per day
		c.Limits = []RateLimitRule{
			{Type: "count", Window: "minute", Limit: 60},
			{Type: "token", Window: "day", Limit: 100000},
		}
	}
	if c.Redis != nil {
		c.Redis.SetDefaults()
		if c.Redis.Prefix == "shiro:session:" {
			c.Redis.Prefix = "shiro:ratelimit:"
		}
	}
}

func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Scope != "user" && c.Scope != "ip" {
		return fmt.Errorf("invalid rate_limit.scope %q, must be 'user' or 'ip'", c.Scope)
	}

	switch c.Backend {
	case "memory":
	case "redis":
		if c.Redis == nil {
			return fmt.Errorf("rate_limit.backend 'redis' requires rate_limit.redis")
		}
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("rate_limit.redis: %w", err)
		}
	default:
		return fmt.Errorf("invalid rate_limit.backend %q, must be 'memory' or 'redis'", c.Backend)
	}

	if len(c.Limits) == 0 {
		return fmt.Errorf("rate_limit.limits is required when rate limiting is enabled")
	}
	for i, limit := range c.Limits {
		if err := validateLimit(i, limit); err != nil {
			return err
		}
	}
	return nil
}

func validateLimit(index int, limit RateLimitRule) error {
	if limit.Type != "token" && limit.Type != "count" {
		return fmt.Errorf("invalid rate_limit.limits[%d].type %q, must be 'token' or 'count'", index, limit.Type)
	}

	switch limit.Window {
	case "minute", "hour", "day", "week", "month":
	default:
		return fmt.Errorf("invalid rate_limit.limits[%d].window %q, must be 'minute', 'hour', 'day', 'week', or 'month'", index, limit.Window)
	}

	if limit.Limit <= 0 {
		return fmt.Errorf("rate_limit.limits[%d].limit must be positive", index)
	}
	return nil
}
