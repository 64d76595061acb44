package config

import "time"

// SourceLimitConfig holds the per-source pacing parameters for the rate
// limiter. Sources are the external scraper backends, e.g.
// "linkedin", "indeed", "serpapi".
type SourceLimitConfig struct {
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	CooldownAfter int           `yaml:"cooldown_after_consecutive_429s"`
	CooldownFor   time.Duration `yaml:"cooldown_window"`
}

// RateLimiterConfig holds the complete set of per-source rate limiter
// configuration plus the global defaults applied to any source without an
// explicit entry.
type RateLimiterConfig struct {
	Default SourceLimitConfig            `yaml:"default"`
	Sources map[string]SourceLimitConfig `yaml:"sources"`
}

// DefaultRateLimiterConfig returns built-in defaults for the well-known
// scraper sources.
func DefaultRateLimiterConfig() *RateLimiterConfig {
	def := SourceLimitConfig{
		BaseDelay:     1500 * time.Millisecond,
		MaxDelay:      2 * time.Minute,
		CooldownAfter: 3,
		CooldownFor:   5 * time.Minute,
	}
	return &RateLimiterConfig{
		Default: def,
		Sources: map[string]SourceLimitConfig{
			"linkedin": {BaseDelay: 4 * time.Second, MaxDelay: 3 * time.Minute, CooldownAfter: 3, CooldownFor: 5 * time.Minute},
			"indeed":   {BaseDelay: 2 * time.Second, MaxDelay: 2 * time.Minute, CooldownAfter: 3, CooldownFor: 5 * time.Minute},
			"serpapi":  {BaseDelay: 500 * time.Millisecond, MaxDelay: 1 * time.Minute, CooldownAfter: 3, CooldownFor: 5 * time.Minute},
		},
	}
}

// For returns the configuration for the given source, falling back to the
// configured default when no source-specific entry exists.
func (c *RateLimiterConfig) For(source string) SourceLimitConfig {
	if c == nil {
		return DefaultRateLimiterConfig().Default
	}
	if cfg, ok := c.Sources[source]; ok {
		return cfg
	}
	return c.Default
}
