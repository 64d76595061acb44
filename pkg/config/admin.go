package config

import "time"

// AdminConfig holds settings for the admin HTTP API (gin), including the
// static API key auth and per-IP token-bucket rate limit.
type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	APIKey     string `yaml:"api_key"`

	// RateLimitRPS / RateLimitBurst configure the per-IP token bucket
	// (golang.org/x/time/rate) guarding every admin endpoint.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultAdminConfig returns admin API defaults.
func DefaultAdminConfig() *AdminConfig {
	return &AdminConfig{
		ListenAddr:      ":8080",
		RateLimitRPS:    30.0 / 60.0,
		RateLimitBurst:  10,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks the admin configuration is safe to serve with.
func (c *AdminConfig) Validate() error {
	if c.APIKey == "" {
		return newFieldError("admin.api_key", "must not be empty")
	}
	return nil
}
