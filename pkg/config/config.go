package config

// Config is the umbrella configuration for the orchestrator process,
// assembled by Load from defaults, an optional YAML file, and environment
// variable overrides.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	KV          KVConfig          `yaml:"kv"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Collection  QueueConfig       `yaml:"collection_queue"`
	Matching    QueueConfig       `yaml:"matching_queue"`
	Fallback    FallbackConfig    `yaml:"fallback"`
	Scraper     ScraperConfig     `yaml:"scraper"`
	LLM         LLMConfig         `yaml:"llm"`
	Notify      NotifyConfig      `yaml:"notify"`
	Admin       AdminConfig       `yaml:"admin"`
}

// Validate runs per-section validation and returns the first failure.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Scraper.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Admin.Validate(); err != nil {
		return err
	}
	return nil
}
