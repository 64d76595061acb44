package config

// Defaults builds a Config populated entirely with the package's built-in
// defaults. Load starts from this and merges a YAML file (if any) on top of
// it with mergo, so a partial file only overrides the fields it sets.
func Defaults() *Config {
	return &Config{
		Database:    *DefaultDatabaseConfig(),
		KV:          *DefaultKVConfig(),
		RateLimiter: *DefaultRateLimiterConfig(),
		Scheduler:   *DefaultSchedulerConfig(),
		Collection:  *DefaultCollectionQueueConfig(),
		Matching:    *DefaultMatchingQueueConfig(),
		Fallback:    *DefaultFallbackConfig(),
		Scraper:     *DefaultScraperConfig(),
		LLM:         *DefaultLLMConfig(),
		Notify:      *DefaultNotifyConfig(),
		Admin:       *DefaultAdminConfig(),
	}
}
