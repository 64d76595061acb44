package config

import "time"

// ScraperConfig holds the outbound HTTP settings for the external job-board
// scraper service consumed during the collection stage.
type ScraperConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	ResultsPerQuery int           `yaml:"results_per_query"`
	SiteNames       []string      `yaml:"site_names"`
}

// DefaultScraperConfig returns scraper client defaults.
func DefaultScraperConfig() *ScraperConfig {
	return &ScraperConfig{
		Timeout:         90 * time.Second,
		MaxRetries:      2,
		ResultsPerQuery: 20,
		SiteNames:       []string{"indeed", "linkedin"},
	}
}

// Validate checks the scraper configuration has what it needs to dial out.
func (c *ScraperConfig) Validate() error {
	if c.BaseURL == "" {
		return newFieldError("scraper.base_url", "must not be empty")
	}
	return nil
}
