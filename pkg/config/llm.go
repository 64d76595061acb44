package config

import "time"

// LLMConfig holds the structured-completion client settings (query
// expansion and match scoring), backed by google.golang.org/genai.
type LLMConfig struct {
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	Temperature     float32       `yaml:"temperature"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
}

// DefaultLLMConfig returns LLM client defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Model:           "gemini-2.0-flash",
		Timeout:         30 * time.Second,
		MaxRetries:      2,
		Temperature:     0.2,
		MaxOutputTokens: 2048,
	}
}

// Validate checks the LLM configuration has what it needs to dial out.
func (c *LLMConfig) Validate() error {
	if c.APIKey == "" {
		return newFieldError("llm.api_key", "must not be empty")
	}
	if c.Model == "" {
		return newFieldError("llm.model", "must not be empty")
	}
	return nil
}
