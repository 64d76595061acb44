package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path (if it exists), expands {{.VAR}} references
// against the process environment, and merges it over Defaults(). A missing
// path is not an error: the process can run on defaults plus env overrides
// alone, which is how the admin API key and database password are normally
// supplied in deployment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = ExpandEnv(data)
			var fileCfg Config
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
			}
			if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("merge config from %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults + env overrides
		default:
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigNotFound, path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment-time secrets and endpoints override the
// merged YAML config without being written to disk.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("JOBWATCH_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("JOBWATCH_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("JOBWATCH_KV_ADDR"); v != "" {
		cfg.KV.Addr = v
	}
	if v := os.Getenv("JOBWATCH_KV_PASSWORD"); v != "" {
		cfg.KV.Password = v
	}
	if v := os.Getenv("JOBWATCH_SCRAPER_API_KEY"); v != "" {
		cfg.Scraper.APIKey = v
	}
	if v := os.Getenv("JOBWATCH_SCRAPER_BASE_URL"); v != "" {
		cfg.Scraper.BaseURL = v
	}
	if v := os.Getenv("JOBWATCH_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("JOBWATCH_SLACK_BOT_TOKEN"); v != "" {
		cfg.Notify.BotToken = v
	}
	if v := os.Getenv("JOBWATCH_ADMIN_API_KEY"); v != "" {
		cfg.Admin.APIKey = v
	}
}
