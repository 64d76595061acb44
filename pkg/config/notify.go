package config

// DedupMode controls how cross-subscription notification dedup is applied.
type DedupMode string

const (
	// DedupFilterThenCap drops jobs already notified to the user on any
	// subscription, then caps the remaining matches per run.
	DedupFilterThenCap DedupMode = "filter_then_cap"
)

// NotifyConfig holds Slack notification settings.
type NotifyConfig struct {
	BotToken         string    `yaml:"bot_token"`
	DefaultChannel   string    `yaml:"default_channel"`
	MaxMatchesPerRun int       `yaml:"max_matches_per_run"`
	DedupMode        DedupMode `yaml:"dedup_mode"`
	BlockTextLimit   int       `yaml:"block_text_limit"`
}

// DefaultNotifyConfig returns notification defaults.
func DefaultNotifyConfig() *NotifyConfig {
	return &NotifyConfig{
		MaxMatchesPerRun: 10,
		DedupMode:        DedupFilterThenCap,
		BlockTextLimit:   2900,
	}
}

// Enabled reports whether Slack notifications can be sent: a missing token
// or channel disables the notifier instead of erroring.
func (c *NotifyConfig) Enabled() bool {
	return c != nil && c.BotToken != "" && c.DefaultChannel != ""
}
