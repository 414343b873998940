package telegram

import "time"

// Config configures one storage_config backed by a Telegram bot.
type Config struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	BaseURL  string `yaml:"base_url"`

	// Concurrency bounds how many sendDocument calls this storage_config
	// may have in flight at once, shared by every session and Driver in this
	// process that uses the same storage_config ID; separate processes do
	// not share it.
	Concurrency int `yaml:"concurrency"`

	MinPartSize int64 `yaml:"min_part_size"`
	MaxPartSize int64 `yaml:"max_part_size"`

	// PollInterval/PollTimeout govern how long a caller that hits an
	// in-flight chunk upload (another request already uploading the same
	// part) waits for it to resolve before retrying the send itself.
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`

	// MaxRateLimitRetries bounds the 429 retry loop in UploadChunk, which
	// otherwise honors the Bot API's retry_after_seconds exactly rather
	// than the generic backoff schedule.
	MaxRateLimitRetries int `yaml:"max_rate_limit_retries"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultConfig returns the part-size window and polling cadence from the
// single_session chunk protocol.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:             "https://api.telegram.org",
		Concurrency:         2,
		MinPartSize:         5 * 1024 * 1024,
		MaxPartSize:         100 * 1024 * 1024,
		PollInterval:        500 * time.Millisecond,
		PollTimeout:         12 * time.Second,
		MaxRateLimitRetries: 8,
		RequestTimeout:      60 * time.Second,
	}
}
