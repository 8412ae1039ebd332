package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	PostgresURL string `mapstructure:"POSTGRES_URL"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	ServerPort  string `mapstructure:"SERVER_PORT"`

	// Scan cadence and concurrency ceilings. Source- and item-level
	// parallelism are tuned independently.
	ScanIntervalMinutes int `mapstructure:"SCAN_INTERVAL_MINUTES"`
	SourceWorkers       int `mapstructure:"SOURCE_WORKERS"`
	ItemWorkers         int `mapstructure:"ITEM_WORKERS"`

	// Source fetch policy.
	SourceTimeoutMinutes int `mapstructure:"SOURCE_TIMEOUT_MINUTES"`
	SourceMaxRetries     int `mapstructure:"SOURCE_MAX_RETRIES"`
	SourceBackoffSeconds int `mapstructure:"SOURCE_BACKOFF_SECONDS"`

	// Item processing policy.
	ItemTimeoutSeconds int `mapstructure:"ITEM_TIMEOUT_SECONDS"`
	ItemDelayMillis    int `mapstructure:"ITEM_DELAY_MILLIS"`

	// Extraction thresholds.
	ConfidenceThreshold      float64 `mapstructure:"CONFIDENCE_THRESHOLD"`
	ShortConfidenceThreshold float64 `mapstructure:"SHORT_CONFIDENCE_THRESHOLD"`

	// Dedup tuning.
	FingerprintTTLDays int   `mapstructure:"FINGERPRINT_TTL_DAYS"`
	NotifyMinUSD       int64 `mapstructure:"NOTIFY_MIN_USD"`

	// Job liveness.
	HeartbeatSeconds      int `mapstructure:"HEARTBEAT_SECONDS"`
	ReaperIntervalSeconds int `mapstructure:"REAPER_INTERVAL_SECONDS"`
	StaleAfterMinutes     int `mapstructure:"STALE_AFTER_MINUTES"`

	// Extraction collaborator.
	LLMEndpoint string `mapstructure:"LLM_ENDPOINT"`
	LLMModel    string `mapstructure:"LLM_MODEL"`
	LLMAPIKey   string `mapstructure:"LLM_API_KEY"`

	// Notifications.
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `mapstructure:"TELEGRAM_CHAT_ID"`
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present.
	// This allows configuration purely through environment variables in production.
	_ = viper.ReadInConfig()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SCAN_INTERVAL_MINUTES", 360)
	viper.SetDefault("SOURCE_WORKERS", 4)
	viper.SetDefault("ITEM_WORKERS", 6)
	viper.SetDefault("SOURCE_TIMEOUT_MINUTES", 5)
	viper.SetDefault("SOURCE_MAX_RETRIES", 3)
	viper.SetDefault("SOURCE_BACKOFF_SECONDS", 5)
	viper.SetDefault("ITEM_TIMEOUT_SECONDS", 45)
	viper.SetDefault("ITEM_DELAY_MILLIS", 250)
	viper.SetDefault("CONFIDENCE_THRESHOLD", 0.7)
	viper.SetDefault("SHORT_CONFIDENCE_THRESHOLD", 0.55)
	viper.SetDefault("FINGERPRINT_TTL_DAYS", 45)
	viper.SetDefault("NOTIFY_MIN_USD", 10_000_000)
	viper.SetDefault("HEARTBEAT_SECONDS", 30)
	viper.SetDefault("REAPER_INTERVAL_SECONDS", 90)
	viper.SetDefault("STALE_AFTER_MINUTES", 10)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SourceTimeout is the hard wall-clock bound on one source fetch attempt.
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutMinutes) * time.Minute
}

// ItemTimeout bounds extraction plus storage for one item.
func (c *Config) ItemTimeout() time.Duration {
	return time.Duration(c.ItemTimeoutSeconds) * time.Second
}

// ItemDelay is the minimum spacing between item starts, applied after a
// worker slot is released.
func (c *Config) ItemDelay() time.Duration {
	return time.Duration(c.ItemDelayMillis) * time.Millisecond
}

// HeartbeatInterval is the liveness write cadence.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// ReaperInterval is the stuck-job sweep cadence.
func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalSeconds) * time.Second
}

// StaleAfter is how long a heartbeat may lag before a job counts as stuck.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}
