package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	ProviderSettingsPath string `envconfig:"PROVIDER_SETTINGS_PATH" default:"provider_settings.yml"`
	DownloadDir          string `envconfig:"DOWNLOAD_DIR" required:"true"`
	DBPath               string `envconfig:"DB_PATH" default:"downloads.db"`
	LogLevel             string `envconfig:"LOG_LEVEL" default:"INFO"`

	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"24h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	QueueSize         int           `envconfig:"QUEUE_SIZE" default:"16"`

	Download struct {
		MaxAttempts        int           `split_words:"true" default:"5"`
		InitialBackoff     time.Duration `split_words:"true" default:"1m"`
		MaxBackoff         time.Duration `split_words:"true" default:"15m"`
		MaxGlobal          int           `split_words:"true"`
		HTTPTimeout        time.Duration `split_words:"true" default:"30s"`
		FTPTimeout         time.Duration `split_words:"true" default:"30s"`
		InsecureSkipVerify bool          `split_words:"true"`
	}

	Auth struct {
		RefreshMargin    time.Duration `split_words:"true" default:"30s"`
		MaxTokenAttempts int           `split_words:"true" default:"3"`
	}

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"geofetch"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
