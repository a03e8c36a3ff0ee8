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
	TelegramToken string `envconfig:"TELEGRAM_TOKEN" required:"true"`

	QbtHost     string `envconfig:"QBT_HOST" required:"true"`
	QbtUsername string `envconfig:"QBT_USERNAME" required:"true"`
	QbtPassword string `envconfig:"QBT_PASSWORD" required:"true"`

	// Default submission options, overridable per message.
	QbtCategory string `envconfig:"QBT_CATEGORY"`
	QbtSavePath string `envconfig:"QBT_SAVE_PATH"`
	QbtTags     string `envconfig:"QBT_TAGS"`
	QbtPaused   string `envconfig:"QBT_PAUSED"`

	// AllowedUserIDs restricts who may talk to the bot; empty means anyone.
	AllowedUserIDs []int64 `envconfig:"ALLOWED_USER_IDS"`

	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	HTTPTimeout  time.Duration `envconfig:"HTTP_TIMEOUT" default:"20s"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"INFO"`

	Telemetry struct {
		Enabled bool `split_words:"true" default:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
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
