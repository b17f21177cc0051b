package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"telemetry-platform/internal/models"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxUploadBytes int64
}

// PipelineConfig holds the pipeline defaults applied when a request
// does not override them.
type PipelineConfig struct {
	DefaultTimezone        string
	DefaultSmoothingWindow int
	CacheEntries           int
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string
}

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig
	Pipeline PipelineConfig
	Logging  LoggingConfig
}

// LoadConfig reads configuration from an optional telemetry.yaml in
// the working directory and from TELEMETRY_* environment variables,
// with sensible defaults for everything.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.max_upload_bytes", 32<<20)
	v.SetDefault("pipeline.default_timezone", "Asia/Tokyo")
	v.SetDefault("pipeline.default_smoothing_window", 1)
	v.SetDefault("pipeline.cache_entries", 64)
	v.SetDefault("logging.level", "info")

	v.SetConfigName("telemetry")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TELEMETRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
			IdleTimeout:    v.GetDuration("server.idle_timeout"),
			MaxUploadBytes: v.GetInt64("server.max_upload_bytes"),
		},
		Pipeline: PipelineConfig{
			DefaultTimezone:        v.GetString("pipeline.default_timezone"),
			DefaultSmoothingWindow: v.GetInt("pipeline.default_smoothing_window"),
			CacheEntries:           v.GetInt("pipeline.cache_entries"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("logging.level"),
		},
	}, nil
}

// Validate checks configuration invariants before startup.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid max upload bytes: %d", c.Server.MaxUploadBytes)
	}
	if c.Pipeline.CacheEntries < 0 {
		return fmt.Errorf("invalid cache entries: %d", c.Pipeline.CacheEntries)
	}

	opts := models.DeriveOptions{
		Timezone:        c.Pipeline.DefaultTimezone,
		SmoothingWindow: c.Pipeline.DefaultSmoothingWindow,
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline defaults: %w", err)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}
	return nil
}
