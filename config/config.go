// Package config loads service configuration from a YAML file and
// AEGIS_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the service
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Playbooks     PlaybookConfig     `mapstructure:"playbooks"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig configures the durable archive
type StorageConfig struct {
	// SQLitePath is the archive database location. Empty disables
	// persistence; playbooks and history then live in memory only.
	SQLitePath string `mapstructure:"sqlite_path"`
}

// PlaybookConfig tunes the execution engine
type PlaybookConfig struct {
	MaxConcurrentExecutions int           `mapstructure:"max_concurrent_executions"`
	DefaultStepTimeout      time.Duration `mapstructure:"default_step_timeout"`
	AutoExecuteEnabled      bool          `mapstructure:"auto_execute_enabled"`
}

// NotificationConfig configures outbound channels
type NotificationConfig struct {
	Slack     SlackConfig     `mapstructure:"slack"`
	Email     EmailConfig     `mapstructure:"email"`
	PagerDuty PagerDutyConfig `mapstructure:"pagerduty"`

	// Circuit breaker settings shared by all channels
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
}

// SlackConfig configures the Slack webhook channel
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// EmailConfig configures the SMTP channel
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	From     string `mapstructure:"from"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// PagerDutyConfig configures the PagerDuty Events channel
type PagerDutyConfig struct {
	RoutingKey string `mapstructure:"routing_key"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given file path (optional) and the
// environment. Environment variables use the AEGIS_ prefix with
// underscores, e.g. AEGIS_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AEGIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("storage.sqlite_path", "data/aegis.db")

	v.SetDefault("playbooks.max_concurrent_executions", 10)
	v.SetDefault("playbooks.default_step_timeout", 5*time.Minute)
	v.SetDefault("playbooks.auto_execute_enabled", true)

	v.SetDefault("notifications.breaker_max_failures", 5)
	v.SetDefault("notifications.breaker_timeout", 60*time.Second)
	v.SetDefault("notifications.email.port", 587)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Playbooks.MaxConcurrentExecutions < 1 {
		return fmt.Errorf("playbooks.max_concurrent_executions must be at least 1")
	}
	if c.Playbooks.DefaultStepTimeout <= 0 {
		return fmt.Errorf("playbooks.default_step_timeout must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}
