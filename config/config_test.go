package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "data/aegis.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 10, cfg.Playbooks.MaxConcurrentExecutions)
	assert.Equal(t, 5*time.Minute, cfg.Playbooks.DefaultStepTimeout)
	assert.True(t, cfg.Playbooks.AutoExecuteEnabled)
	assert.Equal(t, uint32(5), cfg.Notifications.BreakerMaxFailures)
	assert.Equal(t, 587, cfg.Notifications.Email.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9191
storage:
  sqlite_path: ""
playbooks:
  max_concurrent_executions: 3
  auto_execute_enabled: false
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Empty(t, cfg.Storage.SQLitePath)
	assert.Equal(t, 3, cfg.Playbooks.MaxConcurrentExecutions)
	assert.False(t, cfg.Playbooks.AutoExecuteEnabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep their defaults
	assert.Equal(t, 5*time.Minute, cfg.Playbooks.DefaultStepTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AEGIS_SERVER_PORT", "7070")
	t.Setenv("AEGIS_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"zero concurrency", func(c *Config) { c.Playbooks.MaxConcurrentExecutions = 0 }},
		{"zero step timeout", func(c *Config) { c.Playbooks.DefaultStepTimeout = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
