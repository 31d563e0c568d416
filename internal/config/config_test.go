package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9000
host = "127.0.0.1"
public_url = "https://afk.example.com"
show_qr = true

[hub]
keepalive_seconds = 15

[storage]
sqlite_path = "/tmp/afk-test.db"

[notifier]
enabled = true
server_url = "https://ntfy.example.com"
topic = "afk-alerts"

[surface]
url = "wss://afk.example.com/ws/ui"
reconnect_initial_ms = 1000
reconnect_max_ms = 30000
reconnect_multiplier = 2.0
reconnect_jitter = 0.1

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.True(t, cfg.Server.ShowQR)
	require.Equal(t, 15, cfg.Hub.KeepaliveSeconds)
	require.Equal(t, "/tmp/afk-test.db", cfg.Storage.SQLitePath)
	require.True(t, cfg.Notifier.Enabled)
	require.Equal(t, "afk-alerts", cfg.Notifier.Topic)
	require.Equal(t, "wss://afk.example.com/ws/ui", cfg.Surface.URL)
	require.Equal(t, 0.1, cfg.Surface.ReconnectJitter)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestLoadWithFallbackPrefersExplicitPath(t *testing.T) {
	path := writeConfig(t, `[server]`+"\n"+`port = 9000`)

	cfg, err := LoadWithFallback(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Server.Port)
}

func TestValidateDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, 30, cfg.Hub.KeepaliveSeconds)
	require.Equal(t, "afk.db", cfg.Storage.SQLitePath)
	require.Equal(t, 10, cfg.Notifier.TimeoutSeconds)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "console", cfg.Logging.Format)
}

func TestValidateNotifierDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Notifier.Enabled = true
	cfg.Notifier.Topic = "afk-alerts"
	cfg.Server.PublicURL = "https://afk.example.com"

	require.NoError(t, cfg.Validate())
	require.Equal(t, "https://ntfy.sh", cfg.Notifier.ServerURL)
	require.Equal(t, "https://afk.example.com", cfg.Notifier.ClickURL, "click-through falls back to the public URL")
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"notifier enabled without topic", func(c *Config) { c.Notifier.Enabled = true }},
		{"multiplier below one", func(c *Config) { c.Surface.ReconnectMultiplier = 0.5 }},
		{"jitter out of range", func(c *Config) { c.Surface.ReconnectJitter = 1.5 }},
		{"negative reconnect delay", func(c *Config) { c.Surface.ReconnectInitialMs = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
