package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig   `toml:"server"`   // HTTP server settings
	Hub      HubConfig      `toml:"hub"`      // Websocket hub settings
	Storage  StorageConfig  `toml:"storage"`  // Data persistence settings
	Notifier NotifierConfig `toml:"notifier"` // Push notification settings
	Surface  SurfaceConfig  `toml:"surface"`  // Control-surface client settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // HTTP port for the gateway
	Host             string `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, required for websockets)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	PublicURL        string `toml:"public_url"`            // Externally reachable base URL (e.g., https://afk.example.com), used for the pairing QR and notification click-through
	ShowQR           bool   `toml:"show_qr"`               // Print a pairing QR code for the public URL at startup
}

// HubConfig contains websocket hub configuration
type HubConfig struct {
	KeepaliveSeconds int `toml:"keepalive_seconds"` // Idle ping interval on hook and surface connections
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"` // Path to the SQLite database file
}

// NotifierConfig contains push notification configuration (ntfy)
type NotifierConfig struct {
	Enabled        bool   `toml:"enabled"`         // Enable or disable push notifications
	ServerURL      string `toml:"server_url"`      // ntfy server URL (e.g., https://ntfy.sh)
	Topic          string `toml:"topic"`           // ntfy topic to publish to
	ClickURL       string `toml:"click_url"`       // URL opened when the notification is tapped (defaults to server public_url)
	TimeoutSeconds int    `toml:"timeout_seconds"` // HTTP timeout for push requests in seconds
}

// SurfaceConfig contains control-surface client configuration. These are the
// defaults a client built from this config starts with; each client instance
// can still be tuned independently.
type SurfaceConfig struct {
	URL                   string  `toml:"url"`                       // Control-surface websocket endpoint (ws:// or wss://)
	KeepaliveSeconds      int     `toml:"keepalive_seconds"`         // Ping interval while connected
	ReconnectInitialMs    int     `toml:"reconnect_initial_ms"`      // First reconnect delay in milliseconds
	ReconnectMaxMs        int     `toml:"reconnect_max_ms"`          // Reconnect delay cap in milliseconds
	ReconnectMultiplier   float64 `toml:"reconnect_multiplier"`      // Backoff growth factor per attempt
	ReconnectJitter       float64 `toml:"reconnect_jitter"`          // Jitter fraction applied to each delay (0-1)
	RespondUnlockMs       int     `toml:"respond_unlock_ms"`         // How long the respond lock holds, in milliseconds
	ActionTimeoutSeconds  int     `toml:"action_timeout_seconds"`    // Optimistic action confirmation timeout
	HandshakeTimeoutSecs  int     `toml:"handshake_timeout_seconds"` // Websocket dial timeout
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// Load reads and decodes the configuration file at the given path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	var lastErr error
	for _, path := range searchPaths {
		if path == "" {
			continue
		}
		cfg, err := Load(path)
		if err == nil {
			return cfg, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("no usable config file found: %w", lastErr)
}

// Validate checks the configuration and fills in defaults
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}

	// Validate hub config
	if c.Hub.KeepaliveSeconds == 0 {
		c.Hub.KeepaliveSeconds = 30
	}
	if c.Hub.KeepaliveSeconds < 0 {
		return fmt.Errorf("invalid hub keepalive_seconds: %d", c.Hub.KeepaliveSeconds)
	}

	// Validate storage config
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "afk.db"
	}

	// Validate notifier config
	if c.Notifier.Enabled {
		if c.Notifier.ServerURL == "" {
			c.Notifier.ServerURL = "https://ntfy.sh"
		}
		if c.Notifier.Topic == "" {
			return fmt.Errorf("notifier topic is required when notifier is enabled")
		}
		if c.Notifier.ClickURL == "" {
			c.Notifier.ClickURL = c.Server.PublicURL
		}
	}
	if c.Notifier.TimeoutSeconds == 0 {
		c.Notifier.TimeoutSeconds = 10
	}
	if c.Notifier.TimeoutSeconds < 0 {
		return fmt.Errorf("invalid notifier timeout_seconds: %d", c.Notifier.TimeoutSeconds)
	}

	// Validate surface client defaults
	if c.Surface.KeepaliveSeconds < 0 {
		return fmt.Errorf("invalid surface keepalive_seconds: %d", c.Surface.KeepaliveSeconds)
	}
	if c.Surface.ReconnectMultiplier != 0 && c.Surface.ReconnectMultiplier < 1 {
		return fmt.Errorf("invalid surface reconnect_multiplier: %f (must be >= 1)", c.Surface.ReconnectMultiplier)
	}
	if c.Surface.ReconnectJitter < 0 || c.Surface.ReconnectJitter >= 1 {
		return fmt.Errorf("invalid surface reconnect_jitter: %f (must be in [0, 1))", c.Surface.ReconnectJitter)
	}
	if c.Surface.ReconnectInitialMs < 0 || c.Surface.ReconnectMaxMs < 0 {
		return fmt.Errorf("invalid surface reconnect delays: initial=%d max=%d", c.Surface.ReconnectInitialMs, c.Surface.ReconnectMaxMs)
	}

	// Validate logging config
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	return nil
}
