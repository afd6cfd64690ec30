// Package config handles configuration file loading and parsing.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Default configuration values.
const (
	DefaultAppName       = "deskbridge"
	DefaultQueryTimeout  = 1000 * time.Millisecond
	DefaultThemePoll     = 500 * time.Millisecond
	DefaultNotifyPoll    = 100 * time.Millisecond
	DefaultExpireTimeout = -1 // server default
	DefaultMaxImageSize  = 256
)

// Config is the configuration for deskbridge.
// Loaded from ~/.config/deskbridge/config.toml
type Config struct {
	Bus           BusConfig          `toml:"bus"`
	Theme         ThemeConfig        `toml:"theme"`
	Notifications NotificationConfig `toml:"notifications"`
	Announce      AnnounceConfig     `toml:"announce"`
	Log           LogConfig          `toml:"log"`
}

// BusConfig contains session bus settings.
type BusConfig struct {
	QueryTimeout Duration `toml:"query_timeout"` // Bound on a single method call
}

// ThemeConfig contains theme watcher settings.
type ThemeConfig struct {
	PollInterval Duration `toml:"poll_interval"` // Bounded wait per subscription poll
	Debounce     Duration `toml:"debounce"`      // Drop repeated values inside this window, 0 = off
}

// NotificationConfig contains notification defaults.
type NotificationConfig struct {
	AppName       string   `toml:"app_name"`
	DesktopEntry  string   `toml:"desktop_entry"`
	ExpireTimeout int      `toml:"expire_timeout"` // Milliseconds, -1 = server default, 0 = never
	Urgency       string   `toml:"urgency"`        // "low", "normal", "critical"
	MaxImageSize  int      `toml:"max_image_size"` // Longest edge in pixels for image-data
	PollInterval  Duration `toml:"poll_interval"`  // Event loop poll tick
}

// AnnounceConfig controls desktop notifications about theme changes.
type AnnounceConfig struct {
	Enabled     bool     `toml:"enabled"`
	MinInterval Duration `toml:"min_interval"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level"` // "debug", "info", "warn", "error"
}

// Urgency represents a freedesktop urgency level name.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyCritical Urgency = "critical"
)

// ValidUrgencies returns all valid urgency values.
func ValidUrgencies() []Urgency {
	return []Urgency{UrgencyLow, UrgencyNormal, UrgencyCritical}
}

// Level returns the wire value of the urgency hint.
func (u Urgency) Level() byte {
	switch u {
	case UrgencyLow:
		return 0
	case UrgencyCritical:
		return 2
	default:
		return 1
	}
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// DefaultConfig returns a new Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			QueryTimeout: Duration(DefaultQueryTimeout),
		},
		Theme: ThemeConfig{
			PollInterval: Duration(DefaultThemePoll),
			Debounce:     Duration(0),
		},
		Notifications: NotificationConfig{
			AppName:       DefaultAppName,
			DesktopEntry:  DefaultAppName,
			ExpireTimeout: DefaultExpireTimeout,
			Urgency:       string(UrgencyNormal),
			MaxImageSize:  DefaultMaxImageSize,
			PollInterval:  Duration(DefaultNotifyPoll),
		},
		Announce: AnnounceConfig{
			Enabled:     false,
			MinInterval: Duration(5 * time.Second),
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// ConfigPath returns the path to the config file.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config.
func ConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "deskbridge", "config.toml")
}

// Load loads configuration from the specified path.
// If path is empty, uses the default config path.
// Returns the default config if the file doesn't exist.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then overlay with file contents
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the specified path.
// Creates parent directories if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if qt := c.Bus.QueryTimeout.Duration(); qt <= 0 || qt > 30*time.Second {
		return fmt.Errorf("bus.query_timeout must be between 1ms and 30s, got %s", qt)
	}

	if pi := c.Theme.PollInterval.Duration(); pi < 10*time.Millisecond || pi > 5*time.Second {
		return fmt.Errorf("theme.poll_interval must be between 10ms and 5s, got %s", pi)
	}
	if c.Theme.Debounce < 0 {
		return fmt.Errorf("theme.debounce must not be negative, got %s", c.Theme.Debounce.Duration())
	}

	n := c.Notifications
	if n.AppName == "" {
		return errors.New("notifications.app_name cannot be empty")
	}
	if n.ExpireTimeout < -1 {
		return fmt.Errorf("notifications.expire_timeout must be -1 or greater, got %d", n.ExpireTimeout)
	}
	if !slices.Contains(ValidUrgencies(), Urgency(n.Urgency)) {
		return fmt.Errorf("invalid urgency %q, must be one of: %v", n.Urgency, ValidUrgencies())
	}
	if n.MaxImageSize < 16 || n.MaxImageSize > 1024 {
		return fmt.Errorf("notifications.max_image_size must be between 16 and 1024, got %d", n.MaxImageSize)
	}
	if pi := n.PollInterval.Duration(); pi < 10*time.Millisecond || pi > 5*time.Second {
		return fmt.Errorf("notifications.poll_interval must be between 10ms and 5s, got %s", pi)
	}

	if c.Announce.MinInterval < 0 {
		return fmt.Errorf("announce.min_interval must not be negative, got %s", c.Announce.MinInterval.Duration())
	}

	if !slices.Contains(validLogLevels, c.Log.Level) {
		return fmt.Errorf("invalid log level %q, must be one of: %v", c.Log.Level, validLogLevels)
	}

	return nil
}

// SlogLevel maps the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
