package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the collaborator service connection settings.
type ServerConfig struct {
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	TimeoutStr string        `mapstructure:"timeout"` // For parsing string duration
	// StreamBuffer is the frame channel capacity for streaming responses.
	StreamBuffer int `mapstructure:"stream_buffer"`
}

// LayoutConfig holds tree layout spacing.
type LayoutConfig struct {
	HorizontalGap float64 `mapstructure:"horizontal_gap"`
	VerticalGap   float64 `mapstructure:"vertical_gap"`
	GridColumns   int     `mapstructure:"grid_columns"`
}

// ViewportConfig holds framing and zoom bounds.
type ViewportConfig struct {
	MinZoom         float64 `mapstructure:"min_zoom"`
	MaxZoom         float64 `mapstructure:"max_zoom"`
	Margin          float64 `mapstructure:"margin"`
	FollowAncestors int     `mapstructure:"follow_ancestors"`
}

// UnreadConfig holds unread tracking settings.
type UnreadConfig struct {
	// ScrollEpsilon is the max distance-from-bottom that still counts as
	// having the node in the read position.
	ScrollEpsilon float64 `mapstructure:"scroll_epsilon"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile string `mapstructure:"log_file"`
	Persist bool   `mapstructure:"persist"`
	Level   string `mapstructure:"level"`
}

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Layout   LayoutConfig   `mapstructure:"layout"`
	Viewport ViewportConfig `mapstructure:"viewport"`
	Unread   UnreadConfig   `mapstructure:"unread"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Global config instance
var cfg *Config

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// Load loads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			xdgConfigHome = filepath.Join(home, ".config")
		}
		groveCfgHome := filepath.Join(xdgConfigHome, ".grove")

		viper.AddConfigPath("./.grove") // Check project directory first
		viper.AddConfigPath(groveCfgHome)
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.SetEnvPrefix("GROVE")
	viper.AutomaticEnv()
	bindEnvironmentVariables()

	// Missing config file is fine; defaults and env cover everything.
	_ = viper.ReadInConfig()

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := processDurations(cfg); err != nil {
		return nil, fmt.Errorf("failed to process durations: %w", err)
	}

	return cfg, nil
}

// bindEnvironmentVariables maps well-known environment variables to keys
func bindEnvironmentVariables() {
	viper.BindEnv("server.url", "GROVE_SERVER_URL")
	viper.BindEnv("server.timeout", "GROVE_SERVER_TIMEOUT")
	viper.BindEnv("logging.level", "GROVE_LOG_LEVEL")
}

// processDurations converts string durations into time.Duration fields
// (viper doesn't handle time.Duration on unmarshal for string values)
func processDurations(c *Config) error {
	if c.Server.TimeoutStr != "" {
		d, err := time.ParseDuration(c.Server.TimeoutStr)
		if err != nil {
			return fmt.Errorf("invalid server.timeout %q: %w", c.Server.TimeoutStr, err)
		}
		c.Server.Timeout = d
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 60 * time.Second
	}
	return nil
}

// setDefaults sets all default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.url", "http://localhost:8000")
	viper.SetDefault("server.timeout", "60s")
	viper.SetDefault("server.stream_buffer", 100)

	// Layout defaults
	viper.SetDefault("layout.horizontal_gap", 220.0)
	viper.SetDefault("layout.vertical_gap", 120.0)
	viper.SetDefault("layout.grid_columns", 4)

	// Viewport defaults
	viper.SetDefault("viewport.min_zoom", 0.25)
	viper.SetDefault("viewport.max_zoom", 1.5)
	viper.SetDefault("viewport.margin", 64.0)
	viper.SetDefault("viewport.follow_ancestors", 2)

	// Unread defaults
	viper.SetDefault("unread.scroll_epsilon", 4.0)

	// Logging defaults
	viper.SetDefault("logging.log_file", "system.log")
	viper.SetDefault("logging.persist", false)
	viper.SetDefault("logging.level", "info")
}
