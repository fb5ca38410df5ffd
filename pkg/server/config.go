package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	HTTPAddr       string `toml:"http_addr"`
	AvatarDir      string `toml:"avatar_dir"`
	MetricsEnabled bool   `toml:"metrics_enabled"`
	LogLevel       string `toml:"log_level"`
}

type LimitsSection struct {
	MaxNameLength     int   `toml:"max_name_length"`
	HistoryPerChannel int   `toml:"history_per_channel"`
	MaxMessageLength  int   `toml:"max_message_length"`
	MaxAvatarBytes    int64 `toml:"max_avatar_bytes"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			HTTPAddr:       ":8000",
			AvatarDir:      "~/.hsschat/avatars",
			MetricsEnabled: true,
			LogLevel:       "info",
		},
		Limits: LimitsSection{
			MaxNameLength:     32,
			HistoryPerChannel: 200,
			MaxMessageLength:  4096,
			MaxAvatarBytes:    2 << 20,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// An unwritable location still leaves us with usable defaults
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: HSSCHAT_SECTION_KEY
// Example: HSSCHAT_SERVER_HTTP_ADDR=:9000
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("HSSCHAT_SERVER_HTTP_ADDR"); val != "" {
		config.Server.HTTPAddr = val
	}
	if val := os.Getenv("HSSCHAT_SERVER_AVATAR_DIR"); val != "" {
		config.Server.AvatarDir = val
	}
	if val := os.Getenv("HSSCHAT_SERVER_METRICS_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Server.MetricsEnabled = enabled
		}
	}
	if val := os.Getenv("HSSCHAT_SERVER_LOG_LEVEL"); val != "" {
		config.Server.LogLevel = val
	}

	if val := os.Getenv("HSSCHAT_LIMITS_MAX_NAME_LENGTH"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxNameLength = limit
		}
	}
	if val := os.Getenv("HSSCHAT_LIMITS_HISTORY_PER_CHANNEL"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.HistoryPerChannel = limit
		}
	}
	if val := os.Getenv("HSSCHAT_LIMITS_MAX_MESSAGE_LENGTH"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxMessageLength = limit
		}
	}
	if val := os.Getenv("HSSCHAT_LIMITS_MAX_AVATAR_BYTES"); val != "" {
		if limit, err := strconv.ParseInt(val, 10, 64); err == nil {
			config.Limits.MaxAvatarBytes = limit
		}
	}

	return config
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# hsschat server configuration
# This file was auto-generated with default values.
#
# Environment variables can override these settings:
# HSSCHAT_SECTION_KEY (e.g., HSSCHAT_SERVER_HTTP_ADDR=:9000)

[server]
# Listen address for the websocket endpoint (/ws), avatar uploads and /metrics
http_addr = ":8000"

# Directory where uploaded avatars are stored and served from (/avatars/...)
avatar_dir = "~/.hsschat/avatars"

# Expose Prometheus metrics on /metrics
metrics_enabled = true

# debug, info, warn or error
log_level = "info"

[limits]
# Display names are cut to this many characters
max_name_length = 32

# Messages kept per channel (main chat and each private conversation)
history_per_channel = 200

# Longer messages are truncated
max_message_length = 4096

# Largest accepted avatar upload in bytes
max_avatar_bytes = 2097152
`

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig, falling back to
// defaults for zero values
func (c *TOMLConfig) ToServerConfig() (ServerConfig, error) {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Server.HTTPAddr) != "" {
		cfg.HTTPAddr = c.Server.HTTPAddr
	}
	if strings.TrimSpace(c.Server.AvatarDir) != "" {
		dir, err := expandHome(c.Server.AvatarDir)
		if err != nil {
			return ServerConfig{}, err
		}
		cfg.AvatarDir = dir
	}
	cfg.MetricsEnabled = c.Server.MetricsEnabled

	if c.Limits.MaxNameLength > 0 {
		cfg.MaxNameLength = c.Limits.MaxNameLength
	}
	if c.Limits.HistoryPerChannel > 0 {
		cfg.HistoryPerChannel = c.Limits.HistoryPerChannel
	}
	if c.Limits.MaxMessageLength > 0 {
		cfg.MaxMessageLength = c.Limits.MaxMessageLength
	}
	if c.Limits.MaxAvatarBytes > 0 {
		cfg.MaxAvatarBytes = c.Limits.MaxAvatarBytes
	}
	return cfg, nil
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}
