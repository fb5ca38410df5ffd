package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the client config file
type Config struct {
	Client ClientSection `toml:"client"`
}

type ClientSection struct {
	ServerURL      string `toml:"server_url"`
	Nickname       string `toml:"nickname"`
	StatePath      string `toml:"state_path"`
	LogPath        string `toml:"log_path"`
	LogLevel       string `toml:"log_level"`
	Notifications  bool   `toml:"notifications"`
	MetricsAddr    string `toml:"metrics_addr"`
	MaxAvatarBytes int64  `toml:"max_avatar_bytes"`
}

// DefaultConfig returns the default client configuration
func DefaultConfig() Config {
	return Config{
		Client: ClientSection{
			ServerURL:      "",
			StatePath:      "~/.hsschat/state.db",
			LogPath:        "~/.hsschat/client.log",
			LogLevel:       "info",
			Notifications:  true,
			MaxAvatarBytes: 2 << 20,
		},
	}
}

// LoadConfig loads the client config, writing defaults if the file does not
// exist, and applies HSSCHAT_CLIENT_* environment overrides.
func LoadConfig(path string) (Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return Config{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultConfig()
		// Unwritable config dirs are not fatal; run with defaults
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	config := DefaultConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: HSSCHAT_SECTION_KEY
// Example: HSSCHAT_CLIENT_SERVER_URL=ws://chat.example.com/ws
func applyEnvOverrides(config Config) Config {
	if val := os.Getenv("HSSCHAT_CLIENT_SERVER_URL"); val != "" {
		config.Client.ServerURL = val
	}
	if val := os.Getenv("HSSCHAT_CLIENT_NICKNAME"); val != "" {
		config.Client.Nickname = val
	}
	if val := os.Getenv("HSSCHAT_CLIENT_STATE_PATH"); val != "" {
		config.Client.StatePath = val
	}
	if val := os.Getenv("HSSCHAT_CLIENT_LOG_PATH"); val != "" {
		config.Client.LogPath = val
	}
	if val := os.Getenv("HSSCHAT_CLIENT_LOG_LEVEL"); val != "" {
		config.Client.LogLevel = val
	}
	if val := os.Getenv("HSSCHAT_CLIENT_NOTIFICATIONS"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Client.Notifications = enabled
		}
	}
	if val := os.Getenv("HSSCHAT_CLIENT_METRICS_ADDR"); val != "" {
		config.Client.MetricsAddr = val
	}
	if val := os.Getenv("HSSCHAT_CLIENT_MAX_AVATAR_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
			config.Client.MaxAvatarBytes = n
		}
	}
	return config
}

// writeDefaultConfig writes the default config with all options documented
func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# hsschat client configuration
# This file was auto-generated with default values
#
# Environment variables can override these settings:
# HSSCHAT_SECTION_KEY (e.g., HSSCHAT_CLIENT_SERVER_URL=ws://chat.example.com/ws)

[client]
# Server to connect to: ws://, wss://, http://, https:// or host:port
# Leave empty to reuse the last server that accepted a connection
# server_url = "localhost:8000"

# Nickname sent on join (falls back to the last confirmed nickname, then "Guest")
# nickname = "alice"

# SQLite file holding the last nickname, cached avatar and server history
state_path = "~/.hsschat/state.db"

# Log file (the terminal belongs to the chat view)
log_path = "~/.hsschat/client.log"

# trace, debug, info, warn, error
log_level = "info"

# Desktop notifications for private messages in inactive channels
notifications = true

# Serve Prometheus metrics on this address (empty = disabled)
# metrics_addr = "127.0.0.1:9091"

# Largest avatar file accepted for upload, in bytes
max_avatar_bytes = 2097152
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~/ to the home directory
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}

// ResolveNickname picks the join nickname: explicit flag, then config, then the
// last confirmed nickname, then "Guest".
func ResolveNickname(flag, configured, persisted string) string {
	for _, n := range []string{flag, configured, persisted} {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	return "Guest"
}
