package client

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	configLastNickname = "last_nickname"
	configAvatarURL    = "avatar_url"
	configFirstRun     = "first_run_complete"
)

// State manages client-side persistent state
type State struct {
	db *sql.DB
}

// OpenState opens or creates the client state database
func OpenState(path string) (*State, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	db.SetMaxOpenConns(1) // Client only needs one connection
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// GetConfig retrieves a configuration value
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

func (s *State) deleteConfig(key string) error {
	_, err := s.db.Exec("DELETE FROM Config WHERE key = ?", key)
	return err
}

// GetLastNickname returns the last confirmed nickname
func (s *State) GetLastNickname() string {
	nickname, _ := s.GetConfig(configLastNickname)
	return nickname
}

// SetLastNickname stores the last confirmed nickname
func (s *State) SetLastNickname(nickname string) error {
	return s.SetConfig(configLastNickname, nickname)
}

// GetAvatarURL returns the cached own avatar URL, or "" when none is cached
func (s *State) GetAvatarURL() string {
	url, _ := s.GetConfig(configAvatarURL)
	return url
}

// SetAvatarURL caches the own avatar URL
func (s *State) SetAvatarURL(url string) error {
	if url == "" {
		return s.ClearAvatarURL()
	}
	return s.SetConfig(configAvatarURL, url)
}

// ClearAvatarURL forgets the cached own avatar
func (s *State) ClearAvatarURL() error {
	return s.deleteConfig(configAvatarURL)
}

// GetLastServer returns the most recently connected server address
func (s *State) GetLastServer() (string, error) {
	var addr string
	err := s.db.QueryRow(`
		SELECT server_address
		FROM ConnectionHistory
		ORDER BY last_success_at DESC, rowid DESC
		LIMIT 1
	`).Scan(&addr)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil // Never connected
	}
	return addr, err
}

// SaveSuccessfulConnection records a successful connection to a server
func (s *State) SaveSuccessfulConnection(serverAddress string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO ConnectionHistory (server_address, last_success_at)
		VALUES (?, ?)
	`, serverAddress, time.Now().UnixNano())
	return err
}

// GetFirstRun checks if this is the first time running the client
func (s *State) GetFirstRun() bool {
	val, _ := s.GetConfig(configFirstRun)
	return val != "true"
}

// SetFirstRunComplete marks first run as complete
func (s *State) SetFirstRunComplete() error {
	return s.SetConfig(configFirstRun, "true")
}
