package client

import (
	"sync"
)

// MockState is an in-memory test implementation of StateInterface
type MockState struct {
	mu sync.RWMutex

	// In-memory storage
	config     map[string]string
	lastServer string

	// Error injection
	getConfigErr           error
	setConfigErr           error
	setFirstRunCompleteErr error
}

// NewMockState creates a new mock state
func NewMockState() *MockState {
	return &MockState{
		config: make(map[string]string),
	}
}

// GetConfig retrieves a configuration value
func (s *MockState) GetConfig(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getConfigErr != nil {
		return "", s.getConfigErr
	}

	return s.config[key], nil
}

// SetConfig stores a configuration value
func (s *MockState) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setConfigErr != nil {
		return s.setConfigErr
	}

	s.config[key] = value
	return nil
}

// GetLastNickname returns the last used nickname
func (s *MockState) GetLastNickname() string {
	nickname, _ := s.GetConfig(configLastNickname)
	return nickname
}

// SetLastNickname stores the last used nickname
func (s *MockState) SetLastNickname(nickname string) error {
	return s.SetConfig(configLastNickname, nickname)
}

// GetAvatarURL returns the cached avatar
func (s *MockState) GetAvatarURL() string {
	url, _ := s.GetConfig(configAvatarURL)
	return url
}

// SetAvatarURL caches the avatar
func (s *MockState) SetAvatarURL(url string) error {
	return s.SetConfig(configAvatarURL, url)
}

// ClearAvatarURL forgets the cached avatar
func (s *MockState) ClearAvatarURL() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setConfigErr != nil {
		return s.setConfigErr
	}
	delete(s.config, configAvatarURL)
	return nil
}

// GetFirstRun checks if this is the first time running the client
func (s *MockState) GetFirstRun() bool {
	val, _ := s.GetConfig(configFirstRun)
	return val != "true"
}

// SetFirstRunComplete marks first run as complete
func (s *MockState) SetFirstRunComplete() error {
	if s.setFirstRunCompleteErr != nil {
		return s.setFirstRunCompleteErr
	}
	return s.SetConfig(configFirstRun, "true")
}

// GetLastServer returns the last saved server (mock)
func (s *MockState) GetLastServer() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastServer, nil
}

// SaveSuccessfulConnection records the server (mock)
func (s *MockState) SaveSuccessfulConnection(serverAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastServer = serverAddress
	return nil
}

// Close closes the mock state (no-op for in-memory)
func (s *MockState) Close() error {
	return nil
}

// Test helpers

// SetGetConfigError sets an error to return from GetConfig()
func (s *MockState) SetGetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getConfigErr = err
}

// SetSetConfigError sets an error to return from SetConfig()
func (s *MockState) SetSetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfigErr = err
}

// SetFirstRun sets the first run state
func (s *MockState) SetFirstRun(firstRun bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if firstRun {
		delete(s.config, configFirstRun)
	} else {
		s.config[configFirstRun] = "true"
	}
}

// GetAllConfig returns all config (for testing)
func (s *MockState) GetAllConfig() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]string)
	for k, v := range s.config {
		result[k] = v
	}
	return result
}

// Verify that the implementations satisfy their interfaces
var (
	_ StateInterface      = (*MockState)(nil)
	_ StateInterface      = (*State)(nil)
	_ ConnectionInterface = (*MockConnection)(nil)
	_ ConnectionInterface = (*Connection)(nil)
)
