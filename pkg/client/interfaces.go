package client

import (
	"github.com/aeolun/hsschat/pkg/protocol"
)

// ConnectionInterface defines the interface for client connections
// This allows for mocking in tests while the real Connection implements all these methods
type ConnectionInterface interface {
	// Connection management
	Connect() error
	Open(nickname string) error
	Disconnect()
	Close()
	IsConnected() bool
	GetAddress() string
	GetHTTPBase() string

	// Command sending
	Send(cmd protocol.ClientCommand) error

	// Channels for receiving data
	Incoming() <-chan protocol.ServerEvent
	Errors() <-chan error
	StateChanges() <-chan ConnectionStateUpdate

	// Traffic statistics
	GetBytesSent() uint64
	GetBytesReceived() uint64
}

// StateInterface defines the interface for client state persistence
// This allows for mocking in tests while the real State implements all these methods
type StateInterface interface {
	// Configuration
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error

	// Nickname management
	GetLastNickname() string
	SetLastNickname(nickname string) error

	// Own avatar fallback cache
	GetAvatarURL() string
	SetAvatarURL(url string) error
	ClearAvatarURL() error

	// First run tracking
	GetFirstRun() bool
	SetFirstRunComplete() error

	// Connection history
	GetLastServer() (string, error)
	SaveSuccessfulConnection(serverAddress string) error

	// Close the state
	Close() error
}
