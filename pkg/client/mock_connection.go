package client

import (
	"fmt"
	"sync"

	"github.com/aeolun/hsschat/pkg/protocol"
)

// MockConnection is a test implementation of ConnectionInterface
type MockConnection struct {
	mu sync.RWMutex

	// State
	connected  bool
	closed     bool
	address    string
	httpBase   string
	connectErr error
	sendErr    error

	// Channels for communication
	incoming    chan protocol.ServerEvent
	errors      chan error
	stateChange chan ConnectionStateUpdate

	// Sent commands for verification
	Sent []protocol.ClientCommand
}

// NewMockConnection creates a new mock connection
func NewMockConnection(address string) *MockConnection {
	return &MockConnection{
		address:     address,
		httpBase:    "http://" + address,
		incoming:    make(chan protocol.ServerEvent, 100),
		errors:      make(chan error, 10),
		stateChange: make(chan ConnectionStateUpdate, 10),
		Sent:        make([]protocol.ClientCommand, 0),
	}
}

// Connect simulates connecting to the server
func (m *MockConnection) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connectErr != nil {
		return m.connectErr
	}

	m.connected = true
	return nil
}

// Open simulates connecting and queuing a join
func (m *MockConnection) Open(nickname string) error {
	if err := m.Connect(); err != nil {
		return err
	}
	return m.Send(&protocol.JoinCommand{User: nickname})
}

// Disconnect simulates disconnecting from the server
func (m *MockConnection) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// Close closes the mock connection
func (m *MockConnection) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.connected = false
	close(m.incoming)
	close(m.errors)
	close(m.stateChange)
}

// IsConnected returns the connection status
func (m *MockConnection) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// GetAddress returns the mock address
func (m *MockConnection) GetAddress() string {
	return m.address
}

// GetHTTPBase returns the mock http origin
func (m *MockConnection) GetHTTPBase() string {
	return m.httpBase
}

// Send records the command for verification
func (m *MockConnection) Send(cmd protocol.ClientCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}

	m.Sent = append(m.Sent, cmd)
	return nil
}

// Incoming returns the incoming event channel
func (m *MockConnection) Incoming() <-chan protocol.ServerEvent {
	return m.incoming
}

// Errors returns the error channel
func (m *MockConnection) Errors() <-chan error {
	return m.errors
}

// StateChanges returns the state change channel
func (m *MockConnection) StateChanges() <-chan ConnectionStateUpdate {
	return m.stateChange
}

// GetBytesSent returns 0 for mock
func (m *MockConnection) GetBytesSent() uint64 {
	return 0
}

// GetBytesReceived returns 0 for mock
func (m *MockConnection) GetBytesReceived() uint64 {
	return 0
}

// Test helpers

// SetConnectError sets an error to return from Connect()
func (m *MockConnection) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// SetSendError sets an error to return from Send()
func (m *MockConnection) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SimulateEvent delivers an event on the incoming channel
func (m *MockConnection) SimulateEvent(ev protocol.ServerEvent) {
	m.incoming <- ev
}

// SimulateError sends an error to the errors channel
func (m *MockConnection) SimulateError(err error) {
	m.errors <- err
}

// SimulateStateChange sends a state change to the stateChange channel
func (m *MockConnection) SimulateStateChange(state ConnectionStateUpdate) {
	m.stateChange <- state
}

// GetSentCount returns the number of commands sent
func (m *MockConnection) GetSentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Sent)
}

// GetLastSent returns the last command sent, or error if none
func (m *MockConnection) GetLastSent() (protocol.ClientCommand, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.Sent) == 0 {
		return nil, fmt.Errorf("no commands sent")
	}

	return m.Sent[len(m.Sent)-1], nil
}

// ClearSent clears the sent command list
func (m *MockConnection) ClearSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = make([]protocol.ClientCommand, 0)
}
