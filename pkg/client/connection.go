package client

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/hsschat/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnectionStateType represents the connection status
type ConnectionStateType int

const (
	StateTypeConnected ConnectionStateType = iota
	StateTypeDisconnected
)

func (s ConnectionStateType) String() string {
	switch s {
	case StateTypeConnected:
		return "connected"
	case StateTypeDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionStateUpdate represents a connection state change
type ConnectionStateUpdate struct {
	State ConnectionStateType
	Err   error
}

// DisconnectReason indicates why a connection was lost
type DisconnectReason int

const (
	DisconnectUnknown DisconnectReason = iota
	DisconnectError                     // Read/write error
	DisconnectServerDown                // Server closed connection
	DisconnectUserRequested             // User explicitly disconnected
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectError:
		return "error"
	case DisconnectServerDown:
		return "server closed"
	case DisconnectUserRequested:
		return "user requested"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrClosed           = errors.New("connection closed")
	ErrQueueFull        = errors.New("outgoing queue full")
)

const (
	defaultHTTPPort = "8000"
	defaultWSPath   = "/ws"

	handshakeTimeout = 5 * time.Second
	writeTimeout     = 10 * time.Second
	leaveTimeout     = time.Second

	// Frames between MaxFrameSize and this limit surface as decode failures;
	// anything larger tears the link down.
	readLimit = 4 * protocol.MaxFrameSize
)

// Connection is the client's single persistent websocket link. Inbound frames
// are decoded in receipt order onto Incoming(); outbound commands are queued
// and written by one goroutine.
type Connection struct {
	wsURL    string
	httpBase string

	mu        sync.RWMutex
	conn      *websocket.Conn
	connDone  chan struct{} // closed when conn goes down
	connected bool
	closed    bool

	// Serializes writes; gorilla allows one concurrent writer
	writeMu sync.Mutex

	// Channels for communication
	incoming    chan protocol.ServerEvent
	outgoing    chan []byte
	errors      chan error
	stateChange chan ConnectionStateUpdate

	lastDisconnectReason DisconnectReason

	// Traffic counters (payload bytes)
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	dialer *websocket.Dialer
	header http.Header
	logger zerolog.Logger

	// Shutdown
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewConnection creates a connection for addr, which may be a ws://, wss://,
// http:// or https:// URL or a bare host[:port].
func NewConnection(addr string) (*Connection, error) {
	wsURL, httpBase, err := ParseServerAddress(addr)
	if err != nil {
		return nil, err
	}

	return &Connection{
		wsURL:       wsURL,
		httpBase:    httpBase,
		incoming:    make(chan protocol.ServerEvent, 100),
		outgoing:    make(chan []byte, 100),
		errors:      make(chan error, 10),
		stateChange: make(chan ConnectionStateUpdate, 10),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		header:   http.Header{},
		logger:   zerolog.Nop(),
		shutdown: make(chan struct{}),
	}, nil
}

// SetLogger sets a logger for connection events
func (c *Connection) SetLogger(logger zerolog.Logger) {
	c.logger = logger.With().Str("component", "connection").Logger()
}

// Connect dials the server and starts the read and write loops.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	c.logger.Info().Str("url", c.wsURL).Msg("Connecting")

	conn, resp, err := c.dialer.Dial(c.wsURL, c.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket handshake with %s failed (HTTP %d): %w", c.wsURL, resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to %s: %w", c.wsURL, err)
	}
	conn.SetReadLimit(readLimit)

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.connDone = done
	c.connected = true
	c.mu.Unlock()

	c.logger.Info().Str("url", c.wsURL).Msg("Connected")
	c.notifyState(ConnectionStateUpdate{State: StateTypeConnected})

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.writeLoop(conn, done)

	return nil
}

// Open connects and queues the join command for nickname.
func (c *Connection) Open(nickname string) error {
	if err := c.Connect(); err != nil {
		return err
	}
	return c.Send(&protocol.JoinCommand{User: nickname})
}

// Send encodes cmd and queues it without blocking.
func (c *Connection) Send(cmd protocol.ClientCommand) error {
	data, err := cmd.Encode()
	if err != nil {
		return err
	}

	c.mu.RLock()
	connected, closed := c.connected, c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !connected {
		return ErrNotConnected
	}

	select {
	case c.outgoing <- data:
		return nil
	case <-c.shutdown:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Disconnect drops the link without a leave notice.
func (c *Connection) Disconnect() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		c.handleDisconnect(conn, DisconnectUserRequested, nil)
	}
}

// Close sends a best-effort leave frame, tears the link down and closes all
// channels. Errors are swallowed.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn, connected := c.conn, c.connected
	c.mu.Unlock()

	if connected && conn != nil {
		if data, err := (&protocol.LeaveCommand{}).Encode(); err == nil {
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(leaveTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("Leave notice not delivered")
			} else {
				c.bytesSent.Add(uint64(len(data)))
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(leaveTimeout))
			c.writeMu.Unlock()
		}
	}

	close(c.shutdown)
	c.Disconnect()
	c.wg.Wait()

	close(c.incoming)
	close(c.errors)
	close(c.stateChange)
	c.logger.Debug().Msg("Connection fully closed")
}

// Incoming returns decoded server events in receipt order.
func (c *Connection) Incoming() <-chan protocol.ServerEvent {
	return c.incoming
}

// Errors returns transport errors.
func (c *Connection) Errors() <-chan error {
	return c.errors
}

// StateChanges returns connect and disconnect notifications.
func (c *Connection) StateChanges() <-chan ConnectionStateUpdate {
	return c.stateChange
}

// IsConnected returns whether the link is up
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// GetAddress returns the websocket URL
func (c *Connection) GetAddress() string {
	return c.wsURL
}

// GetHTTPBase returns the http(s) origin used for avatar uploads
func (c *Connection) GetHTTPBase() string {
	return c.httpBase
}

// GetBytesSent returns payload bytes written
func (c *Connection) GetBytesSent() uint64 {
	return c.bytesSent.Load()
}

// GetBytesReceived returns payload bytes read
func (c *Connection) GetBytesReceived() uint64 {
	return c.bytesReceived.Load()
}

// LastDisconnectReason returns why the link last went down
func (c *Connection) LastDisconnectReason() DisconnectReason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastDisconnectReason
}

func (c *Connection) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.logger.Info().Msg("Connection closed by server")
				c.handleDisconnect(conn, DisconnectServerDown, nil)
			case c.isShuttingDown():
				c.handleDisconnect(conn, DisconnectUserRequested, nil)
			default:
				c.logger.Warn().Err(err).Msg("Read error")
				c.handleDisconnect(conn, DisconnectError, fmt.Errorf("read error: %w", err))
			}
			return
		}
		c.bytesReceived.Add(uint64(len(data)))

		var ev protocol.ServerEvent
		if msgType != websocket.TextMessage {
			ev = &protocol.DecodeFailure{Raw: data, Err: fmt.Errorf("unexpected websocket message type %d", msgType)}
		} else if decoded, err := protocol.DecodeServerEvent(data); err != nil {
			ev = &protocol.DecodeFailure{Raw: data, Err: err}
		} else {
			ev = decoded
		}

		c.logger.Debug().Str("type", ev.Type()).Int("bytes", len(data)).Msg("← RECV")

		select {
		case c.incoming <- ev:
		case <-c.shutdown:
			return
		}
	}
}

func (c *Connection) writeLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case data := <-c.outgoing:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.TextMessage, data)
			c.writeMu.Unlock()

			if err != nil {
				c.logger.Warn().Err(err).Msg("Write error")
				c.handleDisconnect(conn, DisconnectError, fmt.Errorf("write error: %w", err))
				return
			}
			c.bytesSent.Add(uint64(len(data)))
			c.logger.Debug().Int("bytes", len(data)).Msg("→ SEND")

		case <-done:
			return
		case <-c.shutdown:
			return
		}
	}
}

func (c *Connection) isShuttingDown() bool {
	select {
	case <-c.shutdown:
		return true
	default:
		return false
	}
}

// handleDisconnect marks conn down once and reports it. Calls for a conn that
// is no longer current are ignored. There is no automatic reconnect.
func (c *Connection) handleDisconnect(conn *websocket.Conn, reason DisconnectReason, cause error) {
	c.mu.Lock()
	if c.conn != conn || !c.connected {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.connected = false
	c.lastDisconnectReason = reason
	c.conn = nil
	close(c.connDone)
	c.mu.Unlock()

	conn.Close()

	c.logger.Info().Stringer("reason", reason).Msg("Disconnected from server")

	if reason == DisconnectUserRequested {
		c.notifyState(ConnectionStateUpdate{State: StateTypeDisconnected})
		return
	}

	disconnectErr := errors.New("disconnected from server")
	if cause != nil {
		disconnectErr = fmt.Errorf("disconnected from server: %w", cause)
	}
	select {
	case c.errors <- disconnectErr:
	default:
	}
	c.notifyState(ConnectionStateUpdate{State: StateTypeDisconnected, Err: disconnectErr})
}

func (c *Connection) notifyState(update ConnectionStateUpdate) {
	select {
	case c.stateChange <- update:
	default:
		c.logger.Debug().Stringer("state", update.State).Msg("State change dropped (channel full)")
	}
}

// ParseServerAddress turns a user supplied address into the websocket URL and
// the http(s) origin of the same server.
func ParseServerAddress(raw string) (wsURL, httpBase string, err error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "", errors.New("server address is empty")
	}
	// A bare host means a development server; explicit schemes get their
	// standard port.
	port := defaultHTTPPort
	bare := !strings.Contains(trimmed, "://")
	if bare {
		trimmed = "ws://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", "", fmt.Errorf("invalid server address %q: %w", raw, err)
	}

	var httpScheme string
	switch strings.ToLower(u.Scheme) {
	case "ws", "http":
		u.Scheme, httpScheme = "ws", "http"
		if !bare {
			port = "80"
		}
	case "wss", "https":
		u.Scheme, httpScheme = "wss", "https"
		port = "443"
	default:
		return "", "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}

	host, port, err := splitHostPortWithDefault(u.Host, port)
	if err != nil {
		return "", "", err
	}
	u.Host = net.JoinHostPort(host, port)
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultWSPath
	}

	base := url.URL{Scheme: httpScheme, Host: u.Host}
	return u.String(), base.String(), nil
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}
