package server

import (
	"sync"
	"time"

	"github.com/aeolun/hsschat/pkg/protocol"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// SafeConn wraps a websocket connection with write synchronization. Request
// handlers and broadcasts write to the same connection from different
// goroutines; gorilla allows only one concurrent writer.
type SafeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // Protects writes to conn
}

// NewSafeConn wraps a websocket connection with write synchronization
func NewSafeConn(conn *websocket.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// Send encodes and writes one protocol message.
func (sc *SafeConn) Send(msg protocol.ProtocolMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return sc.WriteBytes(data)
}

// WriteBytes writes a pre-encoded text frame. Broadcasts encode once and
// call this per recipient.
func (sc *SafeConn) WriteBytes(data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_ = sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sc.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage reads the next data frame. Reads don't need write synchronization.
func (sc *SafeConn) ReadMessage() (int, []byte, error) {
	return sc.conn.ReadMessage()
}

// CloseWith sends a close control frame and closes the connection.
func (sc *SafeConn) CloseWith(code int, reason string) error {
	sc.mu.Lock()
	_ = sc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	sc.mu.Unlock()
	return sc.conn.Close()
}

// Close closes the underlying connection
func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}

// RemoteAddr returns the remote network address
func (sc *SafeConn) RemoteAddr() string {
	return sc.conn.RemoteAddr().String()
}
