package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/aeolun/hsschat/pkg/protocol"
	"github.com/google/uuid"
)

// Session represents an active client connection
type Session struct {
	ID          string    // Server-assigned user id
	Conn        *SafeConn // Websocket connection with write synchronization
	RemoteAddr  string
	ConnectedAt time.Time

	mu       sync.RWMutex // Protects nickname and avatar
	nickname string       // Empty until the client joins
	avatar   string
}

// Nickname returns the current display name
func (s *Session) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nickname
}

// Avatar returns the avatar URL, or "" when none is set
func (s *Session) Avatar() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.avatar
}

// Joined reports whether the client has picked a name yet
func (s *Session) Joined() bool {
	return s.Nickname() != ""
}

// Send writes a message to this session only
func (s *Session) Send(msg protocol.ProtocolMessage) error {
	return s.Conn.Send(msg)
}

// SessionManager manages all active sessions
type SessionManager struct {
	sessions map[string]*Session
	order    []string // join order, drives roster order
	mu       sync.RWMutex
	metrics  *Metrics
}

// NewSessionManager creates a new session manager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// SetMetrics attaches metrics to the session manager
func (sm *SessionManager) SetMetrics(metrics *Metrics) {
	sm.metrics = metrics
}

// CreateSession registers a new connection under a fresh id
func (sm *SessionManager) CreateSession(conn *SafeConn) *Session {
	sess := &Session{
		ID:          uuid.NewString(),
		Conn:        conn,
		ConnectedAt: time.Now(),
	}
	if conn != nil {
		sess.RemoteAddr = conn.RemoteAddr()
	}

	sm.mu.Lock()
	sm.sessions[sess.ID] = sess
	sm.order = append(sm.order, sess.ID)
	count := len(sm.sessions)
	sm.mu.Unlock()

	sm.metrics.SetSessions(count)
	return sess
}

// GetSession returns a session by id
func (sm *SessionManager) GetSession(id string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess, ok := sm.sessions[id]
	return sess, ok
}

// RemoveSession drops a session. The second result is false when it was
// already gone.
func (sm *SessionManager) RemoveSession(id string) (*Session, bool) {
	sm.mu.Lock()
	sess, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
		for i, oid := range sm.order {
			if oid == id {
				sm.order = append(sm.order[:i], sm.order[i+1:]...)
				break
			}
		}
	}
	count := len(sm.sessions)
	sm.mu.Unlock()

	if ok {
		sm.metrics.SetSessions(count)
	}
	return sess, ok
}

// AssignNickname gives sess the name base, or base#2, base#3... when another
// joined session already uses it. base must already be sanitized and cut.
func (sm *SessionManager) AssignNickname(sess *Session, base string) string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	taken := make(map[string]bool, len(sm.sessions))
	for id, other := range sm.sessions {
		if id != sess.ID {
			taken[other.Nickname()] = true
		}
	}

	name := base
	for i := 2; taken[name]; i++ {
		name = fmt.Sprintf("%s#%d", base, i)
	}

	sess.mu.Lock()
	sess.nickname = name
	sess.mu.Unlock()
	return name
}

// SetAvatar records the avatar URL for a session ("" removes it)
func (sm *SessionManager) SetAvatar(id, url string) bool {
	sess, ok := sm.GetSession(id)
	if !ok {
		return false
	}
	sess.mu.Lock()
	sess.avatar = url
	sess.mu.Unlock()
	return true
}

// JoinedSessions returns sessions that have a name, in join order
func (sm *SessionManager) JoinedSessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]*Session, 0, len(sm.order))
	for _, id := range sm.order {
		if sess := sm.sessions[id]; sess.Joined() {
			out = append(out, sess)
		}
	}
	return out
}

// Roster builds the user_list payload
func (sm *SessionManager) Roster() []protocol.UserEntry {
	joined := sm.JoinedSessions()
	users := make([]protocol.UserEntry, 0, len(joined))
	for _, sess := range joined {
		users = append(users, protocol.UserEntry{
			ID:     protocol.ID(sess.ID),
			User:   sess.Nickname(),
			Avatar: sess.Avatar(),
		})
	}
	return users
}

// CountOnline returns the number of connected sessions
func (sm *SessionManager) CountOnline() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns every session, joined or not
func (sm *SessionManager) All() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]*Session, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		out = append(out, sess)
	}
	return out
}
