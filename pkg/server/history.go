package server

import (
	"sync"

	"github.com/aeolun/hsschat/pkg/protocol"
)

// History keeps the most recent messages per channel in memory. Channels are
// "all" and one per pair of users (see DMKey).
type History struct {
	mu    sync.RWMutex
	limit int
	logs  map[string][]protocol.MessageEvent
}

// NewHistory creates a store keeping at most limit messages per channel
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 200
	}
	return &History{
		limit: limit,
		logs:  map[string][]protocol.MessageEvent{protocol.ChannelAll: {}},
	}
}

// Append stores msg, dropping the oldest entries past the limit
func (h *History) Append(key string, msg protocol.MessageEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	log := append(h.logs[key], msg)
	if over := len(log) - h.limit; over > 0 {
		log = append([]protocol.MessageEvent(nil), log[over:]...)
	}
	h.logs[key] = log
}

// Get returns a copy of a channel's log, never nil
func (h *History) Get(key string) []protocol.MessageEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]protocol.MessageEvent{}, h.logs[key]...)
}

// DMKey names the private log shared by two user ids, independent of order
func DMKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + "|" + b
}
