// Package session holds the client-side chat model and the reconciler that
// derives it from the server's event stream.
package session

import (
	"time"

	"github.com/aeolun/hsschat/pkg/protocol"
)

// ChannelKey is ChannelAll or the peer's user id.
type ChannelKey string

// ChannelAll is the public channel.
const ChannelAll ChannelKey = protocol.ChannelAll

// IsPrivate reports whether k names a private conversation.
func (k ChannelKey) IsPrivate() bool {
	return k != ChannelAll && k != ""
}

// Message is one entry of a channel log.
type Message struct {
	AuthorName  string
	AuthorID    string // empty for system notices
	System      bool
	Text        string
	Timestamp   time.Time
	Private     bool
	RecipientID string
}

// RosterEntry is a connected user as last reported by the server.
type RosterEntry struct {
	ID          string
	DisplayName string
	AvatarURL   string

	// Placeholder is set for entries synthesized from a private message before
	// any roster push mentioned the id.
	Placeholder bool
}

// Store is the authoritative client-side model. It is not safe for concurrent
// use: every mutation happens on the reconciler's goroutine.
type Store struct {
	ownID   string
	ownName string
	active  ChannelKey

	roster      map[string]*RosterEntry
	rosterOrder []string
	logs        map[ChannelKey][]Message
	unread      map[ChannelKey]int
	avatars     map[string]string
}

// NewStore creates an empty store with the public channel active.
func NewStore() *Store {
	return &Store{
		active:  ChannelAll,
		roster:  make(map[string]*RosterEntry),
		logs:    map[ChannelKey][]Message{ChannelAll: {}},
		unread:  make(map[ChannelKey]int),
		avatars: make(map[string]string),
	}
}

// AppendMessage appends msg to the log of key.
func (s *Store) AppendMessage(key ChannelKey, msg Message) {
	s.logs[key] = append(s.logs[key], msg)
}

// ReplaceChannelLog replaces the log of key wholesale.
func (s *Store) ReplaceChannelLog(key ChannelKey, messages []Message) {
	log := make([]Message, len(messages))
	copy(log, messages)
	s.logs[key] = log
}

// UpsertRoster replaces the roster with entries. Unread counters and the active
// channel are left alone, including for ids that disappear.
func (s *Store) UpsertRoster(entries []RosterEntry) {
	roster := make(map[string]*RosterEntry, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		if _, dup := roster[e.ID]; !dup {
			order = append(order, e.ID)
		}
		entry := e
		entry.Placeholder = false
		roster[e.ID] = &entry
	}
	s.roster = roster
	s.rosterOrder = order
}

// EnsureEntry adds a placeholder roster entry for id unless one exists.
// It reports whether an entry was created.
func (s *Store) EnsureEntry(id, name string) bool {
	if _, ok := s.roster[id]; ok {
		return false
	}
	if name == "" {
		name = id
	}
	s.roster[id] = &RosterEntry{ID: id, DisplayName: name, Placeholder: true}
	s.rosterOrder = append(s.rosterOrder, id)
	return true
}

// SetOwnIdentity records the server-confirmed id and display name.
func (s *Store) SetOwnIdentity(id, name string) {
	s.ownID = id
	s.ownName = name
}

// SetOwnName changes the display name only.
func (s *Store) SetOwnName(name string) {
	s.ownName = name
}

// SetActiveChannel switches the active channel and clears its unread counter.
// This is the only way a counter returns to zero.
func (s *Store) SetActiveChannel(key ChannelKey) {
	if key == "" {
		key = ChannelAll
	}
	s.active = key
	delete(s.unread, key)
}

// IncrementUnread bumps the counter of a private channel that is not active.
func (s *Store) IncrementUnread(key ChannelKey) {
	if key == s.active || !key.IsPrivate() {
		return
	}
	s.unread[key]++
}

// setAvatar is reserved for AvatarPolicy.
func (s *Store) setAvatar(id, url string) {
	s.avatars[id] = url
}

// OwnID returns the confirmed id, or "" before identity confirmation.
func (s *Store) OwnID() string { return s.ownID }

// OwnName returns the current display name.
func (s *Store) OwnName() string { return s.ownName }

// Active returns the active channel.
func (s *Store) Active() ChannelKey { return s.active }

// Identified reports whether the server has confirmed an identity.
func (s *Store) Identified() bool { return s.ownID != "" }

// Log returns a copy of the log of key.
func (s *Store) Log(key ChannelKey) []Message {
	log := s.logs[key]
	out := make([]Message, len(log))
	copy(out, log)
	return out
}

// Unread returns the unread counter of key.
func (s *Store) Unread(key ChannelKey) int {
	return s.unread[key]
}

// Entry looks up a roster entry by id.
func (s *Store) Entry(id string) (RosterEntry, bool) {
	e, ok := s.roster[id]
	if !ok {
		return RosterEntry{}, false
	}
	return *e, true
}

// Roster returns the roster in server order, placeholders last.
func (s *Store) Roster() []RosterEntry {
	out := make([]RosterEntry, 0, len(s.rosterOrder))
	for _, id := range s.rosterOrder {
		out = append(out, *s.roster[id])
	}
	return out
}

// avatar returns the recorded avatar for id and whether one was recorded.
func (s *Store) avatar(id string) (string, bool) {
	url, ok := s.avatars[id]
	return url, ok
}

// DisplayName returns the best known name for a channel.
func (s *Store) DisplayName(key ChannelKey) string {
	if !key.IsPrivate() {
		return string(ChannelAll)
	}
	if e, ok := s.roster[string(key)]; ok && e.DisplayName != "" {
		return e.DisplayName
	}
	return string(key)
}
