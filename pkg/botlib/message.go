// Package botlib provides a simple library for building hsschat bots.
package botlib

import (
	"strings"
	"time"

	"github.com/aeolun/hsschat/pkg/client/session"
)

// Message represents a chat message received by the bot.
type Message struct {
	AuthorID   string
	AuthorName string
	Text       string
	CreatedAt  time.Time
	Private    bool

	// Channel is where a reply goes: the author's id for private messages,
	// "all" otherwise.
	Channel session.ChannelKey

	// Internal: the bot's nickname for mention detection
	botNickname string
}

// IsPrivate returns true if the message was addressed to the bot only.
func (m *Message) IsPrivate() bool {
	return m.Private
}

// MentionsMe returns true if the message content mentions the bot.
// Checks for @nickname patterns (case-insensitive).
func (m *Message) MentionsMe() bool {
	if m.botNickname == "" {
		return false
	}

	content := strings.ToLower(m.Text)
	nickname := strings.ToLower(m.botNickname)

	if strings.Contains(content, "@"+nickname) {
		return true
	}

	// Also check for nickname at start of message (common pattern)
	for _, sep := range []string{":", ",", " "} {
		if strings.HasPrefix(content, nickname+sep) {
			return true
		}
	}
	return false
}

// MentionedContent returns the message content with the bot mention removed.
// Useful for extracting the actual query/command.
func (m *Message) MentionedContent() string {
	if m.botNickname == "" {
		return strings.TrimSpace(m.Text)
	}

	content := m.Text
	nickname := m.botNickname

	content = strings.ReplaceAll(content, "@"+nickname, "")
	content = strings.ReplaceAll(content, "@"+strings.ToLower(nickname), "")

	lower := strings.ToLower(content)
	lowerNick := strings.ToLower(nickname)
	for _, sep := range []string{":", ",", " "} {
		if strings.HasPrefix(lower, lowerNick+sep) {
			content = content[len(nickname)+1:]
			break
		}
	}
	return strings.TrimSpace(content)
}

// Command splits a "!name args" message. ok is false for anything else.
func (m *Message) Command() (name, args string, ok bool) {
	text := m.MentionedContent()
	if !strings.HasPrefix(text, "!") {
		return "", "", false
	}
	name, args, _ = strings.Cut(text[1:], " ")
	name = strings.ToLower(name)
	return name, strings.TrimSpace(args), name != ""
}

// User is a connected user as seen when the message arrived.
type User struct {
	ID   string
	Name string
}
