package botlib

import (
	"github.com/aeolun/hsschat/pkg/protocol"
)

// Context provides methods for responding to messages.
// It is passed to message handlers and is safe to use from any goroutine.
type Context struct {
	bot     *Bot
	message *Message
	users   []User
}

// Message returns the message that triggered this context.
func (c *Context) Message() *Message {
	return c.message
}

// Reply answers where the message came from: privately to the author for
// private messages, in the main chat otherwise.
func (c *Context) Reply(text string) error {
	return c.bot.send(string(c.message.Channel), text)
}

// ReplyPrivately always answers the author directly.
func (c *Context) ReplyPrivately(text string) error {
	return c.bot.send(c.message.AuthorID, text)
}

// Broadcast posts to the main chat.
func (c *Context) Broadcast(text string) error {
	return c.bot.send(protocol.ChannelAll, text)
}

// Author returns the display name of the message author.
func (c *Context) Author() string {
	return c.message.AuthorName
}

// BotNickname returns the bot's nickname when the message arrived.
func (c *Context) BotNickname() string {
	return c.message.botNickname
}

// Users returns the roster when the message arrived, bot excluded.
func (c *Context) Users() []User {
	return c.users
}

// Log logs a message using the bot's logger.
func (c *Context) Log(format string, args ...any) {
	c.bot.logger.Info().Str("author", c.message.AuthorName).Msgf(format, args...)
}
