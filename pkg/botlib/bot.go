package botlib

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aeolun/hsschat/pkg/client"
	"github.com/aeolun/hsschat/pkg/client/session"
	"github.com/aeolun/hsschat/pkg/protocol"
)

// MessageHandler is called when a new message is received.
type MessageHandler func(ctx *Context, msg *Message)

// Config holds the bot configuration.
type Config struct {
	// Server address, anything client.NewConnection accepts
	Server string

	// Nickname for the bot (e.g., "HelperBot")
	Nickname string

	// Logger for debug output (optional, defaults to a no-op logger)
	Logger *zerolog.Logger

	// JoinTimeout bounds the wait for the server to confirm the join (default: 10s)
	JoinTimeout time.Duration
}

// Bot represents an hsschat bot instance. Server events are applied to a
// session reconciler on one goroutine; handlers run on their own goroutines
// so a slow handler never stalls the event stream.
type Bot struct {
	config Config
	conn   client.ConnectionInterface
	rec    *session.Reconciler
	logger zerolog.Logger

	// Handlers
	onMessage MessageHandler
	onPrivate MessageHandler
	onMention MessageHandler

	handlers sync.WaitGroup
}

// New creates a new Bot with the given configuration.
func New(config Config) *Bot {
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "bot").Logger()
	}
	if config.JoinTimeout == 0 {
		config.JoinTimeout = 10 * time.Second
	}
	return &Bot{config: config, logger: logger}
}

// OnMessage registers a handler for all messages from other users.
func (b *Bot) OnMessage(handler MessageHandler) {
	b.onMessage = handler
}

// OnPrivate registers a handler for private messages to the bot.
func (b *Bot) OnPrivate(handler MessageHandler) {
	b.onPrivate = handler
}

// OnMention registers a handler for public messages that mention the bot.
func (b *Bot) OnMention(handler MessageHandler) {
	b.onMention = handler
}

// Run connects to the server and processes events until ctx is done or the
// connection is lost.
func (b *Bot) Run(ctx context.Context) error {
	conn, err := client.NewConnection(b.config.Server)
	if err != nil {
		return err
	}
	conn.SetLogger(b.logger)
	return b.RunWith(ctx, conn)
}

// RunWith is Run over an existing, not yet opened connection.
func (b *Bot) RunWith(ctx context.Context, conn client.ConnectionInterface) error {
	b.conn = conn
	b.rec = session.NewReconciler(conn, nil, b.logger)
	defer func() {
		conn.Close()
		b.handlers.Wait()
	}()

	b.logger.Info().Str("server", conn.GetAddress()).Str("nickname", b.config.Nickname).Msg("Connecting")
	if err := conn.Open(b.config.Nickname); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}

	joinTimer := time.NewTimer(b.config.JoinTimeout)
	defer joinTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-joinTimer.C:
			if !b.rec.Store().Identified() {
				return fmt.Errorf("no join confirmation within %v", b.config.JoinTimeout)
			}
		case ev, ok := <-conn.Incoming():
			if !ok {
				return errors.New("connection closed")
			}
			b.handleEvent(ev)
		}
	}
}

// handleEvent applies ev and dispatches messages from other users.
func (b *Bot) handleEvent(ev protocol.ServerEvent) {
	ch := b.rec.Apply(ev)
	if ch.Identity {
		b.logger.Info().Str("nickname", b.rec.Store().OwnName()).Msg("Joined")
	}

	e, ok := ev.(*protocol.MessageEvent)
	if !ok || e.UserID == "" {
		return
	}
	store := b.rec.Store()
	own := store.OwnID()
	if string(e.UserID) == own {
		return
	}

	msg := &Message{
		AuthorID:    string(e.UserID),
		AuthorName:  e.User,
		Text:        e.Text,
		CreatedAt:   protocol.ParseTimestamp(e.TS),
		Private:     e.Private,
		Channel:     session.ChannelAll,
		botNickname: store.OwnName(),
	}
	if e.Private {
		if string(e.To) != own {
			return
		}
		msg.Channel = session.ChannelKey(e.UserID)
	}

	var users []User
	for _, entry := range store.Roster() {
		if entry.ID != own && !entry.Placeholder {
			users = append(users, User{ID: entry.ID, Name: entry.DisplayName})
		}
	}

	b.dispatch(&Context{bot: b, message: msg, users: users}, msg)
}

func (b *Bot) dispatch(ctx *Context, msg *Message) {
	var handlers []MessageHandler
	if b.onMessage != nil {
		handlers = append(handlers, b.onMessage)
	}
	if msg.Private && b.onPrivate != nil {
		handlers = append(handlers, b.onPrivate)
	}
	if !msg.Private && msg.MentionsMe() && b.onMention != nil {
		handlers = append(handlers, b.onMention)
	}

	for _, h := range handlers {
		b.handlers.Add(1)
		go func(h MessageHandler) {
			defer b.handlers.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error().Interface("panic", r).Msg("Handler panicked")
				}
			}()
			h(ctx, msg)
		}(h)
	}
}

// send posts text to "all" or a peer id. Multi-line text is sent as is.
func (b *Bot) send(to, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return b.conn.Send(&protocol.SendMessageCommand{Text: text, To: protocol.ID(to)})
}
