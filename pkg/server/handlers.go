package server

import (
	"fmt"
	"strings"

	"github.com/aeolun/hsschat/pkg/protocol"
)

// handleCommand routes one decoded client command. Everything except join is
// ignored until the session has a name.
func (s *Server) handleCommand(sess *Session, cmd protocol.ClientCommand) error {
	if _, isJoin := cmd.(*protocol.JoinCommand); !isJoin && !sess.Joined() {
		s.logger.Debug().Str("session", sess.ID).Str("type", cmd.Type()).Msg("Ignoring command before join")
		return nil
	}

	switch c := cmd.(type) {
	case *protocol.JoinCommand:
		return s.handleJoin(sess, c)
	case *protocol.RenameCommand:
		return s.handleRename(sess, c)
	case *protocol.SendMessageCommand:
		return s.handleMessage(sess, c)
	case *protocol.HistoryCommand:
		return s.handleHistory(sess, c)
	default:
		return fmt.Errorf("unhandled command %s", cmd.Type())
	}
}

func (s *Server) timestamp() string {
	return protocol.FormatTimestamp(s.now())
}

// handleJoin names the session, announces it, and sends the joiner its
// identity followed by the main chat history.
func (s *Server) handleJoin(sess *Session, c *protocol.JoinCommand) error {
	name := s.sessions.AssignNickname(sess, sanitizeName(c.User, s.config.MaxNameLength))
	s.logger.Info().Str("session", sess.ID).Str("nickname", name).Msg("User joined")

	s.announce(fmt.Sprintf("%s joined the chat.", name))
	s.broadcastRoster()

	if err := sess.Send(&protocol.JoinedEvent{User: name, ID: protocol.ID(sess.ID), TS: s.timestamp()}); err != nil {
		return fmt.Errorf("send joined: %w", err)
	}
	return sess.Send(&protocol.HistoryEvent{
		Channel:  protocol.ChannelAll,
		Messages: s.history.Get(protocol.ChannelAll),
	})
}

func (s *Server) handleRename(sess *Session, c *protocol.RenameCommand) error {
	old := sess.Nickname()
	name := s.sessions.AssignNickname(sess, sanitizeName(c.User, s.config.MaxNameLength))
	s.logger.Info().Str("session", sess.ID).Str("old", old).Str("nickname", name).Msg("User renamed")

	s.announce(fmt.Sprintf("%s is now known as %s", old, name))
	s.broadcastRoster()

	return sess.Send(&protocol.RenamedEvent{User: name, Old: old, TS: s.timestamp()})
}

// handleMessage delivers to everyone when addressed to "all", otherwise to the
// addressed peer and the sender.
func (s *Server) handleMessage(sess *Session, c *protocol.SendMessageCommand) error {
	text := sanitizeText(c.Text, s.config.MaxMessageLength)
	if text == "" {
		return nil
	}

	to := strings.TrimSpace(string(c.To))
	if to == "" || strings.EqualFold(to, protocol.ChannelAll) {
		msg := protocol.MessageEvent{
			User:   sess.Nickname(),
			UserID: protocol.ID(sess.ID),
			Text:   text,
			TS:     s.timestamp(),
			Avatar: sess.Avatar(),
		}
		s.history.Append(protocol.ChannelAll, msg)
		s.metrics.RecordMessage("public")
		s.broadcast(&msg)
		return nil
	}

	peer, ok := s.sessions.GetSession(to)
	if !ok || !peer.Joined() {
		return sess.Send(&protocol.MessageEvent{
			User: protocol.SystemUser,
			Text: fmt.Sprintf("User '%s' not found.", to),
			TS:   s.timestamp(),
		})
	}

	msg := protocol.MessageEvent{
		User:    sess.Nickname(),
		UserID:  protocol.ID(sess.ID),
		Text:    text,
		TS:      s.timestamp(),
		Private: true,
		To:      protocol.ID(peer.ID),
		ToUser:  peer.Nickname(),
		Avatar:  sess.Avatar(),
	}
	s.history.Append(DMKey(sess.ID, peer.ID), msg)
	s.metrics.RecordMessage("private")

	s.deliver(peer, &msg)
	if peer != sess {
		s.deliver(sess, &msg)
	}
	return nil
}

// handleHistory answers with the main chat log or the private log between the
// requester and the given peer id.
func (s *Server) handleHistory(sess *Session, c *protocol.HistoryCommand) error {
	channel := strings.TrimSpace(string(c.Channel))
	if channel == "" || strings.EqualFold(channel, protocol.ChannelAll) {
		return sess.Send(&protocol.HistoryEvent{
			Channel:  protocol.ChannelAll,
			Messages: s.history.Get(protocol.ChannelAll),
		})
	}
	return sess.Send(&protocol.HistoryEvent{
		Channel:  protocol.ID(channel),
		Messages: s.history.Get(DMKey(sess.ID, channel)),
	})
}

// disconnect removes a session and tells the others. Safe to call twice.
func (s *Server) disconnect(sess *Session) {
	if _, ok := s.sessions.RemoveSession(sess.ID); !ok {
		return
	}
	name := sess.Nickname()
	if name == "" {
		return
	}
	s.logger.Info().Str("session", sess.ID).Str("nickname", name).Msg("User left")
	s.announce(fmt.Sprintf("%s left the chat.", name))
	s.broadcastRoster()
}

// announce stores and broadcasts a system notice in the main chat.
func (s *Server) announce(text string) {
	msg := protocol.MessageEvent{
		User: protocol.SystemUser,
		Text: text,
		TS:   s.timestamp(),
	}
	s.history.Append(protocol.ChannelAll, msg)
	s.metrics.RecordMessage("system")
	s.broadcast(&msg)
}

func (s *Server) broadcastRoster() {
	s.broadcast(&protocol.UserListEvent{Users: s.sessions.Roster()})
}

// broadcast encodes once and writes to every joined session. A failed write
// only affects that recipient; its read loop notices the broken link.
func (s *Server) broadcast(ev protocol.ServerEvent) {
	data, err := ev.Encode()
	if err != nil {
		s.logger.Error().Err(err).Str("type", ev.Type()).Msg("Failed to encode broadcast")
		return
	}
	for _, sess := range s.sessions.JoinedSessions() {
		if err := sess.Conn.WriteBytes(data); err != nil {
			s.metrics.RecordWriteFailure()
			s.logger.Debug().Err(err).Str("session", sess.ID).Msg("Broadcast write failed")
		}
	}
}

func (s *Server) deliver(sess *Session, ev protocol.ServerEvent) {
	if err := sess.Send(ev); err != nil {
		s.metrics.RecordWriteFailure()
		s.logger.Debug().Err(err).Str("session", sess.ID).Msg("Write failed")
	}
}
