package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/hsschat/pkg/client"
	"github.com/aeolun/hsschat/pkg/client/session"
	"github.com/aeolun/hsschat/pkg/protocol"
)

func TestPickServer(t *testing.T) {
	state := client.NewMockState()
	assert.Equal(t, defaultServer, pickServer("", "", state))

	require.NoError(t, state.SaveSuccessfulConnection("chat.example.com:8000"))
	assert.Equal(t, "chat.example.com:8000", pickServer("", "", state))
	assert.Equal(t, "cfg:1", pickServer("", "cfg:1", state))
	assert.Equal(t, "flag:2", pickServer("flag:2", "cfg:1", state))
}

func TestPrinterRendersIncrementally(t *testing.T) {
	var out bytes.Buffer
	p := &printer{out: &out}
	ts := time.Date(2024, 1, 1, 12, 30, 0, 0, time.Local)

	v := session.View{
		OwnID:  "1",
		Active: session.ChannelAll,
		Title:  "Main chat",
		Messages: []session.Message{
			{AuthorName: protocol.SystemUser, System: true, Text: "Alice joined the chat.", Timestamp: ts},
		},
	}
	p.render(v, session.Change{})
	v.Messages = append(v.Messages, session.Message{AuthorName: "me", AuthorID: "1", Text: "hi", Timestamp: ts})
	p.render(v, session.Change{})

	assert.Equal(t, "== Main chat ==\n12:30 * Alice joined the chat.\n12:30 <me (you)> hi\n", out.String())

	// Switching channel starts a new section
	out.Reset()
	p.render(session.View{OwnID: "1", Active: "2", Title: "Private: Alice"}, session.Change{})
	assert.Equal(t, "== Private: Alice ==\n", out.String())
}

func TestPrinterReprintsReplacedHistory(t *testing.T) {
	var out bytes.Buffer
	p := &printer{out: &out}
	rec := session.NewReconciler(client.NewMockConnection("localhost:8000"), nil, zerolog.Nop())

	apply := func(ev protocol.ServerEvent) {
		p.render(rec.Snapshot(), rec.Apply(ev))
	}
	apply(&protocol.JoinedEvent{User: "me", ID: "1"})
	apply(&protocol.HistoryEvent{Channel: protocol.ChannelAll, Messages: []protocol.MessageEvent{
		{User: protocol.SystemUser, Text: "alice joined the chat."},
		{User: "bob", UserID: "2", Text: "hello"},
	}})

	sections := strings.Split(out.String(), "== Main chat ==\n")
	require.Len(t, sections, 3)
	assert.Contains(t, sections[1], "Your nickname is now: me")
	assert.Equal(t, "* alice joined the chat.\n<bob> hello\n", sections[2])
}

func TestPrinterAnnouncesPrivateMessages(t *testing.T) {
	var out bytes.Buffer
	p := &printer{out: &out, started: true, active: session.ChannelAll}

	msg := &session.Message{AuthorName: "Alice", AuthorID: "2", Text: "psst", Private: true}
	p.render(session.View{Active: session.ChannelAll}, session.Change{Notify: msg, Channel: "2"})

	assert.Equal(t, "* private message from Alice (/switch 2)\n", out.String())
}

func TestRunHeadlessSendsCommands(t *testing.T) {
	conn := client.NewMockConnection("localhost:8000")
	require.NoError(t, conn.Connect())
	rec := session.NewReconciler(conn, client.NewMockState(), zerolog.Nop())

	var out bytes.Buffer
	in := strings.NewReader("hello\n/dance\n/quit\n")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runHeadless(ctx, conn, rec, nil, in, &out, zerolog.Nop()))
	require.NoError(t, ctx.Err(), "quit should end the loop")

	require.GreaterOrEqual(t, conn.GetSentCount(), 2)
	assert.Equal(t, &protocol.SendMessageCommand{Text: "hello", To: protocol.ChannelAll}, conn.Sent[0])
	assert.Equal(t, &protocol.LeaveCommand{}, conn.Sent[1])
	assert.Contains(t, out.String(), "! unknown command")
}

func TestRunHeadlessStreamClosed(t *testing.T) {
	conn := client.NewMockConnection("localhost:8000")
	rec := session.NewReconciler(conn, nil, zerolog.Nop())

	in, w := io.Pipe()
	t.Cleanup(func() { w.Close() })

	conn.SimulateEvent(&protocol.JoinedEvent{User: "me", ID: "1"})
	conn.Close()

	var out bytes.Buffer
	require.NoError(t, runHeadless(context.Background(), conn, rec, nil, in, &out, zerolog.Nop()))
	assert.Contains(t, out.String(), "Your nickname is now: me")
	assert.True(t, strings.HasSuffix(out.String(), "* disconnected from server\n"))
}
