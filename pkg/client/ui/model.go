package ui

import (
	"context"

	"github.com/aeolun/hsschat/pkg/client"
	"github.com/aeolun/hsschat/pkg/client/session"
	"github.com/aeolun/hsschat/pkg/protocol"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

// maxEventBatch caps how many queued events one listen command drains.
const maxEventBatch = 64

const sidebarWidth = 26

// Notifier shows a desktop notification.
type Notifier func(title, body string) error

// DesktopNotifier sends notifications through the OS notification service.
func DesktopNotifier(title, body string) error {
	return beeep.Notify(title, body, "")
}

// Options configures a Model.
type Options struct {
	Uploader      session.AvatarUploader
	Notifications bool
	Notifier      Notifier
	Logger        zerolog.Logger
}

// Model is the bubbletea model for the chat client. All session state lives
// in the reconciler; the model only renders snapshots of it.
type Model struct {
	ctx      context.Context
	conn     client.ConnectionInterface
	state    client.StateInterface
	rec      *session.Reconciler
	uploader session.AvatarUploader
	logger   zerolog.Logger

	notify   bool
	notifier Notifier

	connected    bool
	firstRun     bool
	width        int
	height       int
	chatViewport viewport.Model
	input        textinput.Model
	snapshot     session.View
	showHelp     bool
	status       string
	errorMessage string
}

// NewModel creates the UI over an already opened connection.
func NewModel(ctx context.Context, conn client.ConnectionInterface, state client.StateInterface, rec *session.Reconciler, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message, or /help"
	ti.Prompt = "> "
	ti.CharLimit = 4000
	ti.Focus()

	notifier := opts.Notifier
	if notifier == nil {
		notifier = DesktopNotifier
	}

	m := Model{
		ctx:          ctx,
		conn:         conn,
		state:        state,
		rec:          rec,
		uploader:     opts.Uploader,
		logger:       opts.Logger.With().Str("component", "ui").Logger(),
		notify:       opts.Notifications,
		notifier:     notifier,
		connected:    conn.IsConnected(),
		firstRun:     state.GetFirstRun(),
		chatViewport: viewport.New(80, 20),
		input:        ti,
		status:       "Connecting to " + conn.GetAddress(),
	}
	m.snapshot = rec.Snapshot()
	return m
}

// ServerEventsMsg carries events already queued on the connection.
type ServerEventsMsg struct {
	Events []protocol.ServerEvent
}

// ErrorMsg represents a transport error
type ErrorMsg struct {
	Err error
}

// ConnectedMsg reports the connection came up
type ConnectedMsg struct{}

// DisconnectedMsg reports the connection went down. Closed means the
// connection's channels are gone and nothing more will arrive.
type DisconnectedMsg struct {
	Err    error
	Closed bool
}

// AvatarResultMsg carries a finished avatar upload or removal
type AvatarResultMsg struct {
	Result session.AvatarResult
}

type notifiedMsg struct {
	err error
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		listenForServerEvents(m.conn),
	)
}

// listenForServerEvents waits for the next event, error or state change and
// drains whatever else is already queued.
func listenForServerEvents(conn client.ConnectionInterface) tea.Cmd {
	return func() tea.Msg {
		select {
		case ev, ok := <-conn.Incoming():
			if !ok {
				return DisconnectedMsg{Closed: true}
			}
			batch := []protocol.ServerEvent{ev}
			for len(batch) < maxEventBatch {
				select {
				case next, ok := <-conn.Incoming():
					if !ok {
						return ServerEventsMsg{Events: batch}
					}
					batch = append(batch, next)
				default:
					return ServerEventsMsg{Events: batch}
				}
			}
			return ServerEventsMsg{Events: batch}
		case err, ok := <-conn.Errors():
			if !ok {
				return DisconnectedMsg{Closed: true}
			}
			return ErrorMsg{Err: err}
		case st, ok := <-conn.StateChanges():
			if !ok {
				return DisconnectedMsg{Closed: true}
			}
			if st.State == client.StateTypeConnected {
				return ConnectedMsg{}
			}
			return DisconnectedMsg{Err: st.Err}
		}
	}
}

func (m Model) notifyCmd(msg *session.Message) tea.Cmd {
	if !m.notify || msg == nil {
		return nil
	}
	title := "Private message from " + msg.AuthorName
	body := sanitize(msg.Text)
	notifier := m.notifier
	return func() tea.Msg {
		return notifiedMsg{err: notifier(title, body)}
	}
}

func runAvatar(fn func() session.AvatarResult) tea.Cmd {
	return func() tea.Msg {
		return AvatarResultMsg{Result: fn()}
	}
}
