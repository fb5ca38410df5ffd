package ui

import (
	"context"
	"sync"

	"github.com/aeolun/hsschat/pkg/client"
	"github.com/aeolun/hsschat/pkg/client/session"
	"github.com/aeolun/hsschat/pkg/protocol"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingNotifier) notify(title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, title+"|"+body)
	return nil
}

// NewTestModel creates a Model with mock dependencies for testing
func NewTestModel() (Model, *client.MockConnection, *client.MockState, *recordingNotifier) {
	conn := client.NewMockConnection("localhost:8000")
	conn.Connect()
	state := client.NewMockState()
	rec := session.NewReconciler(conn, state, zerolog.Nop())
	notes := &recordingNotifier{}

	m := NewModel(context.Background(), conn, state, rec, Options{
		Notifications: true,
		Notifier:      notes.notify,
		Logger:        zerolog.Nop(),
	})
	return m, conn, state, notes
}

// SetupTestModelWithDimensions creates a test model with window dimensions set
func SetupTestModelWithDimensions(width, height int) (Model, *client.MockConnection) {
	m, conn, _, _ := NewTestModel()
	next, _ := m.Update(tea.WindowSizeMsg{Width: width, Height: height})
	return next.(Model), conn
}

// joinedSession feeds the usual opening events: identity then roster
func joinedSession(m Model) Model {
	next, _ := m.Update(ServerEventsMsg{Events: []protocol.ServerEvent{
		&protocol.JoinedEvent{ID: "1", User: "me"},
		&protocol.UserListEvent{Users: []protocol.UserEntry{
			{ID: "1", User: "me"},
			{ID: "2", User: "Alice", Avatar: "/avatars/alice.png"},
			{ID: "3", User: "Bob"},
		}},
	}})
	return next.(Model)
}

func pressKey(m Model, key tea.KeyType) Model {
	next, _ := m.Update(tea.KeyMsg{Type: key})
	return next.(Model)
}

func typeAndSubmit(m Model, text string) (Model, tea.Cmd) {
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}
