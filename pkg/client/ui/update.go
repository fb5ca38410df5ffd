package ui

import (
	"errors"
	"fmt"

	"github.com/aeolun/hsschat/pkg/client/commands"
	"github.com/aeolun/hsschat/pkg/client/session"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.refresh(session.Change{Stale: true})
		return m, nil

	case ServerEventsMsg:
		var change session.Change
		var notices []tea.Cmd
		for _, ev := range msg.Events {
			ch := m.rec.Apply(ev)
			if ch.Notify != nil {
				notices = append(notices, m.notifyCmd(ch.Notify))
			}
			change = change.Merge(ch)
		}
		if change.Identity {
			m.status = fmt.Sprintf("Connected to %s as %s", m.conn.GetAddress(), m.rec.Store().OwnName())
			m.completeFirstRun()
		}
		m.refresh(change)
		return m, tea.Batch(append(notices, listenForServerEvents(m.conn))...)

	case ErrorMsg:
		m.errorMessage = msg.Err.Error()
		return m, listenForServerEvents(m.conn)

	case ConnectedMsg:
		m.connected = true
		m.status = "Connected to " + m.conn.GetAddress()
		return m, listenForServerEvents(m.conn)

	case DisconnectedMsg:
		m.connected = false
		m.status = "Disconnected"
		if msg.Err != nil {
			m.status = "Disconnected: " + msg.Err.Error()
		}
		if msg.Closed {
			return m, nil
		}
		return m, listenForServerEvents(m.conn)

	case AvatarResultMsg:
		change := m.rec.ApplyAvatarResult(msg.Result)
		switch {
		case msg.Result.Err != nil:
			m.errorMessage = "Avatar update failed: " + msg.Result.Err.Error()
		case msg.Result.Removed:
			m.status = "Avatar removed"
		default:
			m.status = "Avatar updated"
		}
		m.refresh(change)
		return m, nil

	case notifiedMsg:
		if msg.err != nil {
			m.logger.Debug().Err(msg.err).Msg("Desktop notification failed")
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if err := m.rec.Leave(); err != nil {
			m.logger.Debug().Err(err).Msg("Leave not sent")
		}
		return m, tea.Quit

	case "esc":
		if m.showHelp {
			m.showHelp = false
			m.refresh(session.Change{Stale: true})
		}
		m.errorMessage = ""
		return m, nil

	case "tab":
		return m.cycleChannel(1)

	case "shift+tab":
		return m.cycleChannel(-1)

	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.chatViewport, cmd = m.chatViewport.Update(msg)
		return m, cmd

	case "enter":
		return m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit parses and runs the input line.
func (m Model) submit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	m.input.Reset()
	m.errorMessage = ""

	cmd, err := commands.Parse(line)
	if err != nil {
		m.errorMessage = err.Error()
		return m, nil
	}

	res, err := commands.Run(m.ctx, m.rec, m.uploader, cmd)
	if res.Quit {
		return m, tea.Quit
	}
	if err != nil {
		m.errorMessage = describeError(err)
		return m, nil
	}
	if res.Help {
		m.showHelp = !m.showHelp
		m.refresh(session.Change{Stale: true})
		return m, nil
	}
	if res.Avatar != nil {
		if cmd.Kind == commands.KindRemoveAvatar {
			m.status = "Removing avatar..."
		} else {
			m.status = "Uploading avatar..."
		}
		return m, runAvatar(res.Avatar)
	}
	m.refresh(res.Change)
	return m, nil
}

// cycleChannel moves the active channel through main chat and the sidebar.
func (m Model) cycleChannel(step int) (tea.Model, tea.Cmd) {
	order := []session.ChannelKey{session.ChannelAll}
	current := 0
	for _, e := range m.snapshot.Sidebar {
		if e.Active {
			current = len(order)
		}
		order = append(order, session.ChannelKey(e.ID))
	}
	if len(order) == 1 {
		return m, nil
	}
	next := order[(current+step+len(order))%len(order)]

	change, err := m.rec.ActivateChannel(next)
	if err != nil {
		m.errorMessage = describeError(err)
	}
	m.showHelp = false
	m.refresh(change)
	return m, nil
}

func (m *Model) completeFirstRun() {
	if !m.firstRun {
		return
	}
	if err := m.state.SetFirstRunComplete(); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to record first run")
		return
	}
	m.firstRun = false
}

// refresh re-reads the session snapshot and re-renders what changed.
func (m *Model) refresh(change session.Change) {
	follow := m.chatViewport.AtBottom()
	m.snapshot = m.rec.Snapshot()
	if !change.Stale && !change.Roster && !change.Avatar && !change.Identity {
		return
	}
	if m.showHelp {
		m.chatViewport.SetContent(commands.HelpText())
		m.chatViewport.GotoTop()
		return
	}
	m.chatViewport.SetContent(m.renderMessages())
	if follow || change.Stale {
		m.chatViewport.GotoBottom()
	}
}

func (m *Model) layout() {
	chatWidth := m.width - sidebarWidth - 4
	if chatWidth < 20 {
		chatWidth = 20
	}
	chatHeight := m.height - 7 // header, input, status and borders
	if chatHeight < 5 {
		chatHeight = 5
	}
	m.chatViewport.Width = chatWidth
	m.chatViewport.Height = chatHeight
	m.input.Width = m.width - 4
}

func describeError(err error) string {
	switch {
	case errors.Is(err, session.ErrSendToSelf):
		return "You cannot send a private message to yourself"
	case errors.Is(err, session.ErrNotIdentified):
		return "Not connected yet"
	}
	return err.Error()
}
