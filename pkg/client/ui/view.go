package ui

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/aeolun/hsschat/pkg/client/session"
	"github.com/charmbracelet/lipgloss"
)

// View renders the current view
func (m Model) View() string {
	// Don't render until we have dimensions
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	header := m.renderHeader()

	sidebar := SidebarStyle.
		Width(sidebarWidth).
		Height(m.chatViewport.Height).
		Render(m.renderSidebar())
	chat := ChatStyle.
		Width(m.chatViewport.Width).
		Height(m.chatViewport.Height).
		Render(m.chatViewport.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, chat)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		body,
		m.input.View(),
		m.renderStatusLine(),
	)
}

func (m Model) renderHeader() string {
	v := m.snapshot
	title := v.Title
	if m.showHelp {
		title = "Help"
	}
	who := "not joined"
	if v.OwnName != "" {
		who = v.OwnName
		if v.OwnAvatar != "" {
			who += " " + avatarMarker(v.OwnAvatar)
		}
	}
	left := HeaderStyle.Render("hsschat · " + title)
	right := StatusStyle.Render(who)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m Model) renderSidebar() string {
	var b strings.Builder

	main := "# Main chat"
	if m.snapshot.Active == session.ChannelAll {
		b.WriteString(SidebarActiveStyle.Render("▸ " + main))
	} else {
		b.WriteString("  " + main)
	}
	b.WriteString("\n\n")

	if len(m.snapshot.Sidebar) == 0 {
		b.WriteString(SidebarMutedStyle.Render("  nobody else here"))
		return b.String()
	}
	for _, e := range m.snapshot.Sidebar {
		b.WriteString(formatSidebarEntry(e))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSidebarEntry(e session.SidebarEntry) string {
	name := truncate(sanitize(e.Name), sidebarWidth-8)
	line := avatarMarker(e.AvatarURL) + " " + name

	switch {
	case e.Active:
		line = SidebarActiveStyle.Render("▸ " + line)
	case e.Placeholder:
		line = "  " + SidebarMutedStyle.Render(line)
	default:
		line = "  " + line
	}
	if e.Unread > 0 {
		line += " " + UnreadBadgeStyle.Render(fmt.Sprintf("(%d)", e.Unread))
	}
	return line
}

// renderMessages renders the active channel's log for the viewport.
func (m Model) renderMessages() string {
	v := m.snapshot
	if len(v.Messages) == 0 {
		if m.firstRun && v.Active == session.ChannelAll {
			return MessageSystemStyle.Render("Welcome! Type a message and press enter, or /help for commands.")
		}
		return MessageSystemStyle.Render("No messages yet.")
	}

	width := m.chatViewport.Width
	lines := make([]string, 0, len(v.Messages))
	for _, msg := range v.Messages {
		lines = append(lines, formatMessage(msg, v, width))
	}
	return strings.Join(lines, "\n")
}

func formatMessage(msg session.Message, v session.View, width int) string {
	ts := ""
	if !msg.Timestamp.IsZero() {
		ts = MessageTimeStyle.Render(msg.Timestamp.Local().Format("15:04")) + " "
	}
	text := sanitize(msg.Text)

	if msg.System {
		return ts + MessageSystemStyle.Render("* "+text)
	}

	authorStyle := MessageAuthorStyle
	if msg.AuthorID != "" && msg.AuthorID == v.OwnID {
		authorStyle = MessageOwnAuthorStyle
	}
	author := sanitize(msg.AuthorName)
	if url := v.Avatars[msg.AuthorID]; url != "" {
		author = avatarMarker(url) + " " + author
	}

	line := ts + authorStyle.Render(author) + ": " + BaseStyle.Render(text)
	if width > 0 {
		line = lipgloss.NewStyle().Width(width).Render(line)
	}
	return line
}

// avatarMarker stands in for an avatar image in the terminal.
func avatarMarker(url string) string {
	if url == "" {
		return "○"
	}
	return "●"
}

func (m Model) renderStatusLine() string {
	if m.errorMessage != "" {
		return ErrorStyle.Render(m.errorMessage)
	}
	status := m.status
	if !m.connected {
		status = "offline · " + status
	}
	return StatusStyle.Render(status + " · tab: switch · /help")
}

// sanitize strips control characters so peers cannot drive the terminal.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) && r != '\n' {
			return -1
		}
		return r
	}, s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
