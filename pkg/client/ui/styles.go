package ui

import "github.com/charmbracelet/lipgloss"

var (
	PrimaryColor = lipgloss.Color("39")
	AccentColor  = lipgloss.Color("205")
	SuccessColor = lipgloss.Color("42")
	ErrorColor   = lipgloss.Color("196")
	MutedColor   = lipgloss.Color("241")
	TextColor    = lipgloss.Color("252")
)

var (
	BaseStyle = lipgloss.NewStyle().Foreground(TextColor)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			Padding(0, 1)

	SidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(MutedColor).
			Padding(0, 1)

	ChatStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(PrimaryColor).
			Padding(0, 1)

	SidebarActiveStyle = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor)
	SidebarMutedStyle  = lipgloss.NewStyle().Foreground(MutedColor).Italic(true)
	UnreadBadgeStyle   = lipgloss.NewStyle().Bold(true).Foreground(AccentColor)

	MessageAuthorStyle    = lipgloss.NewStyle().Foreground(AccentColor)
	MessageOwnAuthorStyle = lipgloss.NewStyle().Foreground(SuccessColor).Bold(true)
	MessageSystemStyle    = lipgloss.NewStyle().Foreground(MutedColor).Italic(true)
	MessageTimeStyle      = lipgloss.NewStyle().Foreground(MutedColor)

	StatusStyle = lipgloss.NewStyle().Foreground(MutedColor)
	ErrorStyle  = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
)
