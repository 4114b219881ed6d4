package ux

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/assetdesk/internal/status"
)

var (
	badgeBase = lipgloss.NewStyle().Bold(true).Padding(0, 1)

	badgeColors = map[status.Status]lipgloss.Color{
		status.Active:     lipgloss.Color("33"),  // Blue
		status.Pending:    lipgloss.Color("244"), // Gray
		status.InProgress: lipgloss.Color("86"),  // Cyan
		status.Overdue:    lipgloss.Color("196"), // Red
		status.Lost:       lipgloss.Color("208"), // Orange
		status.Returned:   lipgloss.Color("46"),  // Green
		status.Resolved:   lipgloss.Color("46"),  // Green
		status.Closed:     lipgloss.Color("241"), // Dark gray
	}

	// MutedStyle renders secondary text.
	MutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	// TitleStyle renders section titles.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))

	// ErrorStyle renders error headlines.
	ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	// SuccessStyle renders confirmations.
	SuccessStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
)

// StatusBadge renders a derived status as a colored label. Unknown labels
// render uncolored.
func StatusBadge(s status.Status) string {
	style := badgeBase
	if c, ok := badgeColors[s]; ok {
		style = style.Foreground(c)
	}
	return style.Render(StatusLabel(s))
}

// StatusLabel returns the human-readable form of a status label.
func StatusLabel(s status.Status) string {
	switch s {
	case status.InProgress:
		return "in progress"
	case "":
		return "-"
	default:
		return string(s)
	}
}
