// Package tui holds the interactive terminal pieces of the console: the huh
// prompts used by sign-in and edits, and the bubbletea dashboard behind
// `assetdesk watch`.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/assetdesk/internal/api"
	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
	"github.com/felixgeelhaar/assetdesk/internal/session"
	"github.com/felixgeelhaar/assetdesk/internal/status"
	"github.com/felixgeelhaar/assetdesk/internal/ux"
)

// keyMap defines the keyboard shortcuts
type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
}

// SessionMsg carries a session snapshot into the dashboard.
type SessionMsg struct {
	Snapshot session.Snapshot
}

// LoansMsg carries the latest loan read.
type LoansMsg struct {
	Loans []api.Loan
	Err   error
}

// TicketsMsg carries the latest ticket read.
type TicketsMsg struct {
	Tickets []api.Ticket
	Err     error
}

// Styles contains lipgloss styles for the dashboard
type Styles struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Border  lipgloss.Style
	Key     lipgloss.Style
}

// DefaultStyles returns the default lipgloss styles
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")). // Purple
			MarginBottom(1),
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")), // Gray
		Error: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")), // Red
		Success: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("46")), // Green
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 2),
		Key: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")),
	}
}

// counts tallies records by derived status.
type counts struct {
	loaded bool
	total  int
	by     map[status.Status]int
	err    error
}

// Dashboard is the bubbletea model of the watch view.
type Dashboard struct {
	session session.Snapshot
	loans   counts
	tickets counts

	updated  time.Time
	now      func() time.Time
	refresh  func() tea.Cmd
	width    int
	quitting bool
	styles   Styles
}

// NewDashboard creates the dashboard. refresh is invoked on the refresh key
// and may be nil.
func NewDashboard(refresh func() tea.Cmd) Dashboard {
	return Dashboard{
		session: session.Snapshot{State: session.Resolving, Loading: true},
		now:     time.Now,
		refresh: refresh,
		styles:  DefaultStyles(),
	}
}

// Init initializes the model (required by Bubble Tea)
func (m Dashboard) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model state (required by Bubble Tea)
func (m Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			if m.refresh != nil {
				return m, m.refresh()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case SessionMsg:
		m.session = msg.Snapshot
		if msg.Snapshot.State != session.Authenticated {
			m.loans = counts{}
			m.tickets = counts{}
		}

	case LoansMsg:
		now := m.now()
		m.loans = tally(msg.Loans, msg.Err, now)
		m.updated = now

	case TicketsMsg:
		now := m.now()
		m.tickets = tally(msg.Tickets, msg.Err, now)
		m.updated = now
	}

	return m, nil
}

type recorder interface {
	Record() status.Record
}

func tally[T recorder](records []T, err error, now time.Time) counts {
	c := counts{loaded: err == nil || records != nil, err: err, by: map[status.Status]int{}}
	for _, r := range records {
		c.by[status.Derive(r.Record(), now)]++
	}
	c.total = len(records)
	return c
}

// View renders the dashboard (required by Bubble Tea)
func (m Dashboard) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.styles.Title.Render("AssetDesk"))
	b.WriteString("\n")
	b.WriteString(m.renderSession())
	b.WriteString("\n\n")

	if m.session.State == session.Authenticated {
		loans := m.renderCounts("Loans", m.loans, []status.Status{status.Active, status.Overdue, status.Lost, status.Returned})
		tickets := m.renderCounts("Tickets", m.tickets, []status.Status{status.Pending, status.InProgress, status.Overdue, status.Resolved, status.Closed})
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, loans, "  ", tickets))
		b.WriteString("\n")
		if !m.updated.IsZero() {
			b.WriteString(m.styles.Muted.Render("Updated " + m.updated.Format("15:04:05")))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelpLine())
	return b.String()
}

func (m Dashboard) renderSession() string {
	switch m.session.State {
	case session.Authenticated:
		return m.styles.Success.Render("● signed in ") + m.sessionUser()
	case session.Resolving:
		return m.styles.Muted.Render("○ resolving session...")
	default:
		line := m.styles.Error.Render("● signed out")
		if m.session.Reason != nil {
			line += " " + m.styles.Muted.Render(apperrors.UserMessage(m.session.Reason))
		}
		return line + "\n" + m.styles.Muted.Render("Run 'assetdesk auth login' in another terminal.")
	}
}

func (m Dashboard) sessionUser() string {
	if m.session.User == nil {
		return ""
	}
	u := m.session.User
	name := u.Email
	if u.FullName != "" {
		name = fmt.Sprintf("%s <%s>", u.FullName, u.Email)
	}
	return name + m.styles.Muted.Render(" ("+u.Role+")")
}

func (m Dashboard) renderCounts(title string, c counts, order []status.Status) string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render(title))
	b.WriteString("\n")

	switch {
	case c.err != nil && !c.loaded:
		b.WriteString(m.styles.Error.Render(apperrors.UserMessage(c.err)))
	case !c.loaded:
		b.WriteString(m.styles.Muted.Render("loading..."))
	default:
		for _, s := range order {
			fmt.Fprintf(&b, "%-14s %3d\n", ux.StatusLabel(s), c.by[s])
		}
		fmt.Fprintf(&b, "%-14s %3d", "total", c.total)
		if c.err != nil {
			b.WriteString("\n")
			b.WriteString(m.styles.Error.Render("stale: " + apperrors.UserMessage(c.err)))
		}
	}
	return m.styles.Border.Render(b.String())
}

func (m Dashboard) renderHelpLine() string {
	parts := []string{}
	for _, k := range []key.Binding{keys.Refresh, keys.Quit} {
		h := k.Help()
		parts = append(parts, m.styles.Key.Render(h.Key)+" "+m.styles.Muted.Render(h.Desc))
	}
	return strings.Join(parts, "  ")
}
