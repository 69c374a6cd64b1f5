// Package eventlog provides a scrollable overlay of the session event log.
package eventlog

import (
	"fmt"
	"strings"

	"github.com/Darkweaver2535/scrapewatch/internal/client"
	"github.com/Darkweaver2535/scrapewatch/internal/theme"
	"github.com/charmbracelet/lipgloss"
)

// Model holds the log overlay state. Events are owned by the session
// snapshot; the overlay only keeps a scroll position.
type Model struct {
	Events []client.Event
	Offset int // scroll offset (from bottom)
}

// New creates an empty log model.
func New() Model {
	return Model{}
}

// SetEvents replaces the visible log. New events keep the viewport pinned
// to the bottom unless the user scrolled up.
func (m *Model) SetEvents(events []client.Event) {
	grew := len(events) - len(m.Events)
	m.Events = events
	if m.Offset > 0 && grew > 0 {
		m.Offset += grew
	}
	m.clamp()
}

// ScrollUp moves the viewport up.
func (m *Model) ScrollUp(n int) {
	m.Offset += n
	m.clamp()
}

// ScrollDown moves the viewport down.
func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	m.clamp()
}

func (m *Model) clamp() {
	max := len(m.Events) - 1
	if max < 0 {
		max = 0
	}
	if m.Offset > max {
		m.Offset = max
	}
	if m.Offset < 0 {
		m.Offset = 0
	}
}

// panelStyle returns the shared border style for the log overlay.
func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	visibleLines := height - 6
	if visibleLines < 3 {
		visibleLines = 3
	}

	title := theme.StyleHeader.Render(" EVENT LOG ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d events", len(m.Events)))

	if len(m.Events) == 0 {
		body := theme.StyleDimmed.Render("  No events received yet.")
		content := lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help)
		return panelStyle(innerW).Render(content)
	}

	end := len(m.Events) - m.Offset
	start := end - visibleLines
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}

	var lines []string
	for i := start; i < end; i++ {
		e := m.Events[i]
		ts := "--:--:--.---"
		if !e.Timestamp.IsZero() {
			ts = e.Timestamp.Format("15:04:05.000")
		}
		tsStr := theme.StyleDimmed.Render(ts)
		kindStr := lipgloss.NewStyle().Foreground(typeColor(e.Type)).Width(18).Render(string(e.Type))
		msgStr := e.Message
		if innerW > 37 {
			msgStr = truncate(msgStr, innerW-34)
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", tsStr, kindStr, msgStr))
	}

	body := strings.Join(lines, "\n")
	scrollIndicator := ""
	if m.Offset > 0 {
		scrollIndicator = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, body, scrollIndicator, help)
	return panelStyle(innerW).Render(content)
}

func typeColor(t client.EventType) lipgloss.Color {
	switch t {
	case client.EventError:
		return theme.ColorErrored
	case client.EventCaptchaDetected, client.EventWaitingUser:
		return theme.ColorCheckpoint
	case client.EventCompleted:
		return theme.ColorComplete
	case client.EventStarted, client.EventBrowserOpening, client.EventBrowserReady:
		return theme.ColorStarting
	case client.EventVideoStarted, client.EventItemStarted, client.EventVideoCompleted, client.EventItemCompleted:
		return theme.ColorRunning
	default:
		return theme.ColorDimmed
	}
}

// truncate cuts s to at most max runes, ending in "..." when shortened.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
