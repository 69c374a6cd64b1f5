package status

import (
	"fmt"
	"strings"

	"github.com/Darkweaver2535/scrapewatch/internal/session"
	"github.com/Darkweaver2535/scrapewatch/internal/theme"
	"github.com/charmbracelet/lipgloss"
)

// Model holds the status bar state.
type Model struct {
	ResourceID string
	Session    session.Session
	Width      int
}

// New creates a status bar model.
func New(resourceID string) Model {
	return Model{ResourceID: resourceID}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	st := m.Session.Status.String()
	statusStr := lipgloss.NewStyle().Foreground(theme.StatusColor(st)).Render(
		theme.StatusGlyph(st) + " " + strings.ToUpper(strings.ReplaceAll(st, "_", " ")))

	parts := []string{statusStr, "resource " + m.ResourceID}
	if m.Session.SessionID != "" {
		parts = append(parts, "session "+shortID(m.Session.SessionID))
	}
	s := m.Session.Stats
	parts = append(parts,
		fmt.Sprintf("items %d/%d", s.ItemsProcessed, s.ItemsTotal),
		fmt.Sprintf("comments %d/%d", s.SubItemsExtracted, s.SubItemsTotal),
	)
	if s.SubItemsTotal > 0 {
		parts = append(parts, fmt.Sprintf("%.0f%%", m.Session.Progress()*100))
	}
	if s.Errors > 0 {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorDanger).Render(
			fmt.Sprintf("%d errors", s.Errors)))
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	bar := lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(strings.Join(parts, sep))

	return bar
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
