// Package checkpoint renders the manual-action panel shown while a session
// waits for the user to solve a CAPTCHA out of band.
package checkpoint

import (
	"strings"

	"github.com/Darkweaver2535/scrapewatch/internal/theme"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const defaultMessage = "The scraper is waiting for manual action in the browser window."

var stylePanel = lipgloss.NewStyle().
	BorderStyle(lipgloss.RoundedBorder()).
	BorderForeground(theme.ColorCheckpoint).
	Padding(0, 1)

// View renders message as markdown inside a highlighted panel. Rendering
// failures fall back to the plain text.
func View(message string, width int) string {
	if width < 40 {
		width = 40
	}
	if strings.TrimSpace(message) == "" {
		message = defaultMessage
	}

	body := message
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width-6),
	)
	if err == nil {
		if out, err := r.Render(message); err == nil {
			body = strings.Trim(out, "\n")
		}
	}

	title := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorCheckpoint).Render("ACTION REQUIRED")
	help := theme.StyleDimmed.Render("c: continue once solved   x: cancel session")
	return stylePanel.Width(width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, title, body, help))
}
