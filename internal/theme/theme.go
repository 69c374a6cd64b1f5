// Package theme provides the Lip Gloss color palette and reusable styles
// for the scrapewatch TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Status colors.
var (
	ColorIdle       = lipgloss.Color("#4b5563")
	ColorStarting   = lipgloss.Color("#7c3aed")
	ColorRunning    = lipgloss.Color("#2563eb")
	ColorCheckpoint = lipgloss.Color("#d97706")
	ColorComplete   = lipgloss.Color("#16a34a")
	ColorErrored    = lipgloss.Color("#dc2626")
	ColorDefault    = lipgloss.Color("#9ca3af")
)

// Progress bar thresholds.
var (
	ColorProgressLow  = lipgloss.Color("#d97706") // <50%
	ColorProgressMid  = lipgloss.Color("#2563eb") // 50-99%
	ColorProgressDone = lipgloss.Color("#22c55e") // 100%
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// StatusColor returns the Lip Gloss color for a session status string.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "idle":
		return ColorIdle
	case "starting":
		return ColorStarting
	case "running":
		return ColorRunning
	case "waiting_for_checkpoint":
		return ColorCheckpoint
	case "complete":
		return ColorComplete
	case "error":
		return ColorErrored
	default:
		return ColorDefault
	}
}

// StatusGlyph returns a Unicode glyph representing a session status.
func StatusGlyph(status string) string {
	switch status {
	case "idle":
		return "○"
	case "starting":
		return "◎"
	case "running":
		return "●>"
	case "waiting_for_checkpoint":
		return "◌"
	case "complete":
		return "✓"
	case "error":
		return "✗"
	default:
		return "·"
	}
}

// ProgressColor returns the bar color for a completion fraction.
func ProgressColor(pct float64) lipgloss.Color {
	switch {
	case pct >= 1:
		return ColorProgressDone
	case pct >= 0.5:
		return ColorProgressMid
	default:
		return ColorProgressLow
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)
)
