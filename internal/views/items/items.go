// Package items renders per-item extraction progress with spring-animated bars.
package items

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Darkweaver2535/scrapewatch/internal/client"
	"github.com/Darkweaver2535/scrapewatch/internal/session"
	"github.com/Darkweaver2535/scrapewatch/internal/theme"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
)

const (
	fps       = 30
	descWidth = 32
	barWidth  = 24
	// settled is the distance below which a bar snaps to its target.
	settled = 0.002
)

// FrameInterval is how often Animate should be called while Animating.
const FrameInterval = time.Second / fps

type bar struct {
	pos, vel, target float64
}

// Model holds the item list and the animation state of every bar.
type Model struct {
	Width   int
	session string
	items   []session.ItemProgress
	active  int
	bars    map[client.ItemID]*bar
	spring  harmonica.Spring
}

// New creates an empty item list.
func New() Model {
	return Model{
		bars:   make(map[client.ItemID]*bar),
		spring: harmonica.NewSpring(harmonica.FPS(fps), 6.0, 0.8),
	}
}

// SetItems replaces the rows and retargets each bar. Bars start from empty
// when sessionID changes, and bars for ids no longer listed are dropped.
func (m *Model) SetItems(sessionID string, items []session.ItemProgress, active int) {
	if sessionID != m.session {
		m.session = sessionID
		m.bars = make(map[client.ItemID]*bar)
	}
	m.items = items
	m.active = active

	listed := make(map[client.ItemID]bool, len(items))
	for _, it := range items {
		listed[it.ID] = true
	}
	for id := range m.bars {
		if !listed[id] {
			delete(m.bars, id)
		}
	}

	for _, it := range items {
		b, ok := m.bars[it.ID]
		if !ok {
			b = &bar{}
			m.bars[it.ID] = b
		}
		b.target = fraction(it)
	}
}

// Animate advances every bar one frame.
func (m *Model) Animate() {
	for _, b := range m.bars {
		b.pos, b.vel = m.spring.Update(b.pos, b.vel, b.target)
		if math.Abs(b.target-b.pos) < settled && math.Abs(b.vel) < settled {
			b.pos, b.vel = b.target, 0
		}
	}
}

// Animating reports whether any bar is still moving.
func (m Model) Animating() bool {
	for _, b := range m.bars {
		if b.pos != b.target || b.vel != 0 {
			return true
		}
	}
	return false
}

// View renders one row per item.
func (m Model) View() string {
	if len(m.items) == 0 {
		return theme.StyleDimmed.Render("  No items discovered yet")
	}

	var lines []string
	for i, it := range m.items {
		prefix := "  "
		if i+1 == m.active {
			prefix = "> "
		}
		desc := truncate(it.Description, descWidth)
		if desc == "" {
			desc = string(it.ID)
		}
		pos := 0.0
		if b, ok := m.bars[it.ID]; ok {
			pos = b.pos
		}
		count := fmt.Sprintf("%d/%d", it.SubItemsExtracted, it.SubItemsExpected)
		lines = append(lines, fmt.Sprintf("%s%-*s %s %s",
			prefix, descWidth, desc, renderBar(pos, fraction(it)), theme.StyleDimmed.Render(count)))
	}
	return strings.Join(lines, "\n")
}

func fraction(it session.ItemProgress) float64 {
	if it.SubItemsExpected <= 0 {
		return 0
	}
	f := float64(it.SubItemsExtracted) / float64(it.SubItemsExpected)
	if f > 1 {
		f = 1
	}
	return f
}

func renderBar(pos, target float64) string {
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	filled := int(math.Round(pos * barWidth))
	style := lipgloss.NewStyle().Foreground(theme.ProgressColor(target))
	return style.Render(strings.Repeat("█", filled)) +
		theme.StyleDimmed.Render(strings.Repeat("░", barWidth-filled))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
