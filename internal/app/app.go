// Package app is the root Bubble Tea model of the interactive monitor.
package app

import (
	"errors"
	"time"

	"github.com/Darkweaver2535/scrapewatch/internal/session"
	"github.com/Darkweaver2535/scrapewatch/internal/theme"
	"github.com/Darkweaver2535/scrapewatch/internal/views/checkpoint"
	"github.com/Darkweaver2535/scrapewatch/internal/views/eventlog"
	"github.com/Darkweaver2535/scrapewatch/internal/views/items"
	"github.com/Darkweaver2535/scrapewatch/internal/views/status"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Controller is the part of *session.Controller the UI drives.
type Controller interface {
	Start(resourceID string) error
	ContinueAfterCheckpoint() error
	Cancel() error
	Subscribe() (<-chan session.Session, func())
}

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayLog
)

// snapshotMsg carries a session snapshot from the controller.
type snapshotMsg struct {
	Session session.Session
}

// closedMsg reports that the controller closed the subscription.
type closedMsg struct{}

// frameMsg drives the progress bar animation.
type frameMsg time.Time

// commandErrMsg reports a command the controller rejected.
type commandErrMsg struct {
	err error
}

// Model is the root Bubble Tea model.
type Model struct {
	ctrl        Controller
	resourceID  string
	autoStart   bool
	sub         <-chan session.Session
	unsubscribe func()

	keys   KeyMap
	help   help.Model
	width  int
	height int

	current   session.Session
	overlay   Overlay
	animating bool
	notice    string
	closed    bool

	// Sub-views.
	statusBar status.Model
	items     items.Model
	log       eventlog.Model
}

// New creates the root model and subscribes to ctrl. When autoStart is set
// the session for resourceID starts as soon as the program runs.
func New(ctrl Controller, resourceID string, autoStart bool) Model {
	sub, unsubscribe := ctrl.Subscribe()
	return Model{
		ctrl:        ctrl,
		resourceID:  resourceID,
		autoStart:   autoStart,
		sub:         sub,
		unsubscribe: unsubscribe,
		keys:        DefaultKeyMap(),
		help:        help.New(),
		statusBar:   status.New(resourceID),
		items:       items.New(),
		log:         eventlog.New(),
	}
}

// Init waits for the first snapshot and optionally starts the session.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{waitForSnapshot(m.sub)}
	if m.autoStart {
		cmds = append(cmds, m.startCmd())
	}
	return tea.Batch(cmds...)
}

func waitForSnapshot(sub <-chan session.Session) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-sub
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg{Session: s}
	}
}

func frameTick() tea.Cmd {
	return tea.Tick(items.FrameInterval, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.items.Width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case snapshotMsg:
		return m.applySnapshot(msg.Session)

	case closedMsg:
		m.closed = true
		return m, nil

	case frameMsg:
		m.items.Animate()
		if m.items.Animating() {
			return m, frameTick()
		}
		m.animating = false
		return m, nil

	case commandErrMsg:
		m.notice = msg.err.Error()
		return m, nil
	}

	return m, nil
}

func (m Model) applySnapshot(s session.Session) (tea.Model, tea.Cmd) {
	m.current = s
	m.statusBar.Session = s
	if s.ResourceID != "" {
		m.statusBar.ResourceID = s.ResourceID
	}
	m.items.SetItems(s.SessionID, s.Items, s.ActiveItem)
	m.log.SetEvents(s.Log)
	if s.Status.IsActive() {
		m.notice = ""
	}

	cmds := []tea.Cmd{waitForSnapshot(m.sub)}
	if !m.animating && m.items.Animating() {
		m.animating = true
		cmds = append(cmds, frameTick())
	}
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.unsubscribe()
		return m, tea.Quit
	}

	if m.overlay == OverlayLog {
		switch {
		case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Log):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Up):
			m.log.ScrollUp(1)
		case key.Matches(msg, m.keys.Down):
			m.log.ScrollDown(1)
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Start):
		return m, m.startCmd()

	case key.Matches(msg, m.keys.Continue):
		return m, m.continueCmd()

	case key.Matches(msg, m.keys.Cancel):
		return m, m.cancelCmd()

	case key.Matches(msg, m.keys.Log):
		m.overlay = OverlayLog
		return m, nil
	}

	return m, nil
}

func (m Model) startCmd() tea.Cmd {
	ctrl, resourceID := m.ctrl, m.resourceID
	return func() tea.Msg {
		if err := ctrl.Start(resourceID); err != nil {
			if errors.Is(err, session.ErrSessionActive) {
				return commandErrMsg{err: errors.New("a session is already running; press x to cancel it first")}
			}
			return commandErrMsg{err: err}
		}
		return nil
	}
}

func (m Model) continueCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.ContinueAfterCheckpoint(); err != nil {
			return commandErrMsg{err: err}
		}
		return nil
	}
}

func (m Model) cancelCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.Cancel(); err != nil {
			return commandErrMsg{err: err}
		}
		return nil
	}
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.overlay == OverlayLog {
		return m.log.View(m.width, m.height)
	}

	sections := []string{
		m.statusBar.View(),
		theme.StyleHeader.Render(" ITEMS"),
		m.items.View(),
	}

	switch m.current.Status {
	case session.WaitingForCheckpoint:
		sections = append(sections, "", checkpoint.View(m.current.CheckpointMessage, m.width))
	case session.Error:
		sections = append(sections, "", lipgloss.NewStyle().Foreground(theme.ColorErrored).Render(
			"  ✗ "+m.current.ErrorMessage))
	case session.Complete:
		sections = append(sections, "", lipgloss.NewStyle().Foreground(theme.ColorComplete).Render(
			"  ✓ Scraping finished"))
	case session.Idle:
		if len(m.current.Log) > 0 {
			sections = append(sections, "", theme.StyleDimmed.Render("  Session cancelled. Press s to start again."))
		} else {
			sections = append(sections, "", theme.StyleDimmed.Render("  Press s to start scraping "+m.resourceID))
		}
	}

	if m.notice != "" {
		sections = append(sections, lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("  "+m.notice))
	}
	if m.closed {
		sections = append(sections, theme.StyleDimmed.Render("  controller stopped"))
	}
	sections = append(sections, "", m.help.View(m.keys))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
