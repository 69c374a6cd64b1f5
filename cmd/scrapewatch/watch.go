package main

import (
	"fmt"
	"io"

	"github.com/Darkweaver2535/scrapewatch/internal/app"
	"github.com/Darkweaver2535/scrapewatch/internal/client"
	"github.com/Darkweaver2535/scrapewatch/internal/logger"
	"github.com/Darkweaver2535/scrapewatch/internal/session"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var noStart bool
	cmd := &cobra.Command{
		Use:   "watch <resourceId>",
		Short: "Start a session and follow it in an interactive monitor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// The TUI owns the terminal, so logs only go to a file.
			closeLog, err := setupLogging(cfg, io.Discard)
			if err != nil {
				return err
			}
			defer closeLog()

			api := client.NewHTTPClient(cfg.API.BaseURL, cfg.API.Token, cfg.API.Timeout)
			stream := newStream(cfg, api, logger.Component("stream"))
			ctrl := session.NewController(api, stream, session.WithLogger(logger.Component("controller")))
			defer ctrl.Close()

			p := tea.NewProgram(app.New(ctrl, args[0], !noStart), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("running monitor: %w", err)
			}

			// Leaving the monitor stops the remote job too.
			if ctrl.Snapshot().Status.IsActive() {
				return ctrl.Cancel()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noStart, "no-start", false, "Open the monitor without starting a session")
	return cmd
}
