package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Darkweaver2535/scrapewatch/internal/logger"
	"github.com/Darkweaver2535/scrapewatch/internal/mock"
	"github.com/spf13/cobra"
)

func newMockServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve a scripted job API for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer closeLog()

			if fl := cmd.Flags().Lookup("port"); fl.Changed {
				cfg.Mock.Port, _ = cmd.Flags().GetInt("port")
			}
			if fl := cmd.Flags().Lookup("tick"); fl.Changed {
				cfg.Mock.Tick, _ = cmd.Flags().GetDuration("tick")
			}
			if fl := cmd.Flags().Lookup("scenario"); fl.Changed {
				cfg.Mock.Scenario, _ = cmd.Flags().GetString("scenario")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := mock.NewServer(mock.ParseScenario(cfg.Mock.Scenario), cfg.Mock.Tick, cfg.API.Token, logger.Component("mock"))
			return mock.ListenAndServe(ctx, srv, cfg.Mock.Host, cfg.Mock.Port)
		},
	}
	cmd.Flags().Int("port", 0, "Override mock.port")
	cmd.Flags().Duration("tick", 0, "Override mock.tick (delay between events)")
	cmd.Flags().String("scenario", "", "Override mock.scenario: checkpoint, happy, failure")
	return cmd
}
