package main

import (
	"fmt"
	"os"

	"github.com/Darkweaver2535/scrapewatch/internal/session"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newReplayCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "replay <file.ndjson>",
		Short: "Rebuild the final session state from a recorded event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			events, err := session.ReadLog(f)
			if err != nil {
				return err
			}
			s := session.Replay(sessionID, events)

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(s); err != nil {
				return fmt.Errorf("encoding state: %w", err)
			}
			if err := enc.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %d events replayed\n", len(events))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session id to record in the output")
	return cmd
}
