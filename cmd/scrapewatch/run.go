package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Darkweaver2535/scrapewatch/internal/client"
	"github.com/Darkweaver2535/scrapewatch/internal/logger"
	"github.com/Darkweaver2535/scrapewatch/internal/recovery"
	"github.com/Darkweaver2535/scrapewatch/internal/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Exit statuses of the run command.
const (
	exitFailed    = 1
	exitCancelled = 2
)

func newRunCmd() *cobra.Command {
	var recordPath string
	cmd := &cobra.Command{
		Use:   "run <resourceId>",
		Short: "Run a session headless, prompting on stdin at checkpoints",
		Args:  cobra.ExactArgs(1),
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			api := client.NewHTTPClient(cfg.API.BaseURL, cfg.API.Token, cfg.API.Timeout)
			stream := newStream(cfg, api, logger.Component("stream"))
			ctrl := session.NewController(api, stream, session.WithLogger(logger.Component("controller")))
			defer ctrl.Close()

			final, err := runHeadless(ctx, ctrl, args[0], os.Stdin, cmd.OutOrStdout(), logger.Component("run"))
			if err != nil {
				return err
			}

			if recordPath != "" {
				if err := recordLog(recordPath, final.Log); err != nil {
					return err
				}
			}

			return exitFor(final.Status)
		},
	}
	cmd.Flags().StringVar(&recordPath, "record", "", "Write the session event log to this NDJSON file")
	return cmd
}

// exitFor maps a finished session onto the command's exit status.
func exitFor(status session.Status) error {
	switch status {
	case session.Complete:
		return nil
	case session.Error:
		return &exitError{code: exitFailed}
	default:
		return &exitError{code: exitCancelled}
	}
}

// runHeadless starts a session and follows it until it is no longer active.
// Each time the session pauses at a checkpoint it prints the instructions and
// waits for a line on in: an empty line continues, "cancel" cancels. "cancel"
// is also honoured outside a checkpoint. Once in is exhausted, checkpoints
// are continued without asking. ctx ending cancels the session.
func runHeadless(ctx context.Context, ctrl *session.Controller, resourceID string, in io.Reader, out io.Writer, log zerolog.Logger) (session.Session, error) {
	if err := ctrl.Start(resourceID); err != nil {
		return session.Session{}, err
	}
	// Subscribing after Start means the first snapshot is already this run.
	snaps, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	defer close(done)
	lines := readLines(in, done, log)

	var (
		prev     = session.Idle
		waiting  bool
		prompted bool
		// promptFor is the checkpoint message last shown. Snapshots coalesce,
		// so a resolved-then-new checkpoint can arrive without a Running
		// snapshot in between.
		promptFor string
	)

	for {
		select {
		case <-ctx.Done():
			log.Warn().Msg("interrupted, cancelling session")
			if err := ctrl.Cancel(); err != nil {
				return ctrl.Snapshot(), err
			}
			s := ctrl.Snapshot()
			printSummary(out, s)
			return s, nil

		case line, ok := <-lines:
			if !ok {
				lines = nil
				if waiting {
					log.Warn().Msg("stdin closed, continuing past checkpoint")
					if err := ctrl.ContinueAfterCheckpoint(); err != nil {
						return ctrl.Snapshot(), err
					}
				}
				continue
			}
			if strings.EqualFold(strings.TrimSpace(line), "cancel") {
				if err := ctrl.Cancel(); err != nil {
					return ctrl.Snapshot(), err
				}
				continue
			}
			// Lines typed while no checkpoint is pending are ignored.
			if waiting {
				if err := ctrl.ContinueAfterCheckpoint(); err != nil {
					return ctrl.Snapshot(), err
				}
			}

		case s, ok := <-snaps:
			if !ok {
				return ctrl.Snapshot(), session.ErrControllerClosed
			}
			if s.Status != prev {
				log.Info().
					Str("status", s.Status.String()).
					Str("session", s.SessionID).
					Int("items", s.Stats.ItemsProcessed).
					Int("extracted", s.Stats.SubItemsExtracted).
					Msg("session update")
				prev = s.Status
			}
			if !s.Status.IsActive() {
				printSummary(out, s)
				return s, nil
			}

			waiting = s.Status == session.WaitingForCheckpoint
			if !waiting {
				// The server may resolve a checkpoint on its own; the next
				// one gets a fresh prompt.
				prompted = false
				continue
			}
			if prompted && s.CheckpointMessage == promptFor {
				continue
			}
			prompted, promptFor = true, s.CheckpointMessage
			if lines == nil {
				log.Warn().Msg("stdin closed, continuing past checkpoint")
				if err := ctrl.ContinueAfterCheckpoint(); err != nil {
					return s, err
				}
				continue
			}
			fmt.Fprintf(out, "\n%s\nPress Enter to continue or type 'cancel': ", s.CheckpointMessage)
		}
	}
}

// readLines forwards lines from in until EOF or until done is closed, then
// closes the returned channel. A read already blocked on a terminal cannot be
// interrupted; the goroutine exits at the next line instead of blocking on
// a send nobody will receive.
func readLines(in io.Reader, done <-chan struct{}, log zerolog.Logger) <-chan string {
	ch := make(chan string)
	recovery.SafeGo(log, "stdin-reader", func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-done:
				return
			}
		}
	})
	return ch
}

func printSummary(out io.Writer, s session.Session) {
	switch s.Status {
	case session.Complete:
		fmt.Fprintf(out, "completed: %d/%d items, %d/%d comments, %d errors\n",
			s.Stats.ItemsProcessed, s.Stats.ItemsTotal,
			s.Stats.SubItemsExtracted, s.Stats.SubItemsTotal, s.Stats.Errors)
	case session.Error:
		fmt.Fprintf(out, "failed: %s\n", s.ErrorMessage)
	default:
		fmt.Fprintln(out, "cancelled")
	}
}

func recordLog(path string, events []client.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating record file: %w", err)
	}
	defer f.Close()
	return session.WriteLog(f, events)
}
