package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"coachvoice/internal/bootstrap"
	"coachvoice/internal/logging"
	"coachvoice/internal/usecase"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		sessionID  string
		noComplete bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a live voice session until interrupted",
		Long: `Connect the microphone and speaker to a voice coaching session.

The session runs until Ctrl-C or until the connection ends. On Ctrl-C the
session is marked completed on the backend unless --no-complete is set.

Examples:
  coachvoice run --session 3f2c9a
  coachvoice run --session 3f2c9a --no-complete --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID = strings.TrimSpace(sessionID)
			if sessionID == "" {
				return errors.New("--session is required")
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log)
			sink := newLogSink(log)

			services, err := bootstrap.BuildWithConfig(cfg, log, sink)
			if err != nil {
				return err
			}
			controller := services.Controller

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := controller.Start(ctx, sessionID); err != nil {
				return fmt.Errorf("start session: %w", err)
			}

			interrupted := false
			select {
			case <-ctx.Done():
				interrupted = true
			case <-sink.Ended():
			}

			if interrupted && !noComplete {
				err = controller.Disconnect(context.Background())
				if errors.Is(err, usecase.ErrNoActiveSession) {
					err = nil
				}
			} else {
				controller.Cleanup()
			}
			controller.WaitIdle()
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "backend session id to join")
	cmd.Flags().BoolVar(&noComplete, "no-complete", false, "leave the session open on the backend when interrupted")
	return cmd
}
