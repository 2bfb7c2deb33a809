package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// newServeCmd creates the `jarvis serve` command that runs the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator and the reminder/alarm loops",
		Long: `Start Jarvis as a long-running process. Queued actions are
dispatched and due reminders and alarms fire until the process receives
SIGINT or SIGTERM.

Examples:
  jarvis serve
  jarvis serve --warm whatsapp,spotify`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("warm", nil, "services to open at startup (e.g. whatsapp,spotify)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, logger, err := buildAssistant(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	if warm, _ := cmd.Flags().GetStringSlice("warm"); len(warm) > 0 {
		if err := a.Warm(ctx, warm...); err != nil {
			logger.Warn("some services could not be opened", "error", err)
		} else {
			logger.Info("services ready", "services", warm)
		}
	}

	logger.Info("Jarvis running. Press Ctrl+C to stop.",
		"name", a.Config().Name,
		"data_dir", a.Config().DataDir,
	)
	<-ctx.Done()
	logger.Info("shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Shutdown(shutdownCtx) }()

	select {
	case err := <-done:
		if err != nil {
			logger.Warn("shutdown completed with errors", "error", err)
		}
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		os.Exit(1)
	}
	return nil
}
