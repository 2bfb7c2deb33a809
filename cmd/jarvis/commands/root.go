// Package commands implements the jarvis CLI using cobra.
package commands

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/jarvis/pkg/jarvis/assistant"
	"github.com/jholhewres/jarvis/pkg/jarvis/config"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jarvis",
		Short: "Jarvis - a personal assistant that drives web apps for you",
		Long: `Jarvis turns short requests into actions: playing music on Spotify,
sending WhatsApp messages, setting reminders and alarms.

Examples:
  jarvis run "pon bohemian rhapsody"
  jarvis chat
  jarvis serve --warm whatsapp
  jarvis remind add "stretch" --at 30m
  jarvis events --limit 20`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newRunCmd(),
		newEventsCmd(),
		newRemindCmd(),
		newAlarmCmd(),
		newScreenshotCmd(),
		newSetupCmd(),
		newStatusCmd(),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}

// resolveConfig loads the config named by --config, or the first one found
// in the standard locations, or the defaults.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	return config.Load(path)
}

// newLogger builds the process logger from the logging section. Logs go to
// stderr so command output stays clean.
func newLogger(cmd *cobra.Command, cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	level, err := config.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Logging.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// buildAssistant loads config, sets up logging and constructs the runtime.
// The caller owns Shutdown.
func buildAssistant(cmd *cobra.Command) (*assistant.Assistant, *slog.Logger, error) {
	cfg, path, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger(cmd, cfg, nil)
	slog.SetDefault(logger)
	if path != "" {
		logger.Debug("config loaded", "path", path)
	}

	a, err := assistant.New(cfg, assistant.Options{}, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, logger, nil
}
