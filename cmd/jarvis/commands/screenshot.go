package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/jarvis/pkg/jarvis/handlers"
)

// newScreenshotCmd creates `jarvis screenshot`. Used to scan the WhatsApp
// Web QR code or check a Spotify login without a visible browser.
func newScreenshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "screenshot <service>",
		Short: "Save a full-page PNG of a service's browser session",
		Example: `  jarvis screenshot whatsapp -o qr.png
  jarvis screenshot spotify`,
		Args: cobra.ExactArgs(1),
		RunE: runScreenshot,
	}

	cmd.Flags().StringP("output", "o", "", "output file (default: <service>.png)")
	cmd.Flags().Duration("timeout", 90*time.Second, "maximum time to open the session")
	return cmd
}

func runScreenshot(cmd *cobra.Command, args []string) error {
	service := args[0]

	a, logger, err := buildAssistant(cmd)
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	png, err := a.Sessions().Screenshot(ctx, service)
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		out = service + ".png"
	}
	if err := os.WriteFile(out, png, 0o600); err != nil {
		return fmt.Errorf("writing screenshot: %w", err)
	}
	fmt.Printf("Saved %s (%d bytes)\n", out, len(png))

	if s, err := a.Sessions().Session(ctx, service); err == nil {
		if ok, err := handlers.LoggedIn(ctx, service, s.Page()); err == nil && !ok {
			fmt.Printf("%s is not logged in; scan or sign in using the screenshot.\n", service)
		} else if err != nil {
			logger.Debug("login check failed", "service", service, "error", err)
		}
	}
	return nil
}
