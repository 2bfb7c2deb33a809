package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/jarvis/pkg/jarvis/assistant"
	"github.com/jholhewres/jarvis/pkg/jarvis/config"
)

// newStatusCmd creates `jarvis status`.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, database health and pending work",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := buildAssistant(cmd)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			printStatus(ctx, os.Stdout, a)
			return nil
		},
	}
}

func printStatus(ctx context.Context, out io.Writer, a *assistant.Assistant) {
	cfg := a.Config()
	st := a.Status(ctx)

	fmt.Fprintf(out, "%s\n", cfg.Name)
	fmt.Fprintf(out, "  data dir:     %s\n", cfg.DataDir)
	fmt.Fprintf(out, "  planner:      %s\n", cfg.Planner.Mode)

	if started, err := a.Store().KVGet(ctx, assistant.KeyStartedAt); err == nil {
		fmt.Fprintf(out, "  last start:   %s\n", started)
	}

	names := make([]string, 0, len(st.Database))
	for name := range st.Database {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h := st.Database[name]
		state := "healthy"
		if !h.Healthy {
			state = "unhealthy: " + h.Error
		}
		fmt.Fprintf(out, "  database:     %s (%s, %s)\n", name, a.Config().Database.Backend, state)
	}

	fmt.Fprintf(out, "  orchestrator: running=%t pending=%d handled=%d\n", st.Running, st.Pending, st.Handled)
	for _, name := range []string{"reminder", "alarm"} {
		if s, ok := st.Loops[name]; ok {
			fmt.Fprintf(out, "  %-13s %s\n", name+" loop:", s)
		}
	}
	fmt.Fprintf(out, "  routes:       %s\n", strings.Join(st.Routes, ", "))
	fmt.Fprintf(out, "  services:     %s\n", strings.Join(st.Services, ", "))
	if len(st.Active) > 0 {
		fmt.Fprintf(out, "  open:         %s\n", strings.Join(st.Active, ", "))
	}

	pending := 0
	if reminders, err := a.Store().ListReminders(ctx); err == nil {
		for _, r := range reminders {
			if !r.Fired {
				pending++
			}
		}
	}
	fmt.Fprintf(out, "  reminders:    %d pending\n", pending)

	discord := "not configured"
	if _, err := cfg.ResolveDiscordToken(); err == nil {
		discord = "configured"
	}
	fmt.Fprintf(out, "  discord:      %s\n", discord)
	fmt.Fprintf(out, "  keyring:      %t\n", config.KeyringAvailable())
}
