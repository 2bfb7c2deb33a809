package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/jarvis/pkg/jarvis/orchestrator"
)

// newRunCmd creates `jarvis run`, a one-shot request.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <text>",
		Short: "Plan a request, run its actions and exit",
		Long: `Plan the given text, dispatch every resulting action and wait
until the queue is drained. Exits non-zero if any action failed.

Examples:
  jarvis run "pon lofi beats"
  jarvis run "manda a Ana llego tarde"
  jarvis run --plan '{"actions":[{"name":"alarm.add","args":{"run_at":"07:00"}}]}'`,
		Args: cobra.ArbitraryArgs,
		RunE: runRun,
	}

	cmd.Flags().Duration("timeout", 3*time.Minute, "maximum time to wait for the queue to drain")
	cmd.Flags().Bool("plan", false, "treat the text as a JSON plan instead of planning it")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("nothing to run")
	}

	a, _, err := buildAssistant(cmd)
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	before, err := lastEventID(ctx, a.Store())
	if err != nil {
		return err
	}

	if err := a.Start(ctx); err != nil {
		return err
	}

	var response string
	if asPlan, _ := cmd.Flags().GetBool("plan"); asPlan {
		plan, err := parsePlanArg(text)
		if err != nil {
			return err
		}
		response = a.Submit(ctx, plan).Response
	} else {
		plan, _, err := a.Ask(ctx, text)
		if err != nil {
			return err
		}
		response = plan.Response
	}
	if response != "" {
		fmt.Println(response)
	}

	if err := a.Drain(ctx); err != nil {
		return fmt.Errorf("waiting for actions: %w", err)
	}

	events, err := eventsAfter(ctx, a.Store(), before)
	if err != nil {
		return err
	}

	failed := 0
	for _, e := range events {
		switch e.Kind {
		case orchestrator.EventActionOK:
			fmt.Printf("ok    %s\n", e.Message)
		case orchestrator.EventActionErr:
			failed++
			fmt.Fprintf(os.Stderr, "error %s\n", e.Message)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d action(s) failed", failed)
	}
	return nil
}
