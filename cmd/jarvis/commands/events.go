package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/jarvis/pkg/jarvis/planner"
	"github.com/jholhewres/jarvis/pkg/jarvis/store"
)

// newEventsCmd creates `jarvis events`.
func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the latest events, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := buildAssistant(cmd)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			limit, _ := cmd.Flags().GetInt("limit")
			return printEvents(cmd.Context(), os.Stdout, a.Store(), limit)
		},
	}

	cmd.Flags().IntP("limit", "n", store.DefaultEventLimit, "number of events to show")
	return cmd
}

func printEvents(ctx context.Context, out io.Writer, s *store.Store, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	events, err := s.ListEvents(ctx, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No events yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tKIND\tMESSAGE")
	for _, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.ID, e.Timestamp.Local().Format(time.DateTime), e.Kind, e.Message)
	}
	return w.Flush()
}

// lastEventID returns the highest event id, or 0 when there are none.
func lastEventID(ctx context.Context, s *store.Store) (int64, error) {
	events, err := s.ListEvents(ctx, 1)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	return events[0].ID, nil
}

// eventsAfter returns events newer than id, oldest first.
func eventsAfter(ctx context.Context, s *store.Store, id int64) ([]store.Event, error) {
	events, err := s.ListEvents(ctx, 500)
	if err != nil {
		return nil, err
	}
	var out []store.Event
	for _, e := range events {
		if e.ID > id {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func parsePlanArg(text string) (planner.Plan, error) {
	plan, err := planner.ParsePlan(text)
	if err != nil {
		return planner.Plan{}, fmt.Errorf("--plan: %w", err)
	}
	return plan, nil
}
