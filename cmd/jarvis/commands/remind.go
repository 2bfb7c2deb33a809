package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/jarvis/pkg/jarvis/action"
)

// newRemindCmd creates `jarvis remind add|list`.
func newRemindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Manage reminders",
	}

	add := &cobra.Command{
		Use:   "add <text>",
		Short: "Add a reminder",
		Long: `Add a reminder. --at accepts a duration (30m, 1h30m), a clock time
(15:04, today or tomorrow), "2006-01-02 15:04", RFC 3339 or Unix seconds.

Examples:
  jarvis remind add "take the pizza out" --at 12m
  jarvis remind add "standup" --at 09:55`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, _ := cmd.Flags().GetString("at")
			runAt, err := action.ParseWhen(at, time.Now())
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}

			a, _, err := buildAssistant(cmd)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			text := strings.Join(args, " ")
			id, err := a.Store().AddReminder(cmd.Context(), text, runAt)
			if err != nil {
				return err
			}
			fmt.Printf("Reminder #%d set for %s\n", id, runAt.Local().Format(time.DateTime))
			return nil
		},
	}
	add.Flags().String("at", "", "when to fire")
	_ = add.MarkFlagRequired("at")

	list := &cobra.Command{
		Use:   "list",
		Short: "List reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := buildAssistant(cmd)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			reminders, err := a.Store().ListReminders(cmd.Context())
			if err != nil {
				return err
			}
			if len(reminders) == 0 {
				fmt.Println("No reminders.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tRUN AT\tSTATE\tTEXT")
			for _, r := range reminders {
				state := "pending"
				if r.Fired {
					state = "fired"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.ID, r.RunAt.Local().Format(time.DateTime), state, r.Text)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

// newAlarmCmd creates `jarvis alarm add|list`.
func newAlarmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alarm",
		Short: "Manage alarms",
	}

	add := &cobra.Command{
		Use:   "add <when>",
		Short: "Add an alarm",
		Long: `Add an alarm. <when> accepts the same formats as remind --at.

Examples:
  jarvis alarm add 07:00 --label "wake up"
  jarvis alarm add 25m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runAt, err := action.ParseWhen(args[0], time.Now())
			if err != nil {
				return err
			}

			a, _, err := buildAssistant(cmd)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			label, _ := cmd.Flags().GetString("label")
			id, err := a.Store().AddAlarm(cmd.Context(), label, runAt)
			if err != nil {
				return err
			}
			fmt.Printf("Alarm #%d set for %s\n", id, runAt.Local().Format(time.DateTime))
			return nil
		},
	}
	add.Flags().StringP("label", "l", "", "label shown when the alarm fires")

	list := &cobra.Command{
		Use:   "list",
		Short: "List alarms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := buildAssistant(cmd)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			alarms, err := a.Store().ListAlarms(cmd.Context())
			if err != nil {
				return err
			}
			if len(alarms) == 0 {
				fmt.Println("No alarms.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tRUN AT\tSTATE\tLABEL")
			for _, al := range alarms {
				state := "done"
				if al.Active {
					state = "active"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", al.ID, al.RunAt.Local().Format(time.DateTime), state, al.Label)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}
