package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/jarvis/pkg/jarvis/assistant"
)

// newChatCmd creates the `jarvis chat` interactive prompt.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive prompt",
		Long: `Start an interactive session. Every line is planned and its
actions are queued while the orchestrator runs in the background.

Commands inside the prompt:
  /events   show the latest events
  /status   show queue and session state
  /quit     leave`,
		Args: cobra.NoArgs,
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	a, _, err := buildAssistant(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = a.Shutdown(shutdownCtx)
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36myou>\033[0m ",
		HistoryFile:     filepath.Join(a.Config().DataDir, ".chat_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("init prompt: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintf(out, "%s is listening. Type /quit to leave.\n", a.Config().Name)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/events":
			if err := printEvents(ctx, out, a.Store(), 10); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			continue
		case "/status":
			printStatus(ctx, out, a)
			continue
		}

		chatTurn(ctx, out, a, line)
	}
}

func chatTurn(ctx context.Context, out io.Writer, a *assistant.Assistant, line string) {
	plan, sub, err := a.Ask(ctx, line)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}

	reply := plan.Response
	if reply == "" {
		reply = "(no response)"
	}
	fmt.Fprintf(out, "\033[33m%s>\033[0m %s\n", strings.ToLower(a.Config().Name), reply)
	for _, act := range sub.Enqueued {
		fmt.Fprintf(out, "  queued %s\n", act)
	}
	for _, e := range sub.Rejected {
		fmt.Fprintf(out, "  rejected: %v\n", e)
	}
}
