// Package handlers implements the actions the assistant can execute and
// registers them in the orchestrator's dispatch table.
//
//	spotify.play   ──▶ spotify session  ──▶ search + play
//	whatsapp.send  ──▶ whatsapp session ──▶ open chat + type message
//	reminder.add   ──▶ store
//	alarm.add      ──▶ store
//	discord.send   ──▶ Discord REST API
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/action"
	"github.com/jholhewres/jarvis/pkg/jarvis/browser"
	"github.com/jholhewres/jarvis/pkg/jarvis/orchestrator"
)

// ReminderStore persists reminders and alarms.
type ReminderStore interface {
	AddReminder(ctx context.Context, text string, runAt time.Time) (int64, error)
	AddAlarm(ctx context.Context, label string, runAt time.Time) (int64, error)
}

// MessageSender delivers a text message to a chat channel.
type MessageSender interface {
	Send(ctx context.Context, channelID, message string) error
}

// Options tunes the browser automation.
type Options struct {
	// Settle is the pause after typing into a search box, giving the page
	// time to render results (default: 1.2s).
	Settle time.Duration

	// WaitTimeout bounds the wait for each candidate selector (default: 4s).
	WaitTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Settle <= 0 {
		o.Settle = 1200 * time.Millisecond
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 4 * time.Second
	}
	return o
}

// Deps are the collaborators of the non-browser handlers.
type Deps struct {
	Store   ReminderStore
	Discord MessageSender
	Options Options
	Logger  *slog.Logger

	// Services maps service name to its configured landing URL.
	Services map[string]string
}

// errWrongPayload is returned when a route receives a payload of another kind.
var errWrongPayload = errors.New("unexpected payload")

// Register adds every built-in route to table.
func Register(table *orchestrator.Table, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "handlers")
	opts := deps.Options.withDefaults()

	spotify := &Spotify{opts: opts, logger: logger}
	whatsapp := &WhatsApp{opts: opts, logger: logger, url: deps.Services[browser.ServiceWhatsApp]}

	table.Register(action.KindSpotifyPlay, orchestrator.Route{
		Service: browser.ServiceSpotify,
		Handle: func(ctx context.Context, s *browser.Session, p action.Payload) error {
			play, ok := p.(action.SpotifyPlay)
			if !ok {
				return fmt.Errorf("%w %T", errWrongPayload, p)
			}
			return spotify.Play(ctx, s.Page(), play.Query)
		},
	})

	table.Register(action.KindWhatsAppSend, orchestrator.Route{
		Service: browser.ServiceWhatsApp,
		Handle: func(ctx context.Context, s *browser.Session, p action.Payload) error {
			send, ok := p.(action.WhatsAppSend)
			if !ok {
				return fmt.Errorf("%w %T", errWrongPayload, p)
			}
			return whatsapp.Send(ctx, s.Page(), send.Contact, send.Message)
		},
	})

	table.Register(action.KindReminderAdd, orchestrator.Route{
		Handle: func(ctx context.Context, _ *browser.Session, p action.Payload) error {
			add, ok := p.(action.ReminderAdd)
			if !ok {
				return fmt.Errorf("%w %T", errWrongPayload, p)
			}
			if deps.Store == nil {
				return errors.New("reminder store not configured")
			}
			id, err := deps.Store.AddReminder(ctx, add.Text, add.RunAt)
			if err != nil {
				return err
			}
			logger.Info("reminder added", "id", id, "run_at", add.RunAt.Format(time.RFC3339))
			return nil
		},
	})

	table.Register(action.KindAlarmAdd, orchestrator.Route{
		Handle: func(ctx context.Context, _ *browser.Session, p action.Payload) error {
			add, ok := p.(action.AlarmAdd)
			if !ok {
				return fmt.Errorf("%w %T", errWrongPayload, p)
			}
			if deps.Store == nil {
				return errors.New("alarm store not configured")
			}
			id, err := deps.Store.AddAlarm(ctx, add.Label, add.RunAt)
			if err != nil {
				return err
			}
			logger.Info("alarm added", "id", id, "label", add.Label, "run_at", add.RunAt.Format(time.RFC3339))
			return nil
		},
	})

	table.Register(action.KindDiscordSend, orchestrator.Route{
		Handle: func(ctx context.Context, _ *browser.Session, p action.Payload) error {
			send, ok := p.(action.DiscordSend)
			if !ok {
				return fmt.Errorf("%w %T", errWrongPayload, p)
			}
			if deps.Discord == nil {
				return errors.New("discord is not configured")
			}
			return deps.Discord.Send(ctx, send.ChannelID, send.Message)
		},
	})
}

// NewTable builds a dispatch table with every built-in route.
func NewTable(sessions orchestrator.SessionProvider, deps Deps) *orchestrator.Table {
	table := orchestrator.NewTable(sessions)
	Register(table, deps)
	return table
}

// firstMatch waits for each selector in turn and returns the first present.
func firstMatch(ctx context.Context, page browser.Page, selectors []string, timeout time.Duration) (string, bool) {
	for _, sel := range selectors {
		if err := page.WaitFor(ctx, sel, timeout); err == nil {
			return sel, true
		}
		if ctx.Err() != nil {
			return "", false
		}
	}
	return "", false
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
