package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/jarvis/pkg/jarvis/store"
)

// Event kinds of the built-in loops.
const (
	KindReminder = "reminder"
	KindAlarm    = "alarm"
)

// ReminderSource is the part of the store the reminder loop needs.
type ReminderSource interface {
	DueReminders(ctx context.Context, now time.Time) ([]store.Reminder, error)
	MarkReminderFired(ctx context.Context, id int64) error
}

// AlarmSource is the part of the store the alarm loop needs.
type AlarmSource interface {
	DueAlarms(ctx context.Context, now time.Time) ([]store.Alarm, error)
	DeactivateAlarm(ctx context.Context, id int64) error
}

// NewReminderLoop fires due reminders with their text as message.
func NewReminderLoop(src ReminderSource, events EventRecorder, schedule cron.Schedule, logger *slog.Logger) *Loop {
	return NewLoop(Domain{
		Name: KindReminder,
		Due: func(ctx context.Context, now time.Time) ([]Item, error) {
			due, err := src.DueReminders(ctx, now)
			if err != nil {
				return nil, err
			}
			items := make([]Item, len(due))
			for i, r := range due {
				items[i] = Item{ID: r.ID, Text: r.Text, RunAt: r.RunAt}
			}
			return items, nil
		},
		MarkProcessed: src.MarkReminderFired,
	}, events, schedule, logger)
}

// NewAlarmLoop fires due alarms with their label as message, or "alarm"
// when the label is empty.
func NewAlarmLoop(src AlarmSource, events EventRecorder, schedule cron.Schedule, logger *slog.Logger) *Loop {
	return NewLoop(Domain{
		Name: KindAlarm,
		Due: func(ctx context.Context, now time.Time) ([]Item, error) {
			due, err := src.DueAlarms(ctx, now)
			if err != nil {
				return nil, err
			}
			items := make([]Item, len(due))
			for i, a := range due {
				text := a.Label
				if text == "" {
					text = KindAlarm
				}
				items[i] = Item{ID: a.ID, Text: text, RunAt: a.RunAt}
			}
			return items, nil
		},
		MarkProcessed: src.DeactivateAlarm,
	}, events, schedule, logger)
}

// Group runs several loops and stops them together.
type Group struct {
	loops  []*Loop
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGroup creates a group of loops.
func NewGroup(logger *slog.Logger, loops ...*Loop) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{loops: loops, logger: logger.With("component", "scheduler")}
}

// Loops returns the loops of the group.
func (g *Group) Loops() []*Loop { return g.loops }

// Start runs every loop in its own goroutine. Calling Start twice is a no-op.
func (g *Group) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		return
	}
	ctx, g.cancel = context.WithCancel(ctx)

	for _, l := range g.loops {
		g.wg.Add(1)
		go func(l *Loop) {
			defer g.wg.Done()
			if err := l.Run(ctx); err != nil {
				g.logger.Warn("scheduler loop not started", "loop", l.Name(), "error", err)
			}
		}(l)
	}
}

// Stop cancels every loop and waits for them to return, up to timeout.
func (g *Group) Stop(timeout time.Duration) {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		g.logger.Warn("scheduler stop timed out")
	}
}
