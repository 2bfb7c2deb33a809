// Package scheduler runs the periodic loops that fire due reminders and
// alarms. Each loop polls the store on its own schedule, marks due items
// processed, and records one event per firing. Loops never touch the
// orchestrator queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule is the polling schedule used when none is configured.
const DefaultSchedule = "@every 5s"

// ErrLoopUsed is returned by Run on a loop that already ran. Stopped loops
// cannot be restarted; build a new one instead.
var ErrLoopUsed = errors.New("scheduler loop already used")

// State is the lifecycle state of a Loop.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Item is a due reminder or alarm.
type Item struct {
	ID    int64
	Text  string
	RunAt time.Time
}

// Domain describes what a loop polls and how it marks items processed.
type Domain struct {
	// Name is the event kind of a firing ("reminder", "alarm"). Failures
	// are recorded as "<Name>.err".
	Name string

	// Due returns unprocessed items with RunAt <= now, oldest first.
	Due func(ctx context.Context, now time.Time) ([]Item, error)

	// MarkProcessed flips the item's fired/active flag.
	MarkProcessed func(ctx context.Context, id int64) error
}

// EventRecorder appends events.
type EventRecorder interface {
	AppendEvent(ctx context.Context, ts time.Time, kind, message string) error
}

// ParseSchedule parses a cron spec or descriptor such as "@every 5s".
// An empty spec yields DefaultSchedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Loop polls one domain. Its states are idle → running → stopped.
type Loop struct {
	domain   Domain
	events   EventRecorder
	schedule cron.Schedule
	logger   *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	mu    sync.Mutex
	state State
	ticks uint64
	fired uint64
}

// NewLoop creates an idle loop.
func NewLoop(domain Domain, events EventRecorder, schedule cron.Schedule, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == nil {
		schedule, _ = ParseSchedule(DefaultSchedule)
	}
	return &Loop{
		domain:   domain,
		events:   events,
		schedule: schedule,
		logger:   logger.With("component", "scheduler", "loop", domain.Name),
		now:      time.Now,
	}
}

// Name returns the domain name.
func (l *Loop) Name() string { return l.domain.Name }

// State returns the current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats returns how many ticks ran and how many items fired.
func (l *Loop) Stats() (ticks, fired uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks, l.fired
}

// Run ticks until ctx is cancelled. Cancellation is checked before every
// tick, so it is observed within one interval plus one batch.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateIdle {
		l.mu.Unlock()
		return ErrLoopUsed
	}
	l.state = StateRunning
	l.mu.Unlock()

	l.logger.Info("scheduler loop started")
	defer func() {
		l.mu.Lock()
		l.state = StateStopped
		l.mu.Unlock()
		l.logger.Info("scheduler loop stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		l.Tick(ctx)

		now := l.now()
		wait := l.schedule.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Tick performs one pass: fire every due item, marking each processed
// before recording its event. A failure is recorded as "<domain>.err" and
// ends the pass; remaining items are retried on the next tick. It returns
// the number of items fired.
func (l *Loop) Tick(ctx context.Context) int {
	fired, err := l.tick(ctx)

	l.mu.Lock()
	l.ticks++
	l.fired += uint64(fired)
	l.mu.Unlock()

	if err != nil {
		l.logger.Error("scheduler tick failed", "error", err, "fired", fired)
		l.record(ctx, l.domain.Name+".err", err.Error())
	}
	return fired
}

func (l *Loop) tick(ctx context.Context) (fired int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	items, err := l.domain.Due(ctx, l.now())
	if err != nil {
		return 0, err
	}

	for _, it := range items {
		if err := l.domain.MarkProcessed(ctx, it.ID); err != nil {
			return fired, err
		}
		fired++
		// Marked items are never due again, so the event must land even if
		// ctx is cancelled by now.
		if err := l.events.AppendEvent(context.WithoutCancel(ctx), l.now().UTC(), l.domain.Name, it.Text); err != nil {
			return fired, err
		}
		l.logger.Info("fired", "id", it.ID, "text", it.Text, "run_at", it.RunAt)
	}
	return fired, nil
}

func (l *Loop) record(ctx context.Context, kind, message string) {
	if err := l.events.AppendEvent(context.WithoutCancel(ctx), l.now().UTC(), kind, message); err != nil {
		l.logger.Error("failed to record event", "kind", kind, "error", err)
	}
}
