// Package orchestrator runs submitted actions one at a time in priority order.
//
// Any caller may Enqueue; a single worker pops the most urgent action
// (lowest priority value, then earliest sequence) and dispatches it. Every
// outcome is recorded as an event and a failing action never stops the
// worker. There is exactly one worker: handlers drive exclusive browser
// sessions that must not see two dispatches at once.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/action"
)

// Event kinds written by the worker.
const (
	EventActionOK  = "action.ok"
	EventActionErr = "action.err"
)

// Dispatcher executes one action.
type Dispatcher interface {
	Dispatch(ctx context.Context, a action.Action) error
}

// EventRecorder appends outcome events.
type EventRecorder interface {
	AppendEvent(ctx context.Context, ts time.Time, kind, message string) error
}

// Config tunes the worker.
type Config struct {
	// ActionTimeout bounds a single dispatch (default: 2m).
	ActionTimeout time.Duration `yaml:"action_timeout"`

	// StopTimeout bounds how long Stop waits for the in-flight dispatch (default: 10s).
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// DefaultPriority is applied by callers that have no priority (default: 50).
	DefaultPriority int `yaml:"default_priority"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ActionTimeout:   2 * time.Minute,
		StopTimeout:     10 * time.Second,
		DefaultPriority: action.DefaultPriority,
	}
}

// Orchestrator owns the action queue and its single worker.
type Orchestrator struct {
	queue      *Queue
	dispatcher Dispatcher
	events     EventRecorder
	cfg        Config
	logger     *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	handled atomic.Uint64
}

// New creates an orchestrator. It does nothing until Start.
func New(dispatcher Dispatcher, events EventRecorder, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = def.ActionTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.DefaultPriority == 0 {
		cfg.DefaultPriority = def.DefaultPriority
	}
	return &Orchestrator{
		queue:      NewQueue(),
		dispatcher: dispatcher,
		events:     events,
		cfg:        cfg,
		logger:     logger.With("component", "orchestrator"),
	}
}

// Enqueue submits a for dispatch and returns it stamped with its ID and
// sequence. Safe for concurrent use; works before and after Start.
func (o *Orchestrator) Enqueue(a action.Action) action.Action {
	a = o.queue.Push(a)
	o.logger.Debug("action enqueued", "action", a.Name, "id", a.ID, "priority", a.Priority, "seq", a.Sequence)
	return a
}

// DefaultPriority returns the priority used for actions that carry none.
func (o *Orchestrator) DefaultPriority() int {
	return o.cfg.DefaultPriority
}

// Start spawns the worker. Calling Start while running is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	prev := o.done
	done := make(chan struct{})

	o.cancel = cancel
	o.done = done
	o.running = true

	go o.work(workerCtx, prev, done)
	o.logger.Info("orchestrator started", "pending", o.queue.Len())
}

// Stop cancels the worker and waits for the in-flight dispatch, up to the
// configured stop timeout. Queued actions stay queued. Idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-time.After(o.cfg.StopTimeout):
		o.logger.Warn("orchestrator stop timed out, abandoning in-flight action")
	}
	o.logger.Info("orchestrator stopped", "pending", o.queue.Len())
}

// Running reports whether the worker is started.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Pending returns the number of queued actions.
func (o *Orchestrator) Pending() int {
	return o.queue.Len()
}

// Queued returns the queued actions in dispatch order.
func (o *Orchestrator) Queued() []action.Action {
	return o.queue.Snapshot()
}

// Handled returns how many actions the worker has dispatched.
func (o *Orchestrator) Handled() uint64 {
	return o.handled.Load()
}

// Drain blocks until the queue is empty and no dispatch is in flight.
func (o *Orchestrator) Drain(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if o.queue.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) work(ctx context.Context, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	// A worker abandoned by a timed-out Stop may still be running.
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	for {
		a, err := o.queue.Pop(ctx)
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			o.queue.restore(a)
			return
		}

		o.runOne(ctx, a)
		o.queue.Done()
	}
}

// runOne dispatches a and records the outcome. It never panics.
func (o *Orchestrator) runOne(ctx context.Context, a action.Action) {
	start := time.Now()

	err := o.dispatch(ctx, a)
	o.handled.Add(1)

	// Record even when ctx was cancelled mid-dispatch.
	recCtx := context.WithoutCancel(ctx)

	if err != nil {
		o.logger.Error("action failed", "action", a.Name, "id", a.ID, "seq", a.Sequence,
			"duration", time.Since(start), "error", err)
		o.record(recCtx, EventActionErr, fmt.Sprintf("%s: %v", a.Name, err))
		return
	}

	o.logger.Info("action completed", "action", a.Name, "id", a.ID, "seq", a.Sequence,
		"duration", time.Since(start))
	o.record(recCtx, EventActionOK, a.Name)
}

func (o *Orchestrator) dispatch(ctx context.Context, a action.Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ActionTimeout)
	defer cancel()

	return o.dispatcher.Dispatch(ctx, a)
}

func (o *Orchestrator) record(ctx context.Context, kind, message string) {
	if o.events == nil {
		return
	}
	if err := o.events.AppendEvent(ctx, time.Now().UTC(), kind, message); err != nil {
		o.logger.Error("failed to record event", "kind", kind, "error", err)
	}
}
