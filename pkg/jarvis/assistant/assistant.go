// Package assistant wires the jarvis runtime: database hub, event store,
// browser sessions, dispatch table, orchestrator and background loops.
// One Assistant is built per process and passed explicitly to whoever needs
// it; there is no package-level state.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/action"
	"github.com/jholhewres/jarvis/pkg/jarvis/browser"
	"github.com/jholhewres/jarvis/pkg/jarvis/config"
	"github.com/jholhewres/jarvis/pkg/jarvis/database"
	"github.com/jholhewres/jarvis/pkg/jarvis/handlers"
	"github.com/jholhewres/jarvis/pkg/jarvis/orchestrator"
	"github.com/jholhewres/jarvis/pkg/jarvis/planner"
	"github.com/jholhewres/jarvis/pkg/jarvis/scheduler"
	"github.com/jholhewres/jarvis/pkg/jarvis/store"
)

// Event kinds written by the assistant.
const (
	EventAssistant     = "assistant"
	EventPlanActionErr = "plan.action.err"
)

// KeyStartedAt is the kv entry holding the last start time (RFC 3339).
const KeyStartedAt = "jarvis.started_at"

// Options replaces collaborators, mostly for tests.
type Options struct {
	// Engine drives the browser. Defaults to a ChromeEngine built from
	// the browser config.
	Engine browser.Engine

	// Discord sends discord.send messages. Defaults to a bot client using
	// the resolved token.
	Discord handlers.MessageSender

	// Handlers tunes the browser handlers.
	Handlers handlers.Options
}

// Assistant owns every long-lived component.
type Assistant struct {
	cfg    *config.Config
	logger *slog.Logger

	hub      *database.Hub
	store    *store.Store
	sessions *browser.Manager
	table    *orchestrator.Table
	orch     *orchestrator.Orchestrator
	loops    *scheduler.Group
	planner  planner.Planner

	mu      sync.Mutex
	started bool
}

// New builds the runtime. Nothing runs until Start.
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*Assistant, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	p, err := planner.New(cfg.Planner.Mode)
	if err != nil {
		return nil, err
	}

	reminderSched, err := scheduler.ParseSchedule(cfg.Scheduler.Reminders)
	if err != nil {
		return nil, fmt.Errorf("reminder schedule: %w", err)
	}
	alarmSched, err := scheduler.ParseSchedule(cfg.Scheduler.Alarms)
	if err != nil {
		return nil, fmt.Errorf("alarm schedule: %w", err)
	}

	hub, err := database.NewHub(cfg.Database, cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	st := store.New(hub, logger)

	engine := opts.Engine
	if engine == nil {
		engine = browser.NewChromeEngine(cfg.Browser, logger)
	}
	services := cfg.Browser.Services
	if len(services) == 0 {
		services = browser.DefaultConfig().Services
	}
	sessions := browser.NewManager(engine, cfg.DataDir, services, logger)

	discord := opts.Discord
	if discord == nil {
		discord = handlers.NewDiscord(cfg.ResolveDiscordToken, logger)
	}

	table := handlers.NewTable(sessions, handlers.Deps{
		Store:    st,
		Discord:  discord,
		Options:  opts.Handlers,
		Logger:   logger,
		Services: services,
	})

	a := &Assistant{
		cfg:      cfg,
		logger:   logger.With("component", "assistant"),
		hub:      hub,
		store:    st,
		sessions: sessions,
		table:    table,
		orch:     orchestrator.New(table, st, cfg.Orchestrator, logger),
		loops: scheduler.NewGroup(logger,
			scheduler.NewReminderLoop(st, st, reminderSched, logger),
			scheduler.NewAlarmLoop(st, st, alarmSched, logger),
		),
		planner: p,
	}
	return a, nil
}

// Start runs the orchestrator and the background loops. The runtime stays
// up until Shutdown, independently of ctx's request scope.
func (a *Assistant) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}

	runCtx := context.WithoutCancel(ctx)
	a.orch.Start(runCtx)
	a.loops.Start(runCtx)
	a.started = true

	if err := a.store.KVSet(ctx, KeyStartedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		a.logger.Warn("failed to record start time", "error", err)
	}
	a.logger.Info("assistant started",
		"name", a.cfg.Name,
		"database", a.hub.Type(),
		"routes", len(a.table.Names()),
	)
	return nil
}

// Submission is the result of Submit.
type Submission struct {
	Response string
	Enqueued []action.Action
	Rejected []error
}

// Submit enqueues every planned action and logs the plan's response as an
// "assistant" event. An action that cannot be enqueued is recorded as
// "plan.action.err" and does not stop the others.
func (a *Assistant) Submit(ctx context.Context, plan planner.Plan) Submission {
	sub := Submission{Response: plan.Response}
	def := a.orch.DefaultPriority()

	for _, pa := range plan.Actions {
		act, err := pa.Action(def)
		if err != nil {
			sub.Rejected = append(sub.Rejected, err)
			a.record(ctx, EventPlanActionErr, err.Error())
			continue
		}
		sub.Enqueued = append(sub.Enqueued, a.orch.Enqueue(act))
	}

	if plan.Response != "" {
		a.record(ctx, EventAssistant, plan.Response)
	}
	return sub
}

// Ask plans text with the configured planner and submits the plan. Blank
// text yields an empty plan.
func (a *Assistant) Ask(ctx context.Context, text string) (planner.Plan, Submission, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return planner.Plan{Actions: []planner.PlannedAction{}, Constraints: map[string]any{}}, Submission{}, nil
	}
	plan, err := a.planner.Plan(ctx, text)
	if err != nil {
		return planner.Plan{}, Submission{}, fmt.Errorf("plan: %w", err)
	}
	return plan, a.Submit(ctx, plan), nil
}

// Drain waits until every queued action has been handled.
func (a *Assistant) Drain(ctx context.Context) error {
	return a.orch.Drain(ctx)
}

// Warm opens sessions ahead of time so logins can be completed before the
// first action arrives.
func (a *Assistant) Warm(ctx context.Context, services ...string) error {
	var errs []error
	for _, s := range services {
		if _, err := a.sessions.Session(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops the orchestrator, then the loops, then closes browser
// sessions and the database. Every step runs even if an earlier one fails.
func (a *Assistant) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Info("stopping assistant...")

	a.orch.Stop()

	timeout := a.cfg.Orchestrator.StopTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		timeout = orchestrator.DefaultConfig().StopTimeout
	}
	a.loops.Stop(timeout)

	var errs []error
	if err := a.sessions.CloseAll(); err != nil {
		errs = append(errs, fmt.Errorf("close sessions: %w", err))
	}
	if err := a.hub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	a.started = false

	a.logger.Info("assistant stopped")
	return errors.Join(errs...)
}

// Status is a point-in-time view of the runtime.
type Status struct {
	Running  bool
	Pending  int
	Handled  uint64
	Routes   []string
	Services []string
	Active   []string
	Loops    map[string]string
	Database map[string]database.HealthStatus
}

// Status reports the state of every component.
func (a *Assistant) Status(ctx context.Context) Status {
	st := Status{
		Running:  a.orch.Running(),
		Pending:  a.orch.Pending(),
		Handled:  a.orch.Handled(),
		Routes:   a.table.Names(),
		Services: a.sessions.Services(),
		Active:   a.sessions.Active(),
		Loops:    make(map[string]string),
		Database: a.hub.Status(),
	}
	for _, l := range a.loops.Loops() {
		st.Loops[l.Name()] = l.State().String()
	}
	return st
}

// Config returns the configuration the assistant was built with.
func (a *Assistant) Config() *config.Config { return a.cfg }

// Store returns the event/state store.
func (a *Assistant) Store() *store.Store { return a.store }

// Sessions returns the browser session manager.
func (a *Assistant) Sessions() *browser.Manager { return a.sessions }

// Orchestrator returns the action worker.
func (a *Assistant) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Table returns the dispatch table.
func (a *Assistant) Table() *orchestrator.Table { return a.table }

// Planner returns the configured planner.
func (a *Assistant) Planner() planner.Planner { return a.planner }

func (a *Assistant) record(ctx context.Context, kind, message string) {
	if err := a.store.AppendEvent(context.WithoutCancel(ctx), time.Now().UTC(), kind, message); err != nil {
		a.logger.Error("failed to record event", "kind", kind, "error", err)
	}
}
