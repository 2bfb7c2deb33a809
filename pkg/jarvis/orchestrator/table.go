package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/action"
	"github.com/jholhewres/jarvis/pkg/jarvis/browser"
)

// ErrUnsupportedAction is returned when no route is registered for an action name.
var ErrUnsupportedAction = errors.New("unsupported action")

// HandlerFunc executes one decoded action. sess is nil for routes that do
// not need a browser session.
type HandlerFunc func(ctx context.Context, sess *browser.Session, p action.Payload) error

// Route binds an action kind to its handler and, optionally, the service
// whose session the handler drives.
type Route struct {
	Service string
	Handle  HandlerFunc
}

// SessionProvider hands out live service sessions.
type SessionProvider interface {
	Session(ctx context.Context, service string) (*browser.Session, error)
}

// Table maps action kinds to routes. Known kinds and dynamic names share
// the same table; Decode decides which payload variant a handler receives.
type Table struct {
	sessions SessionProvider
	now      func() time.Time

	mu     sync.RWMutex
	routes map[action.Kind]Route
}

// NewTable creates an empty dispatch table.
func NewTable(sessions SessionProvider) *Table {
	return &Table{
		sessions: sessions,
		now:      time.Now,
		routes:   make(map[action.Kind]Route),
	}
}

// Register adds or replaces the route for kind.
func (t *Table) Register(kind action.Kind, r Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[kind] = r
}

// Lookup returns the route registered for name.
func (t *Table) Lookup(name string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[action.Kind(name)]
	return r, ok
}

// Names returns the registered action names, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.routes))
	for k := range t.routes {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

// Dispatch decodes a, acquires the route's session and runs the handler
// under ctx. Handler panics are returned as errors.
func (t *Table) Dispatch(ctx context.Context, a action.Action) (err error) {
	route, ok := t.Lookup(a.Name)
	if !ok || route.Handle == nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, a.Name)
	}

	payload, err := action.Decode(a.Name, a.Args, t.now())
	if err != nil {
		return err
	}

	var sess *browser.Session
	if route.Service != "" {
		if t.sessions == nil {
			return fmt.Errorf("no session provider for service %q", route.Service)
		}
		sess, err = t.sessions.Session(ctx, route.Service)
		if err != nil {
			return err
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v\n%s", a.Name, r, debug.Stack())
		}
	}()

	return route.Handle(ctx, sess, payload)
}
