package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/jarvis/pkg/jarvis/action"
	"github.com/jholhewres/jarvis/pkg/jarvis/browser"
	"github.com/jholhewres/jarvis/pkg/jarvis/browser/browsertest"
)

type event struct {
	kind    string
	message string
}

type memEvents struct {
	mu     sync.Mutex
	events []event
}

func (m *memEvents) AppendEvent(_ context.Context, _ time.Time, kind, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event{kind, message})
	return nil
}

func (m *memEvents) all() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event(nil), m.events...)
}

// dispatchFunc adapts a function to Dispatcher.
type dispatchFunc func(ctx context.Context, a action.Action) error

func (f dispatchFunc) Dispatch(ctx context.Context, a action.Action) error { return f(ctx, a) }

type recorder struct {
	mu    sync.Mutex
	names []string
	fail  map[string]error
}

func (r *recorder) Dispatch(_ context.Context, a action.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, a.Name)
	return r.fail[a.Name]
}

func (r *recorder) dispatched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func drain(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Drain(ctx))
}

func TestOrchestrator_EnqueueBeforeStart(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	events := &memEvents{}
	o := New(rec, events, Config{}, nil)

	o.Enqueue(action.New("low", nil, 90))
	o.Enqueue(action.New("urgent", nil, 1))
	o.Enqueue(action.New("mid-1", nil, 50))
	o.Enqueue(action.New("mid-2", nil, 50))
	assert.Equal(t, 4, o.Pending())

	o.Start(context.Background())
	defer o.Stop()
	drain(t, o)

	assert.Equal(t, []string{"urgent", "mid-1", "mid-2", "low"}, rec.dispatched())
	assert.Equal(t, uint64(4), o.Handled())

	got := events.all()
	require.Len(t, got, 4)
	for _, e := range got {
		assert.Equal(t, EventActionOK, e.kind)
	}
	assert.Equal(t, "urgent", got[0].message)
}

func TestOrchestrator_EnqueueAfterStart(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	o := New(rec, &memEvents{}, Config{}, nil)
	o.Start(context.Background())
	o.Start(context.Background())
	defer o.Stop()

	for _, name := range []string{"one", "two", "three"} {
		o.Enqueue(action.New(name, nil, 50))
	}
	drain(t, o)

	assert.ElementsMatch(t, []string{"one", "two", "three"}, rec.dispatched())
	assert.Equal(t, 0, o.Pending())
}

func TestOrchestrator_FailureIsolation(t *testing.T) {
	t.Parallel()

	rec := &recorder{fail: map[string]error{"bad": errors.New("selector not found")}}
	events := &memEvents{}
	o := New(rec, events, Config{}, nil)

	o.Enqueue(action.New("bad", nil, 10))
	o.Enqueue(action.New("good", nil, 20))
	o.Start(context.Background())
	defer o.Stop()
	drain(t, o)

	assert.Equal(t, []string{"bad", "good"}, rec.dispatched())
	assert.Equal(t, []event{
		{EventActionErr, "bad: selector not found"},
		{EventActionOK, "good"},
	}, events.all())
}

func TestOrchestrator_UnknownAction(t *testing.T) {
	t.Parallel()

	events := &memEvents{}
	o := New(NewTable(nil), events, Config{}, nil)
	o.Start(context.Background())
	defer o.Stop()

	o.Enqueue(action.New("unknown.op", map[string]any{}, 50))
	drain(t, o)

	got := events.all()
	require.Len(t, got, 1)
	assert.Equal(t, EventActionErr, got[0].kind)
	assert.Contains(t, got[0].message, "unknown.op")
	assert.Contains(t, got[0].message, ErrUnsupportedAction.Error())
	assert.Equal(t, 0, o.Pending())
	assert.True(t, o.Running())
}

func TestOrchestrator_PanicRecovered(t *testing.T) {
	t.Parallel()

	table := NewTable(nil)
	table.Register("boom", Route{Handle: func(context.Context, *browser.Session, action.Payload) error {
		panic("nil map")
	}})
	ok := false
	table.Register("after", Route{Handle: func(context.Context, *browser.Session, action.Payload) error {
		ok = true
		return nil
	}})

	events := &memEvents{}
	o := New(table, events, Config{}, nil)
	o.Enqueue(action.New("boom", nil, 1))
	o.Enqueue(action.New("after", nil, 2))
	o.Start(context.Background())
	defer o.Stop()
	drain(t, o)

	got := events.all()
	require.Len(t, got, 2)
	assert.Equal(t, EventActionErr, got[0].kind)
	assert.True(t, strings.HasPrefix(got[0].message, "boom: panic in boom handler: nil map"))
	assert.Equal(t, event{EventActionOK, "after"}, got[1])
	assert.True(t, ok)
}

func TestOrchestrator_StopLeavesPending(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var mu sync.Mutex
	var dispatched []string

	d := dispatchFunc(func(ctx context.Context, a action.Action) error {
		mu.Lock()
		dispatched = append(dispatched, a.Name)
		mu.Unlock()
		if a.Name == "blocker" {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	events := &memEvents{}
	o := New(d, events, Config{}, nil)
	o.Enqueue(action.New("blocker", nil, 1))
	for _, name := range []string{"p1", "p2", "p3"} {
		o.Enqueue(action.New(name, nil, 50))
	}

	o.Start(context.Background())
	<-started
	o.Stop()
	o.Stop()

	assert.False(t, o.Running())
	assert.Equal(t, 3, o.Pending())

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"blocker"}, dispatched)
	mu.Unlock()

	got := events.all()
	require.Len(t, got, 1)
	assert.Equal(t, EventActionErr, got[0].kind)
	assert.Contains(t, got[0].message, "blocker")

	queued := o.Queued()
	require.Len(t, queued, 3)
	assert.Equal(t, "p1", queued[0].Name)
}

func TestOrchestrator_RestartResumes(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	o := New(rec, &memEvents{}, Config{}, nil)
	o.Enqueue(action.New("a", nil, 1))
	o.Enqueue(action.New("b", nil, 2))

	o.Start(context.Background())
	drain(t, o)
	o.Stop()

	o.Enqueue(action.New("c", nil, 3))
	assert.Equal(t, 1, o.Pending())

	o.Start(context.Background())
	defer o.Stop()
	drain(t, o)
	assert.Equal(t, []string{"a", "b", "c"}, rec.dispatched())
}

func TestOrchestrator_ActionTimeout(t *testing.T) {
	t.Parallel()

	d := dispatchFunc(func(ctx context.Context, a action.Action) error {
		<-ctx.Done()
		return ctx.Err()
	})
	events := &memEvents{}
	o := New(d, events, Config{ActionTimeout: 20 * time.Millisecond}, nil)
	o.Enqueue(action.New("slow", nil, 1))
	o.Start(context.Background())
	defer o.Stop()
	drain(t, o)

	got := events.all()
	require.Len(t, got, 1)
	assert.Equal(t, "slow: "+context.DeadlineExceeded.Error(), got[0].message)
}

func TestTable_DispatchWithSession(t *testing.T) {
	t.Parallel()

	engine := &browsertest.Engine{}
	sessions := browser.NewManager(engine, t.TempDir(), browser.DefaultConfig().Services, nil)
	table := NewTable(sessions)

	var got action.SpotifyPlay
	var service string
	table.Register(action.KindSpotifyPlay, Route{
		Service: browser.ServiceSpotify,
		Handle: func(ctx context.Context, s *browser.Session, p action.Payload) error {
			service = s.Service()
			got = p.(action.SpotifyPlay)
			return nil
		},
	})

	err := table.Dispatch(context.Background(), action.New("spotify.play", map[string]any{"query": "daft punk"}, 50))
	require.NoError(t, err)
	assert.Equal(t, "spotify", service)
	assert.Equal(t, "daft punk", got.Query)
	assert.Equal(t, 1, engine.Launches())
	assert.Equal(t, []string{"spotify.play"}, table.Names())
}

func TestTable_Errors(t *testing.T) {
	t.Parallel()

	table := NewTable(nil)
	table.Register(action.KindSpotifyPlay, Route{
		Service: browser.ServiceSpotify,
		Handle:  func(context.Context, *browser.Session, action.Payload) error { return nil },
	})
	table.Register(action.KindReminderAdd, Route{
		Handle: func(context.Context, *browser.Session, action.Payload) error { return nil },
	})

	err := table.Dispatch(context.Background(), action.New("nope", nil, 1))
	assert.ErrorIs(t, err, ErrUnsupportedAction)

	err = table.Dispatch(context.Background(), action.New("reminder.add", map[string]any{"text": "x"}, 1))
	assert.ErrorIs(t, err, action.ErrInvalidArgs)

	err = table.Dispatch(context.Background(), action.New("spotify.play", map[string]any{"query": "x"}, 1))
	assert.ErrorContains(t, err, "no session provider")
}

func TestTable_DynamicRoute(t *testing.T) {
	t.Parallel()

	table := NewTable(nil)
	var got action.Dynamic
	table.Register("lights.on", Route{Handle: func(_ context.Context, _ *browser.Session, p action.Payload) error {
		got = p.(action.Dynamic)
		return nil
	}})

	err := table.Dispatch(context.Background(), action.New("lights.on", map[string]any{"room": "kitchen"}, 1))
	require.NoError(t, err)
	assert.Equal(t, "lights.on", got.Name)
	assert.Equal(t, "kitchen", got.Args["room"])
}
