package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/jarvis/pkg/jarvis/action"
	"github.com/jholhewres/jarvis/pkg/jarvis/browser"
	"github.com/jholhewres/jarvis/pkg/jarvis/browser/browsertest"
	"github.com/jholhewres/jarvis/pkg/jarvis/orchestrator"
)

var fastOpts = Options{Settle: time.Millisecond, WaitTimeout: time.Millisecond}

type fakeStore struct {
	mu        sync.Mutex
	reminders []string
	alarms    []string
	runAt     []time.Time
}

func (f *fakeStore) AddReminder(_ context.Context, text string, runAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminders = append(f.reminders, text)
	f.runAt = append(f.runAt, runAt)
	return int64(len(f.reminders)), nil
}

func (f *fakeStore) AddAlarm(_ context.Context, label string, runAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alarms = append(f.alarms, label)
	f.runAt = append(f.runAt, runAt)
	return int64(len(f.alarms)), nil
}

type fakeSender struct {
	channel, message string
}

func (f *fakeSender) Send(_ context.Context, channelID, message string) error {
	f.channel, f.message = channelID, message
	return nil
}

func contains(calls []string, want string) bool {
	for _, c := range calls {
		if c == want {
			return true
		}
	}
	return false
}

func TestSpotify_PlayButton(t *testing.T) {
	t.Parallel()

	page := browsertest.NewPage("input[type='search']", "button[aria-label^='Play']")
	s := &Spotify{opts: fastOpts, logger: slog.Default()}

	require.NoError(t, s.Play(context.Background(), page, "daft punk"))

	calls := page.Calls()
	assert.Equal(t, "navigate "+SpotifySearchURL, calls[0])
	assert.True(t, contains(calls, "fill input[type='search'] = daft punk"))
	assert.True(t, contains(calls, "press Enter"))
	assert.Equal(t, "click button[aria-label^='Play']", calls[len(calls)-1])
}

func TestSpotify_TrackRowFallback(t *testing.T) {
	t.Parallel()

	page := browsertest.NewPage("input[data-testid='search-input']", spotifyTrackRow)
	s := &Spotify{opts: fastOpts, logger: slog.Default()}

	require.NoError(t, s.Play(context.Background(), page, "lofi"))

	calls := page.Calls()
	assert.Equal(t, []string{"click " + spotifyTrackRow, "press Space"}, calls[len(calls)-2:])
}

func TestSpotify_Failures(t *testing.T) {
	t.Parallel()

	s := &Spotify{opts: fastOpts, logger: slog.Default()}

	err := s.Play(context.Background(), browsertest.NewPage(), "x")
	assert.ErrorContains(t, err, "search input not found")

	err = s.Play(context.Background(), browsertest.NewPage("input[type='search']"), "x")
	assert.ErrorIs(t, err, ErrPlaybackFailed)
}

func TestWhatsApp_Send(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var marks []string
	page := browsertest.NewPage(
		"div[contenteditable='true'][data-tab='3']",
		"footer div[contenteditable='true']",
		targetSelector("chat"),
		targetSelector("message"),
	)
	page.EvalFunc = func(expr string) (json.RawMessage, error) {
		if strings.Contains(expr, ".map(") {
			return json.RawMessage(`["Papá", "Mamá", "Mamá Trabajo"]`), nil
		}
		mu.Lock()
		marks = append(marks, expr)
		mu.Unlock()
		return json.RawMessage("true"), nil
	}

	w := &WhatsApp{opts: fastOpts, logger: slog.Default()}
	require.NoError(t, w.Send(context.Background(), page, "mama", "hola"))

	calls := page.Calls()
	assert.Equal(t, "navigate "+WhatsAppURL, calls[0])
	assert.True(t, contains(calls, "fill div[contenteditable='true'][data-tab='3'] = mama"))
	assert.True(t, contains(calls, "click "+targetSelector("chat")))
	assert.True(t, contains(calls, "fill "+targetSelector("message")+" = hola"))
	assert.Equal(t, "press Enter", calls[len(calls)-1])

	require.Len(t, marks, 2)
	assert.Contains(t, marks[0], "var i = 1 < 0")
	assert.Contains(t, marks[1], "footer div[contenteditable='true']")
	assert.Contains(t, marks[1], "var i = -1 < 0")
}

func TestWhatsApp_OpenOnlyWithoutMessage(t *testing.T) {
	t.Parallel()

	page := browsertest.NewPage("div[contenteditable='true'][role='textbox']", targetSelector("chat"))
	page.EvalFunc = func(expr string) (json.RawMessage, error) {
		if strings.Contains(expr, ".map(") {
			return json.RawMessage(`["Ana"]`), nil
		}
		return json.RawMessage("true"), nil
	}

	w := &WhatsApp{opts: fastOpts, logger: slog.Default()}
	require.NoError(t, w.Send(context.Background(), page, "Ana", ""))
	assert.Equal(t, "click "+targetSelector("chat"), page.Calls()[len(page.Calls())-1])
}

func TestWhatsApp_Errors(t *testing.T) {
	t.Parallel()

	w := &WhatsApp{opts: fastOpts, logger: slog.Default()}

	err := w.Send(context.Background(), browsertest.NewPage(), "Ana", "hi")
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	page := browsertest.NewPage("div[contenteditable='true'][data-tab='3']")
	page.EvalFunc = func(string) (json.RawMessage, error) { return json.RawMessage(`[]`), nil }
	err = w.Send(context.Background(), page, "Ana", "hi")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestPickChat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		titles  []string
		contact string
		want    int
	}{
		{"empty", nil, "Ana", -1},
		{"exact", []string{"Ana María", "Ana"}, "Ana", 1},
		{"accents and case", []string{"Papá", "José  Luis"}, "jose luis", 1},
		{"fallback first", []string{"Work", "Gym"}, "Nobody", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PickChat(tt.titles, tt.contact))
		})
	}
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "mama", NormalizeName("  Mamá "))
	assert.Equal(t, "jose luis nunez", NormalizeName("José\tLuis  Núñez"))
	assert.Equal(t, "", NormalizeName(""))
}

func TestLoggedIn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	spotify := browsertest.NewPage()
	spotify.EvalFunc = func(string) (json.RawMessage, error) { return json.RawMessage("false"), nil }
	ok, err := LoggedIn(ctx, browser.ServiceSpotify, spotify)
	require.NoError(t, err)
	assert.False(t, ok)

	qr := browsertest.NewPage("div[contenteditable='true']")
	qr.EvalFunc = func(string) (json.RawMessage, error) { return json.RawMessage("true"), nil }
	ok, err = LoggedIn(ctx, browser.ServiceWhatsApp, qr)
	require.NoError(t, err)
	assert.False(t, ok)

	chats := browsertest.NewPage("div[contenteditable='true']")
	chats.EvalFunc = func(string) (json.RawMessage, error) { return json.RawMessage("false"), nil }
	ok, err = LoggedIn(ctx, browser.ServiceWhatsApp, chats)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = LoggedIn(ctx, "myspace", chats)
	assert.ErrorIs(t, err, browser.ErrUnknownService)
}

func TestTable_StoreAndDiscordRoutes(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	sender := &fakeSender{}
	table := NewTable(nil, Deps{Store: store, Discord: sender, Options: fastOpts})

	assert.Equal(t, []string{"alarm.add", "discord.send", "reminder.add", "spotify.play", "whatsapp.send"}, table.Names())

	ctx := context.Background()
	runAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, table.Dispatch(ctx, action.New("reminder.add",
		map[string]any{"text": "call mom", "run_at": runAt.Format(time.RFC3339)}, 50)))
	require.NoError(t, table.Dispatch(ctx, action.New("alarm.add",
		map[string]any{"run_at": runAt.Format(time.RFC3339)}, 50)))
	require.NoError(t, table.Dispatch(ctx, action.New("discord.send",
		map[string]any{"channel_id": "123", "message": "deploy done"}, 50)))

	assert.Equal(t, []string{"call mom"}, store.reminders)
	assert.Equal(t, []string{""}, store.alarms)
	assert.True(t, store.runAt[0].Equal(runAt))
	assert.Equal(t, "123", sender.channel)
	assert.Equal(t, "deploy done", sender.message)
}

func TestTable_MissingDeps(t *testing.T) {
	t.Parallel()

	table := NewTable(nil, Deps{})
	ctx := context.Background()

	err := table.Dispatch(ctx, action.New("discord.send", map[string]any{"channel_id": "1", "message": "x"}, 1))
	assert.ErrorContains(t, err, "discord is not configured")

	err = table.Dispatch(ctx, action.New("reminder.add", map[string]any{"text": "x", "run_at": "5m"}, 1))
	assert.ErrorContains(t, err, "store not configured")
}

func TestTable_SpotifyThroughSession(t *testing.T) {
	t.Parallel()

	engine := &browsertest.Engine{NewPage: func() *browsertest.Page {
		return browsertest.NewPage("input[type='search']", "button[data-testid='play-button']")
	}}
	sessions := browser.NewManager(engine, t.TempDir(), browser.DefaultConfig().Services, nil)
	table := NewTable(sessions, Deps{Options: fastOpts})

	err := table.Dispatch(context.Background(), action.New("spotify.play", map[string]any{"query": "jazz"}, 50))
	require.NoError(t, err)

	s, err := sessions.Session(context.Background(), browser.ServiceSpotify)
	require.NoError(t, err)
	calls := s.Page().(*browsertest.Page).Calls()
	assert.Equal(t, "navigate https://open.spotify.com/", calls[0])
	assert.Equal(t, "click button[data-testid='play-button']", calls[len(calls)-1])
}

func TestTable_WhatsAppUsesConfiguredURL(t *testing.T) {
	t.Parallel()

	const landing = "https://wa.example.test/"
	engine := &browsertest.Engine{NewPage: func() *browsertest.Page {
		page := browsertest.NewPage("div[contenteditable='true'][role='textbox']", targetSelector("chat"))
		page.EvalFunc = func(expr string) (json.RawMessage, error) {
			if strings.Contains(expr, ".map(") {
				return json.RawMessage(`["Ana"]`), nil
			}
			return json.RawMessage("true"), nil
		}
		return page
	}}
	services := map[string]string{browser.ServiceWhatsApp: landing}
	sessions := browser.NewManager(engine, t.TempDir(), services, nil)
	table := NewTable(sessions, Deps{Options: fastOpts, Services: services})

	err := table.Dispatch(context.Background(), action.New("whatsapp.send", map[string]any{"contact": "Ana"}, 50))
	require.NoError(t, err)

	s, err := sessions.Session(context.Background(), browser.ServiceWhatsApp)
	require.NoError(t, err)
	for _, call := range s.Page().(*browsertest.Page).Calls() {
		if strings.HasPrefix(call, "navigate ") {
			assert.Equal(t, "navigate "+landing, call)
		}
	}
	assert.Contains(t, s.Page().(*browsertest.Page).Calls(), "navigate "+landing)
}

func TestSplitDiscordMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"short"}, splitDiscordMessage("short", 10))

	text := strings.Repeat("a", 7) + "\n" + strings.Repeat("b", 6)
	chunks := splitDiscordMessage(text, 10)
	assert.Equal(t, []string{strings.Repeat("a", 7) + "\n", strings.Repeat("b", 6)}, chunks)

	chunks = splitDiscordMessage(strings.Repeat("x", 25), 10)
	assert.Len(t, chunks, 3)
}

func TestSplitDiscordMessage_MultiByte(t *testing.T) {
	t.Parallel()

	euros := strings.Repeat("€", 1000)
	assert.Equal(t, []string{euros}, splitDiscordMessage(euros, discordMaxLen))

	text := strings.Repeat("ñ", 1500) + "\n" + strings.Repeat("€", 1000)
	chunks := splitDiscordMessage(text, discordMaxLen)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("ñ", 1500)+"\n", chunks[0])
	assert.Equal(t, text, strings.Join(chunks, ""))

	chunks = splitDiscordMessage(strings.Repeat("日本", 1300), discordMaxLen)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
		assert.LessOrEqual(t, utf8.RuneCountInString(c), discordMaxLen)
	}
}

func TestDiscord_MissingToken(t *testing.T) {
	t.Parallel()

	d := NewDiscord(func() (string, error) { return "  ", nil }, nil)
	err := d.Send(context.Background(), "1", "hi")
	assert.ErrorIs(t, err, ErrDiscordToken)
}

var _ orchestrator.SessionProvider = (*browser.Manager)(nil)
