package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/jarvis/pkg/jarvis/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	hub, err := database.NewHub(database.HubConfig{}, t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { hub.Close() })

	return New(hub, nil)
}

func TestEvents_MostRecentFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendEvent(ctx, base, "action.ok", "spotify.play"))
	require.NoError(t, s.AppendEvent(ctx, base.Add(time.Second), "action.err", "unknown.op: unsupported action"))
	require.NoError(t, s.AppendEvent(ctx, base.Add(2*time.Second), "reminder", "call mom"))

	events, err := s.ListEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "reminder", events[0].Kind)
	assert.Equal(t, "call mom", events[0].Message)
	assert.True(t, events[0].Timestamp.Equal(base.Add(2*time.Second)))
	assert.Equal(t, "action.err", events[1].Kind)

	all, err := s.ListEvents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestReminders_DueAndFired(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	laterID, err := s.AddReminder(ctx, "later", now.Add(time.Hour))
	require.NoError(t, err)
	second, err := s.AddReminder(ctx, "second", now.Add(-time.Minute))
	require.NoError(t, err)
	first, err := s.AddReminder(ctx, "first", now.Add(-time.Hour))
	require.NoError(t, err)
	exact, err := s.AddReminder(ctx, "exact", now)
	require.NoError(t, err)

	due, err := s.DueReminders(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, []int64{first, second, exact}, []int64{due[0].ID, due[1].ID, due[2].ID})
	assert.False(t, due[0].Fired)
	assert.True(t, due[0].RunAt.Equal(now.Add(-time.Hour)))

	require.NoError(t, s.MarkReminderFired(ctx, first))

	due, err = s.DueReminders(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, second, due[0].ID)

	all, err := s.ListReminders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.True(t, all[0].Fired)
	assert.Equal(t, laterID, all[3].ID)
}

func TestReminders_TimezoneNormalized(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	loc := time.FixedZone("UTC-5", -5*3600)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// 06:30 local is 11:30 UTC, already due.
	_, err := s.AddReminder(ctx, "local", time.Date(2026, 3, 1, 6, 30, 0, 0, loc))
	require.NoError(t, err)

	due, err := s.DueReminders(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "local", due[0].Text)
}

func TestAlarms_DueAndDeactivate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	id, err := s.AddAlarm(ctx, "", now.Add(-time.Second))
	require.NoError(t, err)
	_, err = s.AddAlarm(ctx, "tomorrow", now.Add(24*time.Hour))
	require.NoError(t, err)

	due, err := s.DueAlarms(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)
	assert.Equal(t, "", due[0].Label)
	assert.True(t, due[0].Active)

	require.NoError(t, s.DeactivateAlarm(ctx, id))

	due, err = s.DueAlarms(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	all, err := s.ListAlarms(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[0].Active)
	assert.True(t, all[1].Active)
}

func TestUpdate_MissingRow(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.MarkReminderFired(ctx, 999), ErrNotFound)
	assert.ErrorIs(t, s.DeactivateAlarm(ctx, 999), ErrNotFound)
}

func TestKV(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.KVGet(ctx, "jarvis.started_at")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.KVSet(ctx, "jarvis.started_at", "one"))
	require.NoError(t, s.KVSet(ctx, "jarvis.started_at", "two"))

	v, err := s.KVGet(ctx, "jarvis.started_at")
	require.NoError(t, err)
	assert.Equal(t, "two", v)
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := Open(nil, database.BackendPostgreSQL, nil)
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y <= $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y <= ?"))

	lite := Open(nil, "", nil)
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestDBTime_Scan(t *testing.T) {
	t.Parallel()

	want := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		src  any
	}{
		{"native", want.In(time.FixedZone("X", 3600))},
		{"layout", want.Format(timeLayout)},
		{"rfc3339 bytes", []byte(want.Format(time.RFC3339))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got dbTime
			require.NoError(t, got.Scan(tt.src))
			assert.True(t, got.Equal(want))
		})
	}

	var bad dbTime
	assert.Error(t, bad.Scan("yesterday"))
	assert.Error(t, bad.Scan(42))
}
