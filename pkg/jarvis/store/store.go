// Package store implements the event/state store: the append-only event log,
// reminder and alarm records, and a small key/value table. It runs on any
// backend exposed by the database hub.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/database"
)

// ErrNotFound is returned when a keyed lookup or an update matches no row.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed-width so TEXT comparison on SQLite orders by time.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// DefaultEventLimit is used by ListEvents when limit <= 0.
const DefaultEventLimit = 50

// Event is an immutable audit record.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
}

// Reminder is a text to announce at RunAt.
type Reminder struct {
	ID    int64     `json:"id"`
	Text  string    `json:"text"`
	RunAt time.Time `json:"run_at"`
	Fired bool      `json:"fired"`
}

// Alarm is a labelled point in time. Active flips to false once it fires.
type Alarm struct {
	ID     int64     `json:"id"`
	Label  string    `json:"label"`
	RunAt  time.Time `json:"run_at"`
	Active bool      `json:"active"`
}

// Store reads and writes assistant state through database/sql.
type Store struct {
	db      *sql.DB
	backend database.BackendType
	logger  *slog.Logger
}

// New creates a store on top of the hub's primary backend.
func New(hub *database.Hub, logger *slog.Logger) *Store {
	return Open(hub.DB(), hub.Type(), logger)
}

// Open creates a store for an already-migrated database.
func Open(db *sql.DB, backend database.BackendType, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if backend == "" {
		backend = database.BackendSQLite
	}
	return &Store{
		db:      db,
		backend: backend,
		logger:  logger.With("component", "store"),
	}
}

// AppendEvent records one event.
func (s *Store) AppendEvent(ctx context.Context, ts time.Time, kind, message string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO events (ts, kind, message) VALUES (?, ?, ?)"),
		s.timeArg(ts), kind, message)
	if err != nil {
		return fmt.Errorf("append event %q: %w", kind, err)
	}
	return nil
}

// ListEvents returns up to limit events, most recent first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT id, ts, kind, COALESCE(message, '') FROM events ORDER BY id DESC LIMIT ?"),
		limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e  Event
			ts dbTime
		)
		if err := rows.Scan(&e.ID, &ts, &e.Kind, &e.Message); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = ts.Time
		events = append(events, e)
	}
	return events, rows.Err()
}

// AddReminder inserts an unfired reminder and returns its id.
func (s *Store) AddReminder(ctx context.Context, text string, runAt time.Time) (int64, error) {
	id, err := s.insert(ctx,
		"INSERT INTO reminders (text, run_at, fired) VALUES (?, ?, 0)",
		text, s.timeArg(runAt))
	if err != nil {
		return 0, fmt.Errorf("add reminder: %w", err)
	}
	return id, nil
}

// DueReminders returns unfired reminders with run_at <= now, oldest first.
func (s *Store) DueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT id, text, run_at, fired FROM reminders WHERE fired = 0 AND run_at <= ? ORDER BY run_at ASC, id ASC"),
		s.timeArg(now))
	if err != nil {
		return nil, fmt.Errorf("due reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// ListReminders returns every reminder ordered by run_at.
func (s *Store) ListReminders(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, text, run_at, fired FROM reminders ORDER BY run_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// MarkReminderFired flags a reminder as fired.
func (s *Store) MarkReminderFired(ctx context.Context, id int64) error {
	return s.update(ctx, "mark reminder fired",
		"UPDATE reminders SET fired = 1 WHERE id = ?", id)
}

// AddAlarm inserts an active alarm and returns its id.
func (s *Store) AddAlarm(ctx context.Context, label string, runAt time.Time) (int64, error) {
	id, err := s.insert(ctx,
		"INSERT INTO alarms (label, run_at, active) VALUES (?, ?, 1)",
		label, s.timeArg(runAt))
	if err != nil {
		return 0, fmt.Errorf("add alarm: %w", err)
	}
	return id, nil
}

// DueAlarms returns active alarms with run_at <= now, oldest first.
func (s *Store) DueAlarms(ctx context.Context, now time.Time) ([]Alarm, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT id, COALESCE(label, ''), run_at, active FROM alarms WHERE active = 1 AND run_at <= ? ORDER BY run_at ASC, id ASC"),
		s.timeArg(now))
	if err != nil {
		return nil, fmt.Errorf("due alarms: %w", err)
	}
	defer rows.Close()
	return scanAlarms(rows)
}

// ListAlarms returns every alarm ordered by run_at.
func (s *Store) ListAlarms(ctx context.Context) ([]Alarm, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, COALESCE(label, ''), run_at, active FROM alarms ORDER BY run_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	defer rows.Close()
	return scanAlarms(rows)
}

// DeactivateAlarm flags an alarm as no longer active.
func (s *Store) DeactivateAlarm(ctx context.Context, id int64) error {
	return s.update(ctx, "deactivate alarm",
		"UPDATE alarms SET active = 0 WHERE id = ?", id)
}

// KVGet returns the value stored under key, or ErrNotFound.
func (s *Store) KVGet(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT value FROM kv WHERE key = ?"), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("kv %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("kv get %q: %w", key, err)
	}
	return value.String, nil
}

// KVSet stores value under key, replacing any previous value.
func (s *Store) KVSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value"),
		key, value)
	if err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id)
	return id, err
}

func (s *Store) update(ctx context.Context, op, query string, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(query), id)
	if err != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", op, id, ErrNotFound)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.backend != database.BackendPostgreSQL {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) timeArg(t time.Time) any {
	if s.backend == database.BackendPostgreSQL {
		return t.UTC()
	}
	return t.UTC().Format(timeLayout)
}

func scanReminders(rows *sql.Rows) ([]Reminder, error) {
	var out []Reminder
	for rows.Next() {
		var (
			r     Reminder
			runAt dbTime
			fired int
		)
		if err := rows.Scan(&r.ID, &r.Text, &runAt, &fired); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.RunAt = runAt.Time
		r.Fired = fired != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanAlarms(rows *sql.Rows) ([]Alarm, error) {
	var out []Alarm
	for rows.Next() {
		var (
			a      Alarm
			runAt  dbTime
			active int
		)
		if err := rows.Scan(&a.ID, &a.Label, &runAt, &active); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		a.RunAt = runAt.Time
		a.Active = active != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// dbTime scans a timestamp stored either natively or as text.
type dbTime struct {
	time.Time
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}
