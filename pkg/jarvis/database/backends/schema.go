package backends

// SchemaVersion is the latest schema version known to this build.
const SchemaVersion = 1

// SQLiteSchema creates the assistant tables. Timestamps are TEXT in a
// fixed-width UTC layout so lexical comparison matches time order.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS reminders (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	text   TEXT NOT NULL,
	run_at TEXT NOT NULL,
	fired  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(fired, run_at);

CREATE TABLE IF NOT EXISTS alarms (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	label  TEXT,
	run_at TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_alarms_due ON alarms(active, run_at);

CREATE TABLE IF NOT EXISTS events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      TEXT NOT NULL,
	kind    TEXT NOT NULL,
	message TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
`

// PostgreSQLSchema is the PostgreSQL rendition of SQLiteSchema.
const PostgreSQLSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS reminders (
	id     BIGSERIAL PRIMARY KEY,
	text   TEXT NOT NULL,
	run_at TIMESTAMPTZ NOT NULL,
	fired  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders (run_at) WHERE fired = 0;

CREATE TABLE IF NOT EXISTS alarms (
	id     BIGSERIAL PRIMARY KEY,
	label  TEXT,
	run_at TIMESTAMPTZ NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_alarms_due ON alarms (run_at) WHERE active = 1;

CREATE TABLE IF NOT EXISTS events (
	id      BIGSERIAL PRIMARY KEY,
	ts      TIMESTAMPTZ NOT NULL,
	kind    TEXT NOT NULL,
	message TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events (kind);
`
