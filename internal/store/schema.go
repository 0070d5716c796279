package store

const schemaVersion = 1

// All timestamps are RFC3339 UTC text so string comparison orders
// chronologically. Minutes-of-day columns are plain integers.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS calendar_accounts (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	provider       TEXT NOT NULL,
	external_id    TEXT,
	credential_ref TEXT,
	writable       INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_accounts_user ON calendar_accounts(user_id);

CREATE TABLE IF NOT EXISTS calendars (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL REFERENCES calendar_accounts(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	color       TEXT,
	text_color  TEXT,
	read_only   INTEGER NOT NULL DEFAULT 0,
	external_id TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calendars_account ON calendars(account_id);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	project_id   TEXT,
	title        TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	priority     INTEGER NOT NULL DEFAULT 5,
	complexity   INTEGER NOT NULL DEFAULT 5,
	duration_min INTEGER NOT NULL,
	deadline     TEXT,
	scheduled_at TEXT,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	calendar_id TEXT NOT NULL REFERENCES calendars(id) ON DELETE CASCADE,
	task_id     TEXT REFERENCES tasks(id) ON DELETE SET NULL,
	title       TEXT NOT NULL,
	description TEXT,
	location    TEXT,
	color       TEXT,
	start_at    TEXT NOT NULL,
	end_at      TEXT NOT NULL,
	all_day     INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_calendar_start ON events(calendar_id, start_at);
CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);

CREATE TABLE IF NOT EXISTS working_preferences (
	user_id            TEXT PRIMARY KEY,
	day_start_min      INTEGER NOT NULL,
	day_end_min        INTEGER NOT NULL,
	weekdays           TEXT NOT NULL,
	daily_max_min      INTEGER NOT NULL DEFAULT 0,
	daily_optimal_min  INTEGER NOT NULL DEFAULT 0,
	focus_min          INTEGER NOT NULL DEFAULT 90,
	short_break_min    INTEGER NOT NULL DEFAULT 5,
	long_break_min     INTEGER NOT NULL DEFAULT 15,
	breaks_before_long INTEGER NOT NULL DEFAULT 3,
	alertness          TEXT,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS excluded_periods (
	id        TEXT PRIMARY KEY,
	user_id   TEXT NOT NULL,
	label     TEXT,
	kind      TEXT NOT NULL,
	start_at  TEXT,
	end_at    TEXT,
	rrule     TEXT,
	start_min INTEGER NOT NULL DEFAULT 0,
	end_min   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_excluded_user ON excluded_periods(user_id);

CREATE TABLE IF NOT EXISTS scheduling_configs (
	user_id         TEXT PRIMARY KEY,
	timezone        TEXT NOT NULL DEFAULT 'UTC',
	horizon_days    INTEGER NOT NULL DEFAULT 7,
	allow_splitting INTEGER NOT NULL DEFAULT 0,
	aggressiveness  REAL NOT NULL DEFAULT 0.5,
	policy          TEXT NOT NULL DEFAULT 'manual',
	updated_at      TEXT NOT NULL
);
`
