package billing

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create billing records",
		SQL: `
			CREATE TABLE billing_records (
				id                INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id           TEXT NOT NULL,
				session_id        TEXT NOT NULL,
				request_id        TEXT NOT NULL,
				model             TEXT NOT NULL DEFAULT '',
				prompt_tokens     INTEGER NOT NULL,
				completion_tokens INTEGER NOT NULL,
				cost              TEXT NOT NULL DEFAULT '0',
				day               TEXT NOT NULL,
				recorded_at       TEXT NOT NULL,
				inserted_at       TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE UNIQUE INDEX idx_billing_request ON billing_records (session_id, request_id);
			CREATE INDEX idx_billing_user_day ON billing_records (user_id, day);
		`,
	},
	{
		Version: 2,
		Name:    "create audit log",
		SQL: `
			CREATE TABLE audit_log (
				id          TEXT PRIMARY KEY,
				event       TEXT NOT NULL,
				session_id  TEXT NOT NULL DEFAULT '',
				request_id  TEXT NOT NULL DEFAULT '',
				user_id     TEXT NOT NULL DEFAULT '',
				data        TEXT,
				created_at  TEXT NOT NULL
			);

			CREATE INDEX idx_audit_session ON audit_log (session_id, created_at);
			CREATE INDEX idx_audit_event ON audit_log (event, created_at);
		`,
	},
	{
		Version: 3,
		Name:    "key billing records by event",
		SQL: `
			ALTER TABLE billing_records ADD COLUMN event_id TEXT NOT NULL DEFAULT '';
			UPDATE billing_records SET event_id = session_id || ':' || request_id WHERE event_id = '';

			DROP INDEX idx_billing_request;
			CREATE UNIQUE INDEX idx_billing_event ON billing_records (event_id);
			CREATE INDEX idx_billing_request ON billing_records (session_id, request_id);
		`,
	},
}
