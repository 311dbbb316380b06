// Package authstore is the sqlite-backed persistence layer for operation
// policies, approval requests, and approval history. It speaks
// database/sql against modernc.org/sqlite (pure Go, no cgo) and enforces
// the serializable-transaction discipline the Approval Engine's FSM
// transitions require.
package authstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schema creates the three tables, their constraints, and the indices.
// It is idempotent: every statement uses IF NOT EXISTS / OR IGNORE so a
// restart against an existing database file is a no-op.
const schema = `
CREATE TABLE IF NOT EXISTS approval_policies (
	operation_type    TEXT PRIMARY KEY,
	description       TEXT NOT NULL,
	approval_required INTEGER NOT NULL,
	approver_roles    TEXT NOT NULL,
	approval_count    INTEGER NOT NULL CHECK (approval_count BETWEEN 1 AND 10),
	timeout_hours     INTEGER NOT NULL CHECK (timeout_hours BETWEEN 1 AND 168),
	auto_execute      INTEGER NOT NULL,
	risk_level        TEXT NOT NULL CHECK (risk_level IN ('LOW','MEDIUM','HIGH','CRITICAL')),
	guard_expression  TEXT NOT NULL DEFAULT '',
	guard_on_reject   TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS approval_requests (
	id                 TEXT PRIMARY KEY,
	request_type       TEXT NOT NULL,
	requester_id       TEXT NOT NULL,
	requester_name     TEXT NOT NULL,
	request_payload    TEXT NOT NULL,
	reason             TEXT NOT NULL,
	status             TEXT NOT NULL CHECK (status IN
		('pending','approved','rejected','expired','executed','execution_failed','cancelled')),
	created_at         TEXT NOT NULL,
	expires_at         TEXT NOT NULL,
	approved_by        TEXT,
	approved_by_name   TEXT,
	approved_at        TEXT,
	rejection_reason   TEXT,
	execution_result   TEXT,
	executed_at        TEXT,
	executed_by        TEXT,
	CHECK (approved_by IS NULL OR approved_by <> requester_id)
);

CREATE INDEX IF NOT EXISTS idx_requests_status       ON approval_requests(status);
CREATE INDEX IF NOT EXISTS idx_requests_type_status   ON approval_requests(request_type, status);
CREATE INDEX IF NOT EXISTS idx_requests_expires_at    ON approval_requests(expires_at);
CREATE INDEX IF NOT EXISTS idx_requests_created_desc  ON approval_requests(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_requests_requester     ON approval_requests(requester_id);

CREATE TABLE IF NOT EXISTS approval_history (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	approval_request_id  TEXT NOT NULL REFERENCES approval_requests(id),
	action               TEXT NOT NULL,
	actor_id             TEXT NOT NULL,
	actor_name           TEXT NOT NULL,
	actor_role           TEXT NOT NULL,
	timestamp            TEXT NOT NULL,
	details              TEXT,
	previous_status      TEXT,
	new_status           TEXT,
	signature            BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_request   ON approval_history(approval_request_id);
CREATE INDEX IF NOT EXISTS idx_history_actor     ON approval_history(actor_id);
CREATE INDEX IF NOT EXISTS idx_history_ts_desc   ON approval_history(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_history_action    ON approval_history(action);

CREATE TRIGGER IF NOT EXISTS approval_history_no_update
BEFORE UPDATE ON approval_history
BEGIN
	SELECT RAISE(ABORT, 'approval_history is append-only: UPDATE denied');
END;

CREATE TRIGGER IF NOT EXISTS approval_history_no_delete
BEFORE DELETE ON approval_history
BEGIN
	SELECT RAISE(ABORT, 'approval_history is append-only: DELETE denied');
END;
`

// DB wraps a *sql.DB opened against a modernc.org/sqlite file, with the
// schema applied and the pragmas the serializable-transaction discipline
// needs set.
type DB struct {
	*sql.DB
}

// Open opens (creating if absent) the sqlite database at path and applies
// the schema. path may be ":memory:" for tests.
func Open(ctx context.Context, path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("authstore: open %q: %w", path, err)
	}
	// A single connection avoids SQLITE_BUSY storms under the gateway's
	// concurrency cap; it serializes reads as well as writes.
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("authstore: set WAL mode: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("authstore: enable foreign keys: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("authstore: apply schema: %w", err)
	}
	return &DB{DB: sqlDB}, nil
}

// BeginSerializable starts a transaction at the strongest isolation level
// modernc.org/sqlite offers; combined with the single-writer-connection
// setting, this gives the re-read-then-guard-then-write discipline every
// FSM transition requires.
func (d *DB) BeginSerializable(ctx context.Context) (*sql.Tx, error) {
	return d.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
}
