package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationVersion is one applied migration.
type MigrationVersion struct {
	Version   int
	AppliedAt time.Time
}

// migrations is the ordered list of all database migrations
var migrations = []Migration{
	{
		Version:     1,
		Description: "Operations and append-only classification log",
		SQL: `
CREATE TABLE IF NOT EXISTS operations (
    id TEXT PRIMARY KEY,
    user_request TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',
    source_agent TEXT NOT NULL DEFAULT '',
    destination TEXT,
    consumer TEXT,
    semantics TEXT,
    confidence REAL,
    domain TEXT,
    action_hint TEXT,
    reasoning TEXT,
    alternatives TEXT,
    is_decomposed INTEGER NOT NULL DEFAULT 0,
    parent_id TEXT REFERENCES operations(id),
    status TEXT NOT NULL,
    approval_required INTEGER NOT NULL DEFAULT 0,
    approved INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_operations_user ON operations(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_operations_parent ON operations(parent_id);
CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);

CREATE TABLE IF NOT EXISTS classification_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id TEXT NOT NULL REFERENCES operations(id),
    destination TEXT NOT NULL,
    consumer TEXT NOT NULL,
    semantics TEXT NOT NULL,
    confidence REAL NOT NULL,
    domain TEXT,
    action_hint TEXT,
    reasoning TEXT,
    alternatives TEXT,
    corrected INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_classification_log_op ON classification_log(operation_id);
`,
	},
	{
		Version:     2,
		Description: "Per-layer verification results and execution attempts",
		SQL: `
CREATE TABLE IF NOT EXISTS verification_results (
    operation_id TEXT NOT NULL REFERENCES operations(id),
    layer TEXT NOT NULL,
    position INTEGER NOT NULL,
    mode TEXT NOT NULL,
    passed INTEGER NOT NULL,
    recoverable INTEGER NOT NULL,
    confidence REAL NOT NULL,
    issues TEXT,
    warnings TEXT,
    duration_ms INTEGER NOT NULL,
    timed_out INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    PRIMARY KEY (operation_id, layer)
);

CREATE TABLE IF NOT EXISTS executions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id TEXT NOT NULL REFERENCES operations(id),
    attempt INTEGER NOT NULL,
    dry_run INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL,
    exit_code INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    result TEXT NOT NULL,
    state_before TEXT,
    state_after TEXT,
    reversible INTEGER NOT NULL DEFAULT 0,
    reversibility_method TEXT,
    reversibility TEXT,
    warnings TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    UNIQUE (operation_id, attempt)
);

CREATE INDEX IF NOT EXISTS idx_executions_op ON executions(operation_id, attempt DESC);
`,
	},
	{
		Version:     3,
		Description: "Feedback rows and pending clarifications",
		SQL: `
CREATE TABLE IF NOT EXISTS feedback (
    id TEXT PRIMARY KEY,
    operation_id TEXT NOT NULL,
    feedback_type TEXT NOT NULL,
    approved INTEGER,
    modified TEXT,
    corrected_fields TEXT,
    reasoning TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_op ON feedback(operation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_feedback_type ON feedback(feedback_type);

CREATE TABLE IF NOT EXISTS clarifications (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    request TEXT NOT NULL,
    source_agent TEXT NOT NULL DEFAULT '',
    prompt TEXT NOT NULL,
    options TEXT,
    created_at TEXT NOT NULL,
    resolved_at TEXT,
    answer TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_clarifications_pending
    ON clarifications(user_id) WHERE resolved_at IS NULL;
`,
	},
}

// ApplyMigrations applies every pending migration inside one transaction.
func (s *Store) ApplyMigrations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("ensure schema_version table: %w", err)
	}

	applied, err := appliedVersions(ctx, tx)
	if err != nil {
		return fmt.Errorf("get applied versions: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v.Version] = true
	}

	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)`,
			m.Version, m.Description, formatTime(s.now())); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

// GetAppliedVersions returns the applied migrations in ascending order.
func (s *Store) GetAppliedVersions(ctx context.Context) ([]*MigrationVersion, error) {
	return appliedVersions(ctx, s.db)
}

// GetLatestVersion returns the highest applied migration version, or 0.
func (s *Store) GetLatestVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("query latest version: %w", err)
	}
	return int(version.Int64), nil
}

func appliedVersions(ctx context.Context, q querier) ([]*MigrationVersion, error) {
	rows, err := q.QueryContext(ctx, `SELECT version, applied_at FROM schema_version ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*MigrationVersion
	for rows.Next() {
		var v MigrationVersion
		var appliedAt string
		if err := rows.Scan(&v.Version, &appliedAt); err != nil {
			return nil, err
		}
		v.AppliedAt = parseTime(appliedAt)
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}
