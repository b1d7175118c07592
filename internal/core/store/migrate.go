package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rate_limits (
		endpoint TEXT PRIMARY KEY,
		request_count INTEGER NOT NULL DEFAULT 0,
		window_start INTEGER NOT NULL,
		backoff_until INTEGER,
		last_429_at INTEGER,
		throttle_count INTEGER NOT NULL DEFAULT 0,
		last_retry_after_ms INTEGER
	);`,
	`CREATE TABLE IF NOT EXISTS policy_snapshots (
		policy_id TEXT NOT NULL,
		policy_type TEXT NOT NULL,
		name TEXT NOT NULL,
		assigned INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		assignments TEXT,
		refreshed_at INTEGER NOT NULL,
		PRIMARY KEY (policy_type, policy_id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_policy_snapshots_name ON policy_snapshots(name);`,
	`CREATE TABLE IF NOT EXISTS operation_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		policy_name TEXT NOT NULL,
		policy_id TEXT,
		policy_type TEXT,
		status TEXT NOT NULL,
		details TEXT,
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_operation_log_run ON operation_log(run_id);`,
	`CREATE INDEX IF NOT EXISTS idx_operation_log_created ON operation_log(created_at);`,
}

// addedColumns arrived after their table's first release. Databases
// created before that gain them through ALTER TABLE.
var addedColumns = []struct{ table, name, def string }{
	{"policy_snapshots", "assignments", "TEXT"},
	{"rate_limits", "throttle_count", "INTEGER NOT NULL DEFAULT 0"},
	{"rate_limits", "last_retry_after_ms", "INTEGER"},
}

// schemaVersion is stamped into PRAGMA user_version after a migration.
const schemaVersion = 3

// Migrate creates missing tables and columns. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return ErrNotOpen
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}
	for _, col := range addedColumns {
		present, err := s.hasColumn(ctx, col.table, col.name)
		if err != nil {
			return err
		}
		if present {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", col.table, col.name, col.def)
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add %s.%s: %w", col.table, col.name, err)
		}
	}
	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}
	return nil
}

// SchemaVersion reports the stamped schema version; 0 means never migrated.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if s == nil || s.DB == nil {
		return 0, ErrNotOpen
	}
	var version int
	if err := s.DB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspect %s columns: %w", table, err)
	}
	return n > 0, nil
}
