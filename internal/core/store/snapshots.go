package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/intunectl/intunectl/internal/core"
)

// ReplaceSnapshots swaps the stored policy listing for snapshots in one
// transaction.
func (s *Store) ReplaceSnapshots(ctx context.Context, snapshots []core.PolicySnapshot) error {
	if s == nil || s.DB == nil {
		return ErrNotOpen
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot refresh: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM policy_snapshots`); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}

	for _, snap := range snapshots {
		if strings.TrimSpace(snap.PolicyID) == "" || strings.TrimSpace(snap.PolicyType) == "" {
			return errors.New("snapshot policy id and type are required")
		}
		refreshed := snap.RefreshedAt
		if refreshed.IsZero() {
			refreshed = time.Now().UTC()
		}

		var assignments sql.NullString
		if len(snap.Assignments) > 0 {
			assignments = sql.NullString{String: string(snap.Assignments), Valid: true}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO policy_snapshots (policy_id, policy_type, name, assigned, payload, assignments, refreshed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(policy_type, policy_id) DO UPDATE SET
				name = excluded.name,
				assigned = excluded.assigned,
				payload = excluded.payload,
				assignments = excluded.assignments,
				refreshed_at = excluded.refreshed_at
		`, snap.PolicyID, snap.PolicyType, snap.Name, boolToInt(snap.Assigned), string(snap.Payload), assignments, refreshed.UTC().Unix()); err != nil {
			return fmt.Errorf("store snapshot %s: %w", snap.PolicyID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot refresh: %w", err)
	}
	return nil
}

// ListSnapshots returns stored snapshots ordered by name. An empty
// policyType returns every type.
func (s *Store) ListSnapshots(ctx context.Context, policyType string) ([]core.PolicySnapshot, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotOpen
	}
	if ctx == nil {
		ctx = context.Background()
	}

	query := `
		SELECT policy_id, policy_type, name, assigned, payload, assignments, refreshed_at
		FROM policy_snapshots
	`
	var args []any
	if policyType = strings.TrimSpace(policyType); policyType != "" {
		query += ` WHERE policy_type = ?`
		args = append(args, policyType)
	}
	query += ` ORDER BY name COLLATE NOCASE, policy_id`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	snapshots := []core.PolicySnapshot{}
	for rows.Next() {
		var (
			snap        core.PolicySnapshot
			assigned    int
			payload     string
			assignments sql.NullString
			refreshedAt int64
		)
		if err := rows.Scan(&snap.PolicyID, &snap.PolicyType, &snap.Name, &assigned, &payload, &assignments, &refreshedAt); err != nil {
			return nil, fmt.Errorf("scan snapshots: %w", err)
		}
		snap.Assigned = assigned != 0
		snap.Payload = []byte(payload)
		if assignments.Valid {
			snap.Assignments = []byte(assignments.String)
		}
		snap.RefreshedAt = time.Unix(refreshedAt, 0).UTC()
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snapshots, nil
}

// LastRefresh returns the newest snapshot time, or nil when none exist.
func (s *Store) LastRefresh(ctx context.Context) (*time.Time, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotOpen
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var last sql.NullInt64
	if err := s.DB.QueryRowContext(ctx, `SELECT MAX(refreshed_at) FROM policy_snapshots`).Scan(&last); err != nil {
		return nil, fmt.Errorf("fetch last refresh: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	value := time.Unix(last.Int64, 0).UTC()
	return &value, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
