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

const defaultOperationLimit = 200

// AppendOperations records bulk result rows.
func (s *Store) AppendOperations(ctx context.Context, records []core.OperationRecord) error {
	if s == nil || s.DB == nil {
		return ErrNotOpen
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin operation log: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	for _, rec := range records {
		if strings.TrimSpace(rec.RunID) == "" {
			return errors.New("operation run id is required")
		}
		created := rec.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO operation_log (run_id, operation, policy_name, policy_id, policy_type, status, details, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.RunID, rec.Operation, rec.PolicyName, nullString(rec.PolicyID), nullString(rec.PolicyType),
			rec.Status, nullString(rec.Details), created.UTC().Unix()); err != nil {
			return fmt.Errorf("append operation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit operation log: %w", err)
	}
	return nil
}

// ListOperations returns operation rows newest first.
func (s *Store) ListOperations(ctx context.Context, q core.OperationQuery) ([]core.OperationRecord, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotOpen
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		clauses []string
		args    []any
	)
	if v := strings.TrimSpace(q.RunID); v != "" {
		clauses = append(clauses, "run_id = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(q.Operation); v != "" {
		clauses = append(clauses, "operation = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(q.Status); v != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, v)
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultOperationLimit
	}
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, run_id, operation, policy_name, policy_id, policy_type, status, details, created_at
		FROM operation_log
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	records := []core.OperationRecord{}
	for rows.Next() {
		var (
			rec        core.OperationRecord
			policyID   sql.NullString
			policyType sql.NullString
			details    sql.NullString
			createdAt  int64
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Operation, &rec.PolicyName, &policyID, &policyType, &rec.Status, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan operations: %w", err)
		}
		rec.PolicyID = policyID.String
		rec.PolicyType = policyType.String
		rec.Details = details.String
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return records, nil
}

// PruneOperations deletes rows older than cutoff.
func (s *Store) PruneOperations(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, ErrNotOpen
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM operation_log WHERE created_at < ?`, cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune operations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune operations: %w", err)
	}
	return affected, nil
}

func nullString(v string) sql.NullString {
	if strings.TrimSpace(v) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
