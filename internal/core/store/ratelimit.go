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

const rateLimitColumns = `endpoint, request_count, window_start, backoff_until, last_429_at, throttle_count, last_retry_after_ms`

// RateLimitEntry pairs a host with its persisted state.
type RateLimitEntry struct {
	Endpoint string
	State    core.RateLimitState
}

// RateLimitQuery selects rows for `rate-limit list|reset`. Exactly one
// selector is honored, in field order.
type RateLimitQuery struct {
	All      bool
	Endpoint string
	Prefix   string
}

func (q RateLimitQuery) Validate() error {
	if q.All || strings.TrimSpace(q.Endpoint) != "" || strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --endpoint, or --prefix")
}

func (q RateLimitQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	switch {
	case q.All:
		return "", nil, nil
	case strings.TrimSpace(q.Endpoint) != "":
		return "WHERE endpoint = ?", []any{strings.TrimSpace(q.Endpoint)}, nil
	default:
		return "WHERE endpoint LIKE ?", []any{strings.TrimSpace(q.Prefix) + "%"}, nil
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRateLimit(row rowScanner) (RateLimitEntry, error) {
	var (
		entry        RateLimitEntry
		windowStart  int64
		backoffUntil sql.NullInt64
		last429At    sql.NullInt64
		retryAfterMS sql.NullInt64
	)
	if err := row.Scan(&entry.Endpoint, &entry.State.RequestCount, &windowStart,
		&backoffUntil, &last429At, &entry.State.ThrottleCount, &retryAfterMS); err != nil {
		return entry, err
	}
	entry.State.WindowStart = time.Unix(windowStart, 0).UTC()
	entry.State.BackoffUntil = fromNullUnix(backoffUntil)
	entry.State.Last429At = fromNullUnix(last429At)
	if retryAfterMS.Valid {
		entry.State.LastRetryAfter = time.Duration(retryAfterMS.Int64) * time.Millisecond
	}
	return entry, nil
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().Unix(), Valid: true}
}

func (s *Store) ready(ctx context.Context) (context.Context, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotOpen
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, nil
}

// GetRateLimit returns the state for endpoint, or nil when none is stored.
func (s *Store) GetRateLimit(ctx context.Context, endpoint string) (*core.RateLimitState, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	entry, err := scanRateLimit(s.DB.QueryRowContext(ctx,
		`SELECT `+rateLimitColumns+` FROM rate_limits WHERE endpoint = ?`, endpoint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}
	return &entry.State, nil
}

// UpdateRateLimit upserts the state for endpoint.
func (s *Store) UpdateRateLimit(ctx context.Context, endpoint string, state *core.RateLimitState) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errors.New("endpoint is required")
	}
	if state == nil {
		return errors.New("rate limit state is required")
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO rate_limits (`+rateLimitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			request_count = excluded.request_count,
			window_start = excluded.window_start,
			backoff_until = excluded.backoff_until,
			last_429_at = excluded.last_429_at,
			throttle_count = excluded.throttle_count,
			last_retry_after_ms = excluded.last_retry_after_ms
	`, endpoint, state.RequestCount, state.WindowStart.UTC().Unix(),
		toNullUnix(state.BackoffUntil), toNullUnix(state.Last429At),
		state.ThrottleCount, state.LastRetryAfter.Milliseconds())
	if err != nil {
		return fmt.Errorf("store rate limit: %w", err)
	}
	return nil
}

// ListRateLimits returns matching rows ordered by endpoint.
func (s *Store) ListRateLimits(ctx context.Context, q RateLimitQuery) ([]RateLimitEntry, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+rateLimitColumns+` FROM rate_limits `+where+` ORDER BY endpoint`, args...)
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []RateLimitEntry{}
	for rows.Next() {
		entry, err := scanRateLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rate limits: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	return entries, nil
}

func (s *Store) CountRateLimits(ctx context.Context, q RateLimitQuery) (int, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM rate_limits `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate limits: %w", err)
	}
	return count, nil
}

// ResetRateLimits deletes matching rows and returns how many went.
func (s *Store) ResetRateLimits(ctx context.Context, q RateLimitQuery) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM rate_limits `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	return affected, nil
}
