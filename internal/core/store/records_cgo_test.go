//go:build cgo

package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intunectl/intunectl/internal/config"
	"github.com/intunectl/intunectl/internal/core"
)

func openMigrated(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: "file:" + t.TempDir() + "/intunectl.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations are idempotent")
	return store
}

func TestSnapshotsReplaceAndList(t *testing.T) {
	ctx := context.Background()
	store := openMigrated(t)
	refreshed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	last, err := store.LastRefresh(ctx)
	require.NoError(t, err)
	require.Nil(t, last)

	require.NoError(t, store.ReplaceSnapshots(ctx, []core.PolicySnapshot{
		{PolicyID: "b", PolicyType: "deviceConfigurations", Name: "bitlocker", Payload: json.RawMessage(`{"id":"b"}`), RefreshedAt: refreshed},
		{PolicyID: "a", PolicyType: "configurationPolicies", Name: "Firewall", Assigned: true,
			Payload: json.RawMessage(`{"id":"a"}`), Assignments: json.RawMessage(`[{"id":"x"}]`), RefreshedAt: refreshed},
	}))

	snapshots, err := store.ListSnapshots(ctx, "")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	require.Equal(t, "bitlocker", snapshots[0].Name)
	require.True(t, snapshots[1].Assigned)
	require.JSONEq(t, `[{"id":"x"}]`, string(snapshots[1].Assignments))
	require.Equal(t, refreshed, snapshots[0].RefreshedAt)

	filtered, err := store.ListSnapshots(ctx, "configurationPolicies")
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	require.NoError(t, store.ReplaceSnapshots(ctx, []core.PolicySnapshot{
		{PolicyID: "c", PolicyType: "intentPolicies", Name: "Intent", Payload: json.RawMessage(`{}`), RefreshedAt: refreshed.Add(time.Hour)},
	}))
	snapshots, err = store.ListSnapshots(ctx, "")
	require.NoError(t, err)
	require.Len(t, snapshots, 1)

	last, err = store.LastRefresh(ctx)
	require.NoError(t, err)
	require.Equal(t, refreshed.Add(time.Hour), *last)

	require.Error(t, store.ReplaceSnapshots(ctx, []core.PolicySnapshot{{Name: "no id"}}))
}

func TestOperationLog(t *testing.T) {
	ctx := context.Background()
	store := openMigrated(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendOperations(ctx, []core.OperationRecord{
		{RunID: "run-1", Operation: "delete", PolicyName: "A", PolicyID: "a", Status: "Success", CreatedAt: base},
		{RunID: "run-1", Operation: "delete", PolicyName: "B", Status: "Error", Details: "HTTP 400", CreatedAt: base.Add(time.Second)},
		{RunID: "run-2", Operation: "upload", PolicyName: "C", Status: "Warning", CreatedAt: base.Add(time.Hour)},
	}))

	all, err := store.ListOperations(ctx, core.OperationQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "C", all[0].PolicyName)
	require.Equal(t, base.Add(time.Hour), all[0].CreatedAt)

	errorsOnly, err := store.ListOperations(ctx, core.OperationQuery{RunID: "run-1", Status: "Error"})
	require.NoError(t, err)
	require.Len(t, errorsOnly, 1)
	require.Equal(t, "HTTP 400", errorsOnly[0].Details)
	require.Empty(t, errorsOnly[0].PolicyID)

	limited, err := store.ListOperations(ctx, core.OperationQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	pruned, err := store.PruneOperations(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(2), pruned)

	require.Error(t, store.AppendOperations(ctx, []core.OperationRecord{{Operation: "delete"}}))
}

func TestRateLimitRoundTripAndAdmin(t *testing.T) {
	ctx := context.Background()
	store := openMigrated(t)
	window := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	backoff := window.Add(30 * time.Second)

	state, err := store.GetRateLimit(ctx, "graph.microsoft.com")
	require.NoError(t, err)
	require.Nil(t, state)

	require.NoError(t, store.UpdateRateLimit(ctx, "graph.microsoft.com", &core.RateLimitState{
		RequestCount: 4, WindowStart: window, BackoffUntil: &backoff, Last429At: &window,
		ThrottleCount: 2, LastRetryAfter: 30 * time.Second,
	}))
	require.NoError(t, store.UpdateRateLimit(ctx, "login.microsoftonline.com", &core.RateLimitState{
		RequestCount: 1, WindowStart: window,
	}))

	state, err = store.GetRateLimit(ctx, "graph.microsoft.com")
	require.NoError(t, err)
	require.Equal(t, 4, state.RequestCount)
	require.Equal(t, backoff, *state.BackoffUntil)
	require.Equal(t, 2, state.ThrottleCount)
	require.Equal(t, 30*time.Second, state.LastRetryAfter)
	require.True(t, state.Throttled(window))

	entries, err := store.ListRateLimits(ctx, RateLimitQuery{Prefix: "graph."})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "graph.microsoft.com", entries[0].Endpoint)
	require.Equal(t, window, *entries[0].State.Last429At)

	count, err := store.CountRateLimits(ctx, RateLimitQuery{All: true})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	_, err = store.ListRateLimits(ctx, RateLimitQuery{})
	require.Error(t, err)

	removed, err := store.ResetRateLimits(ctx, RateLimitQuery{Endpoint: "graph.microsoft.com"})
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
}

func TestOpenLocalFileUsesWALAndSingleWriter(t *testing.T) {
	ctx := context.Background()
	store := openMigrated(t)

	require.Equal(t, "libsql", store.Driver())
	require.False(t, store.Remote())
	require.NoError(t, store.Ping(ctx))
	require.Equal(t, 1, store.DB.Stats().MaxOpenConnections)

	var journalMode string
	require.NoError(t, store.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	require.Contains(t, journalMode, "wal")

	var busyTimeout int
	require.NoError(t, store.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
	require.GreaterOrEqual(t, busyTimeout, 1000)
}

func TestOpenCreatesDataDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/state/intunectl.db"
	store, err := Open(context.Background(), config.StoreConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
}

func TestMigrateUpgradesOlderRateLimitTable(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.StoreConfig{Path: t.TempDir() + "/old.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.DB.ExecContext(ctx, `CREATE TABLE rate_limits (
		endpoint TEXT PRIMARY KEY,
		request_count INTEGER NOT NULL DEFAULT 0,
		window_start INTEGER NOT NULL,
		backoff_until INTEGER,
		last_429_at INTEGER
	)`)
	require.NoError(t, err)
	_, err = store.DB.ExecContext(ctx, `INSERT INTO rate_limits (endpoint, request_count, window_start) VALUES ('graph.microsoft.com', 4, 0)`)
	require.NoError(t, err)

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Zero(t, version)

	require.NoError(t, store.Migrate(ctx))
	version, err = store.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, schemaVersion, version)

	state, err := store.GetRateLimit(ctx, "graph.microsoft.com")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, 4, state.RequestCount)
	require.Zero(t, state.ThrottleCount)
}
