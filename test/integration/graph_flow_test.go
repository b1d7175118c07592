package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intunectl/intunectl/internal/graph"
	"github.com/intunectl/intunectl/internal/intune"
)

// throttlingGraph answers the first list call with 429 and records every
// request it sees.
type throttlingGraph struct {
	mu        sync.Mutex
	throttled bool
	deletes   []string
}

func (g *throttlingGraph) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/beta/deviceManagement/deviceConfigurations", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		first := !g.throttled
		g.throttled = true
		g.mu.Unlock()

		if first {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{"id": "dc-1", "displayName": "BitLocker", "@odata.type": "#microsoft.graph.windows10EndpointProtectionConfiguration"},
				{"id": "dc-2", "displayName": "Wi-Fi"},
			},
		})
	})
	mux.HandleFunc("/beta/deviceManagement/deviceConfigurations/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/beta/deviceManagement/deviceConfigurations/")
		g.mu.Lock()
		g.deletes = append(g.deletes, id)
		g.mu.Unlock()
		if id == "dc-2" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"ResourceNotFound","message":"Policy not found"}}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestListThenDeleteThroughThrottledGraph(t *testing.T) {
	fake := &throttlingGraph{}
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)

	pacer := graph.NewPacer(graph.DefaultPacerConfig)
	session, err := graph.NewSession(context.Background(), graph.StaticCredential{Token: "integration-token"}, graph.WithPacer(pacer))
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	var slept []time.Duration
	exec := &graph.Executor{
		Session: session,
		Client:  ts.Client(),
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	client := &intune.Client{Exec: exec, BaseURL: ts.URL + "/beta", GroupsBaseURL: ts.URL + "/v1.0"}

	policies, err := client.ListPolicies(context.Background(), intune.TypeDeviceConfigurations)
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, []time.Duration{0}, slept, "Retry-After: 0 is honored")
	assert.Equal(t, 180*time.Millisecond, pacer.Current(), "one 429 doubles the delay, the following success decays it")

	var waits []time.Duration
	runner := &intune.Runner{
		Client: client,
		Pacer:  pacer,
		Wait: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}
	report, err := runner.Delete(context.Background(), policies)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Len(t, waits, 1, "runner waits between items, not after the last")

	assert.Equal(t, intune.StatusSuccess, report.Results[0].Status)
	assert.Equal(t, intune.StatusError, report.Results[1].Status)
	assert.Equal(t, "Policy not found", report.Results[1].Details)
	assert.Equal(t, []string{"dc-1", "dc-2"}, fake.deletes)

	records := report.Records()
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, report.RunID, rec.RunID)
		assert.Equal(t, "delete", rec.Operation)
		assert.Equal(t, "deviceConfigurations", rec.PolicyType)
		assert.False(t, rec.CreatedAt.IsZero())
	}

	snapshots, err := intune.Snapshots(policies, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	restored, err := intune.FromSnapshot(snapshots[0])
	require.NoError(t, err)
	assert.Equal(t, "BitLocker", restored.Name())
}
