package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intunectl/intunectl/internal/core"
	"github.com/intunectl/intunectl/internal/graph"
	"github.com/intunectl/intunectl/internal/observability"
	"github.com/intunectl/intunectl/internal/server"
	"github.com/intunectl/intunectl/internal/server/handlers"
)

var refreshedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// socketDenied reports sandboxes that refuse loopback listeners.
func socketDenied(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not permitted")
}

func startExporter(t *testing.T) {
	t.Helper()
	if err := observability.InitMetrics("intunectl", 0, "itest"); err != nil {
		if socketDenied(err) {
			t.Skipf("loopback listeners unavailable: %v", err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(func() {
		if observability.PrometheusExporter != nil {
			_ = observability.PrometheusExporter.Stop()
		}
		observability.PrometheusExporter = nil
		observability.TelemetrySystem = nil
	})
}

func withoutExporter(t *testing.T) {
	t.Helper()
	exporter, sys := observability.PrometheusExporter, observability.TelemetrySystem
	observability.PrometheusExporter, observability.TelemetrySystem = nil, nil
	t.Cleanup(func() {
		observability.PrometheusExporter, observability.TelemetrySystem = exporter, sys
	})
}

// serve mounts api on an IPv4 loopback listener.
func serve(t *testing.T, api *handlers.PolicyAPI) string {
	t.Helper()
	observability.InitCLILogger("intunectl-test", false)
	observability.InitServerLogger("intunectl-test", "warn")
	handlers.InitHealthManager("test")

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if socketDenied(err) {
			t.Skipf("loopback listeners unavailable: %v", err)
		}
		require.NoError(t, err)
	}
	srv := server.New("127.0.0.1", 0, server.WithPolicyAPI(api))
	ts := &httptest.Server{Listener: listener, Config: &http.Server{Handler: srv.Handler()}}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts.URL
}

type memoryStore struct {
	mu         sync.Mutex
	snapshots  []core.PolicySnapshot
	refreshed  *time.Time
	operations []core.OperationRecord
}

func (s *memoryStore) ListSnapshots(_ context.Context, policyType string) ([]core.PolicySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.PolicySnapshot
	for _, snap := range s.snapshots {
		if policyType == "" || snap.PolicyType == policyType {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *memoryStore) LastRefresh(context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshed, nil
}

func (s *memoryStore) ListOperations(_ context.Context, q core.OperationQuery) ([]core.OperationRecord, error) {
	var out []core.OperationRecord
	for _, rec := range s.operations {
		if q.RunID == "" || rec.RunID == q.RunID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func tenantAPI() (*handlers.PolicyAPI, *memoryStore) {
	st := &memoryStore{
		operations: []core.OperationRecord{
			{ID: 1, RunID: "run-1", Operation: "delete", PolicyName: "Old", Status: "Success", CreatedAt: refreshedAt},
			{ID: 2, RunID: "run-2", Operation: "assign", PolicyName: "Firewall", Status: "Failed", CreatedAt: refreshedAt},
		},
	}
	api := &handlers.PolicyAPI{
		Store:  st,
		Pacer:  graph.NewPacer(graph.DefaultPacerConfig),
		Pacing: graph.DefaultPacerConfig,
		Refresh: func(context.Context) (int, error) {
			st.mu.Lock()
			defer st.mu.Unlock()
			st.snapshots = []core.PolicySnapshot{
				{PolicyID: "a", PolicyType: "configurationPolicies", Name: "Firewall", Assigned: true,
					Payload: json.RawMessage(`{"id":"a","name":"Firewall"}`), RefreshedAt: refreshedAt},
				{PolicyID: "b", PolicyType: "deviceConfigurations", Name: "BitLocker",
					Payload: json.RawMessage(`{"id":"b","displayName":"BitLocker"}`), RefreshedAt: refreshedAt},
			}
			at := refreshedAt
			st.refreshed = &at
			return len(st.snapshots), nil
		},
	}
	return api, st
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestRefreshThenListPolicies(t *testing.T) {
	withoutExporter(t)
	api, _ := tenantAPI()
	base := serve(t, api)

	var before handlers.PolicyListResponse
	require.Equal(t, http.StatusOK, getJSON(t, base+"/v1/policies", &before))
	assert.Empty(t, before.Policies)
	assert.Nil(t, before.RefreshedAt)

	resp, err := http.Post(base+"/v1/policies/refresh", "application/json", nil)
	require.NoError(t, err)
	var refreshed handlers.RefreshResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&refreshed))
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, refreshed.Stored)

	var all handlers.PolicyListResponse
	require.Equal(t, http.StatusOK, getJSON(t, base+"/v1/policies", &all))
	require.Len(t, all.Policies, 2)
	require.NotNil(t, all.RefreshedAt)
	assert.True(t, refreshedAt.Equal(*all.RefreshedAt))

	var assigned handlers.PolicyListResponse
	require.Equal(t, http.StatusOK, getJSON(t, base+"/v1/policies?type=configurationPolicies&assigned=true", &assigned))
	require.Len(t, assigned.Policies, 1)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, base+"/v1/policies?type=printers", nil))
}

func TestOperationsAndPacing(t *testing.T) {
	withoutExporter(t)
	api, _ := tenantAPI()
	base := serve(t, api)

	var ops []core.OperationRecord
	require.Equal(t, http.StatusOK, getJSON(t, base+"/v1/operations?run=run-2", &ops))
	require.Len(t, ops, 1)
	assert.Equal(t, "assign", ops[0].Operation)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, base+"/v1/operations?limit=-1", nil))

	var pacing handlers.PacingResponse
	require.Equal(t, http.StatusOK, getJSON(t, base+"/v1/pacing", &pacing))
	assert.True(t, pacing.Active)
	assert.Equal(t, graph.DefaultPacerConfig.Initial.Milliseconds(), pacing.CurrentMS)
	assert.Equal(t, graph.DefaultPacerConfig.Max.Milliseconds(), pacing.MaxMS)
}

func TestMetricsScrapeCountsAPITraffic(t *testing.T) {
	startExporter(t)
	api, _ := tenantAPI()
	base := serve(t, api)

	paths := []string{"/v1/policies", "/v1/pacing", "/v1/operations", "/v1/policies?type=bogus", "/health/live"}
	var wg sync.WaitGroup
	for worker := 0; worker < 5; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				resp, err := http.Get(base + paths[i%len(paths)])
				if err == nil {
					_ = resp.Body.Close()
				}
			}
		}()
	}
	wg.Wait()

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))

	text := string(body)
	assert.Contains(t, text, "itest_http_requests_total")
	assert.Contains(t, text, "itest_http_request_duration_ms")

	samples := 0
	for _, line := range strings.Split(text, "\n") {
		if line != "" && !strings.HasPrefix(line, "#") && len(strings.Fields(line)) >= 2 {
			samples++
		}
	}
	assert.Positive(t, samples)
}

func TestMetricsUnavailableWithoutExporter(t *testing.T) {
	withoutExporter(t)
	api, _ := tenantAPI()
	base := serve(t, api)

	assert.Equal(t, http.StatusOK, getJSON(t, base+"/v1/operations", nil))
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, base+"/metrics", nil))
}
