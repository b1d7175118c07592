package intune

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intunectl/intunectl/internal/graph"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

type fakeGraph struct {
	mu       sync.Mutex
	requests []capturedRequest
}

func (f *fakeGraph) capture(r *http.Request) capturedRequest {
	req := capturedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		_ = json.Unmarshal(raw, &req.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return req
}

func (f *fakeGraph) recorded() []capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedRequest(nil), f.requests...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newTestClient serves mux under /beta and /v1.0 and returns a client whose
// executor never sleeps.
func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *graph.Session) {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	session, err := graph.NewSession(context.Background(), graph.StaticCredential{Token: "test-token"})
	require.NoError(t, err)

	exec := &graph.Executor{
		Session: session,
		Client:  server.Client(),
		Sleep:   func(context.Context, time.Duration) error { return nil },
	}
	return &Client{
		Exec:          exec,
		BaseURL:       server.URL + "/beta",
		GroupsBaseURL: server.URL + "/v1.0",
	}, session
}

func policy(t PolicyType, id, name string) *Policy {
	return &Policy{Type: t, Data: map[string]any{"id": id, "displayName": name}}
}
