package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/intunectl/intunectl/internal/core"
	apperrors "github.com/intunectl/intunectl/internal/errors"
	"github.com/intunectl/intunectl/internal/server/handlers"
)

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
}

type emptyPolicyStore struct{}

func (emptyPolicyStore) ListSnapshots(context.Context, string) ([]core.PolicySnapshot, error) {
	return nil, nil
}

func (emptyPolicyStore) LastRefresh(context.Context) (*time.Time, error) { return nil, nil }

func (emptyPolicyStore) ListOperations(context.Context, core.OperationQuery) ([]core.OperationRecord, error) {
	return nil, nil
}

func TestServerMountsPolicyRoutesWhenConfigured(t *testing.T) {
	without := New("127.0.0.1", 0)
	rec := httptest.NewRecorder()
	without.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/policies", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a policy API, got %d", rec.Code)
	}

	with := New("127.0.0.1", 0, WithPolicyAPI(&handlers.PolicyAPI{Store: emptyPolicyStore{}}))
	for _, path := range []string{"/v1/policies", "/v1/operations", "/v1/pacing"} {
		rec := httptest.NewRecorder()
		with.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, rec.Code)
		}
	}

	rec = httptest.NewRecorder()
	with.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/policies", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}

func TestAdminSignalEndpointRequiresToken(t *testing.T) {
	without := New("127.0.0.1", 0)
	rec := httptest.NewRecorder()
	without.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/signal", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without an admin token, got %d", rec.Code)
	}

	with := New("127.0.0.1", 0, WithAdminToken("s3cret"))
	rec = httptest.NewRecorder()
	with.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/signal", nil))
	if rec.Code == http.StatusNotFound || rec.Code == http.StatusOK {
		t.Fatalf("expected an auth failure without a bearer token, got %d", rec.Code)
	}
}

func TestProbeRoutesAlwaysMounted(t *testing.T) {
	handlers.InitHealthManager("test")
	srv := New("127.0.0.1", 0)
	for _, rt := range probeRoutes {
		if rt.path == "/metrics" {
			continue
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(rt.method, rt.path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", rt.path, rec.Code)
		}
	}
}
