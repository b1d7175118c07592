package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/intunectl/intunectl/internal/core"
	"github.com/intunectl/intunectl/internal/graph"
)

type fakePolicyStore struct {
	snapshots  []core.PolicySnapshot
	refreshed  *time.Time
	operations []core.OperationRecord
	lastQuery  core.OperationQuery
	lastType   string
	err        error
}

func (f *fakePolicyStore) ListSnapshots(ctx context.Context, policyType string) ([]core.PolicySnapshot, error) {
	f.lastType = policyType
	if f.err != nil {
		return nil, f.err
	}
	var out []core.PolicySnapshot
	for _, s := range f.snapshots {
		if policyType == "" || s.PolicyType == policyType {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakePolicyStore) LastRefresh(ctx context.Context) (*time.Time, error) {
	return f.refreshed, nil
}

func (f *fakePolicyStore) ListOperations(ctx context.Context, q core.OperationQuery) ([]core.OperationRecord, error) {
	f.lastQuery = q
	return f.operations, f.err
}

type fixedPacer time.Duration

func (p fixedPacer) Current() time.Duration { return time.Duration(p) }

func newFakeStore() *fakePolicyStore {
	refreshed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &fakePolicyStore{
		refreshed: &refreshed,
		snapshots: []core.PolicySnapshot{
			{PolicyID: "b", PolicyType: "deviceConfigurations", Name: "BitLocker", Payload: json.RawMessage(`{"id":"b","displayName":"BitLocker"}`)},
			{PolicyID: "a", PolicyType: "configurationPolicies", Name: "Firewall", Assigned: true,
				Payload: json.RawMessage(`{"id":"a","name":"Firewall","description":"edge firewall"}`), Assignments: json.RawMessage(`[{"id":"x"}]`)},
		},
	}
}

func TestListPoliciesFiltersAndSorts(t *testing.T) {
	api := &PolicyAPI{Store: newFakeStore()}

	req := httptest.NewRequest(http.MethodGet, "/v1/policies", nil)
	rec := httptest.NewRecorder()
	api.ListPolicies(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp PolicyListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Policies) != 2 || resp.Policies[0].Name != "BitLocker" {
		t.Fatalf("expected two policies sorted by name, got %+v", resp.Policies)
	}
	if resp.Stats.Assigned != 1 {
		t.Fatalf("expected one assigned policy, got %d", resp.Stats.Assigned)
	}
	if resp.RefreshedAt == nil {
		t.Fatalf("expected refreshed_at to be set")
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/policies?search=EDGE&assigned=true", nil)
	rec = httptest.NewRecorder()
	api.ListPolicies(rec, req)
	resp = PolicyListResponse{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Policies) != 1 || resp.Policies[0].ID != "a" {
		t.Fatalf("expected only the firewall policy, got %+v", resp.Policies)
	}
}

func TestListPoliciesPassesTypeToStore(t *testing.T) {
	store := newFakeStore()
	api := &PolicyAPI{Store: store}

	req := httptest.NewRequest(http.MethodGet, "/v1/policies?type=deviceconfigurations", nil)
	rec := httptest.NewRecorder()
	api.ListPolicies(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if store.lastType != "deviceConfigurations" {
		t.Fatalf("expected canonical type, got %q", store.lastType)
	}
}

func TestListPoliciesRejectsBadParameters(t *testing.T) {
	var captured error
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		captured = err
		w.WriteHeader(http.StatusBadRequest)
	})
	t.Cleanup(ResetHTTPErrorResponder)

	api := &PolicyAPI{Store: newFakeStore()}
	for _, target := range []string{"/v1/policies?type=nope", "/v1/policies?assigned=maybe"} {
		captured = nil
		rec := httptest.NewRecorder()
		api.ListPolicies(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest || captured == nil {
			t.Fatalf("%s: expected a 400 with an error, got %d", target, rec.Code)
		}
	}
}

func TestListOperationsParsesQuery(t *testing.T) {
	store := newFakeStore()
	store.operations = []core.OperationRecord{{RunID: "run-1", Operation: "delete", PolicyName: "A", Status: "Success"}}
	api := &PolicyAPI{Store: store}

	req := httptest.NewRequest(http.MethodGet, "/v1/operations?run=run-1&status=Success&limit=5", nil)
	rec := httptest.NewRecorder()
	api.ListOperations(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	want := core.OperationQuery{RunID: "run-1", Status: "Success", Limit: 5}
	if store.lastQuery != want {
		t.Fatalf("expected query %+v, got %+v", want, store.lastQuery)
	}
	var records []core.OperationRecord
	if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
}

func TestListOperationsStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("disk full")
	api := &PolicyAPI{Store: store}

	rec := httptest.NewRecorder()
	api.ListOperations(rec, httptest.NewRequest(http.MethodGet, "/v1/operations", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
}

func TestGetPacing(t *testing.T) {
	cfg := graph.PacerConfig{Min: 100 * time.Millisecond, Max: 5 * time.Second}

	rec := httptest.NewRecorder()
	(&PolicyAPI{Store: newFakeStore(), Pacing: cfg}).GetPacing(rec, httptest.NewRequest(http.MethodGet, "/v1/pacing", nil))
	var idle PacingResponse
	if err := json.NewDecoder(rec.Body).Decode(&idle); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if idle.Active || idle.MaxMS != 5000 {
		t.Fatalf("unexpected idle pacing: %+v", idle)
	}

	rec = httptest.NewRecorder()
	(&PolicyAPI{Store: newFakeStore(), Pacing: cfg, Pacer: fixedPacer(400 * time.Millisecond)}).GetPacing(rec, httptest.NewRequest(http.MethodGet, "/v1/pacing", nil))
	var active PacingResponse
	if err := json.NewDecoder(rec.Body).Decode(&active); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !active.Active || active.CurrentMS != 400 {
		t.Fatalf("unexpected active pacing: %+v", active)
	}
}

func TestRefreshPolicies(t *testing.T) {
	rec := httptest.NewRecorder()
	api := &PolicyAPI{Store: newFakeStore(), Refresh: func(ctx context.Context) (int, error) { return 7, nil }}
	api.RefreshPolicies(rec, httptest.NewRequest(http.MethodPost, "/v1/policies/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp RefreshResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Stored != 7 {
		t.Fatalf("expected 7 stored, got %d", resp.Stored)
	}

	rec = httptest.NewRecorder()
	(&PolicyAPI{Store: newFakeStore()}).RefreshPolicies(rec, httptest.NewRequest(http.MethodPost, "/v1/policies/refresh", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502 without a session, got %d", rec.Code)
	}
}
