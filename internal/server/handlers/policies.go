package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/intunectl/intunectl/internal/errors"

	"github.com/intunectl/intunectl/internal/core"
	"github.com/intunectl/intunectl/internal/graph"
	"github.com/intunectl/intunectl/internal/intune"
	"github.com/intunectl/intunectl/internal/output"
)

// PolicyStore is the persisted state the policy API reads.
type PolicyStore interface {
	ListSnapshots(ctx context.Context, policyType string) ([]core.PolicySnapshot, error)
	LastRefresh(ctx context.Context) (*time.Time, error)
	ListOperations(ctx context.Context, q core.OperationQuery) ([]core.OperationRecord, error)
}

// PacingSource reports the current adaptive delay.
type PacingSource interface {
	Current() time.Duration
}

// PolicyAPI serves stored policy snapshots, the operation log and pacing
// state. Refresh, when set, re-reads Graph into the snapshot store.
type PolicyAPI struct {
	Store   PolicyStore
	Pacer   PacingSource
	Pacing  graph.PacerConfig
	Refresh func(ctx context.Context) (int, error)
}

// PolicyListResponse is the body of GET /v1/policies.
type PolicyListResponse struct {
	RefreshedAt *time.Time          `json:"refreshed_at,omitempty"`
	Stats       intune.Stats        `json:"stats"`
	Policies    []output.PolicyView `json:"policies"`
}

// PacingResponse is the body of GET /v1/pacing.
type PacingResponse struct {
	Active    bool  `json:"active"`
	CurrentMS int64 `json:"current_ms"`
	MinMS     int64 `json:"min_ms"`
	MaxMS     int64 `json:"max_ms"`
}

// RefreshResponse is the body of POST /v1/policies/refresh.
type RefreshResponse struct {
	Stored int `json:"stored"`
}

// ListPolicies returns stored snapshots, filtered by the type, search and
// assigned query parameters.
func (a *PolicyAPI) ListPolicies(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := intune.Filter{Search: query.Get("search")}
	if raw := strings.TrimSpace(query.Get("type")); raw != "" {
		t, err := intune.ParsePolicyType(raw)
		if err != nil {
			respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid policy type"))
			return
		}
		filter.Type = t
	}
	if raw := strings.TrimSpace(query.Get("assigned")); raw != "" {
		assigned, err := strconv.ParseBool(raw)
		if err != nil {
			respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "assigned must be a boolean"))
			return
		}
		filter.AssignedOnly = assigned
	}

	snapshots, err := a.Store.ListSnapshots(r.Context(), string(filter.Type))
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list policies"))
		return
	}
	policies := make([]*intune.Policy, 0, len(snapshots))
	for _, snap := range snapshots {
		p, err := intune.FromSnapshot(snap)
		if err != nil {
			respondWithError(w, r, apperrors.WrapDataProcessing(r.Context(), err, "stored policy is unreadable"))
			return
		}
		policies = append(policies, p)
	}
	policies = filter.Apply(policies)
	intune.SortByName(policies)

	refreshed, err := a.Store.LastRefresh(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to read refresh time"))
		return
	}

	views := make([]output.PolicyView, 0, len(policies))
	for _, p := range policies {
		views = append(views, output.ViewOf(p))
	}
	writeJSON(w, http.StatusOK, PolicyListResponse{
		RefreshedAt: refreshed,
		Stats:       intune.ComputeStats(policies),
		Policies:    views,
	})
}

// RefreshPolicies re-reads every policy from Graph into the store.
func (a *PolicyAPI) RefreshPolicies(w http.ResponseWriter, r *http.Request) {
	if a.Refresh == nil {
		respondWithError(w, r, apperrors.NewExternalServiceError("no Graph session is configured"))
		return
	}
	stored, err := a.Refresh(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapGraph(r.Context(), err))
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Stored: stored})
}

// ListOperations returns operation log rows filtered by run, operation,
// status and limit.
func (a *PolicyAPI) ListOperations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := core.OperationQuery{
		RunID:     query.Get("run"),
		Operation: query.Get("operation"),
		Status:    query.Get("status"),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondWithError(w, r, apperrors.NewInvalidInputError("limit must be a non-negative integer"))
			return
		}
		q.Limit = limit
	}

	records, err := a.Store.ListOperations(r.Context(), q)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list operations"))
		return
	}
	if records == nil {
		records = []core.OperationRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetPacing reports the adaptive delay of the active Graph session.
func (a *PolicyAPI) GetPacing(w http.ResponseWriter, r *http.Request) {
	resp := PacingResponse{
		MinMS: a.Pacing.Min.Milliseconds(),
		MaxMS: a.Pacing.Max.Milliseconds(),
	}
	if a.Pacer != nil {
		resp.Active = true
		resp.CurrentMS = a.Pacer.Current().Milliseconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
