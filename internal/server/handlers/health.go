package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/intunectl/intunectl/internal/errors"
	"github.com/intunectl/intunectl/internal/metrics"
)

// Check states reported per checker and in aggregate.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// ProbeResponse is the body of the live, ready and startup probes.
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker is implemented by anything the server depends on.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

type registeredCheck struct {
	name     string
	checker  HealthChecker
	optional bool
}

// probeSpec describes one probe endpoint.
type probeSpec struct {
	name     string
	timeout  time.Duration
	failure  string
	optional bool // run optional checks too
	full     bool // respond with HealthResponse
}

var (
	aggregateProbe = probeSpec{name: "aggregate", timeout: 5 * time.Second, failure: "aggregate health check failed", optional: true, full: true}
	liveProbe      = probeSpec{name: "live", timeout: 2 * time.Second, failure: "liveness probe failed"}
	readyProbe     = probeSpec{name: "ready", timeout: 5 * time.Second, failure: "readiness probe failed", optional: true}
	startupProbe   = probeSpec{name: "startup", timeout: 3 * time.Second, failure: "startup probe failed"}
)

// HealthManager runs registered checks for the probe endpoints. Required
// checks fail a probe; optional checks (the Graph session, for one) only
// degrade it.
type HealthManager struct {
	mu      sync.RWMutex
	checks  []registeredCheck
	version string
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{version: version}
}

// RegisterChecker adds a required check. Registering a name twice replaces
// the earlier checker.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.register(registeredCheck{name: name, checker: checker})
}

// RegisterOptional adds a check whose failure reports "degraded".
func (hm *HealthManager) RegisterOptional(name string, checker HealthChecker) {
	hm.register(registeredCheck{name: name, checker: checker, optional: true})
}

func (hm *HealthManager) register(check registeredCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	for i, existing := range hm.checks {
		if existing.name == check.name {
			hm.checks[i] = check
			return
		}
	}
	hm.checks = append(hm.checks, check)
	sort.Slice(hm.checks, func(i, j int) bool { return hm.checks[i].name < hm.checks[j].name })
}

type checkOutcome struct {
	states   map[string]string
	failures map[string]string
}

// runChecks evaluates checks in name order. Checks not reached before the
// deadline are reported as timed out.
func (hm *HealthManager) runChecks(ctx context.Context, includeOptional bool) checkOutcome {
	hm.mu.RLock()
	checks := append([]registeredCheck(nil), hm.checks...)
	hm.mu.RUnlock()

	out := checkOutcome{states: make(map[string]string, len(checks)), failures: make(map[string]string)}
	for _, check := range checks {
		if check.optional && !includeOptional {
			continue
		}
		if ctx.Err() != nil {
			out.states[check.name] = StatusTimeout
			continue
		}
		start := time.Now()
		err := check.checker.CheckHealth(ctx)
		metrics.RecordHealthCheck(check.name, err == nil, time.Since(start))
		switch {
		case err == nil:
			out.states[check.name] = StatusHealthy
		case check.optional:
			out.states[check.name] = StatusDegraded
			out.failures[check.name] = err.Error()
		default:
			out.states[check.name] = StatusUnhealthy
			out.failures[check.name] = err.Error()
		}
	}
	return out
}

// determineOverallStatus folds per-check states: any unhealthy check wins,
// then any degraded or timed out check.
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	status := StatusHealthy
	for _, state := range checks {
		switch state {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusTimeout:
			status = StatusDegraded
		}
	}
	return status
}

func (hm *HealthManager) serveProbe(w http.ResponseWriter, r *http.Request, spec probeSpec) {
	ctx, cancel := context.WithTimeout(r.Context(), spec.timeout)
	defer cancel()

	outcome := hm.runChecks(ctx, spec.optional)
	status := hm.determineOverallStatus(outcome.states)

	if status == StatusUnhealthy {
		envelope := errors.NewErrorEnvelope(apperrors.CodeUnavailable, spec.failure)
		respondWithError(w, r, enrichHealthEnvelope(envelope, spec.name, status, outcome))
		return
	}

	var body any = ProbeResponse{Status: status, Timestamp: time.Now().UTC()}
	if spec.full {
		resp := HealthResponse{
			Status:    status,
			Version:   hm.version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    outcome.states,
		}
		if len(outcome.failures) > 0 {
			resp.Failures = outcome.failures
		}
		body = resp
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// HealthHandler runs every check, optional ones included.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, aggregateProbe)
}

// LivenessHandler runs required checks only.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, liveProbe)
}

func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, readyProbe)
}

func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, startupProbe)
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, outcome checkOutcome) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{"status": status, "probe": probe}
	if len(outcome.states) > 0 {
		details["checks"] = outcome.states
	}
	if len(outcome.failures) > 0 {
		details["failures"] = outcome.failures
	}
	envelope = envelope.WithDetails(details)

	var failing []string
	for name, state := range outcome.states {
		if state != StatusHealthy {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)

	contextData := map[string]interface{}{"status": status, "probe": probe}
	if len(failing) > 0 {
		contextData["unhealthy_checks"] = failing
	}
	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

var (
	globalMu            sync.RWMutex
	globalHealthManager *HealthManager
)

// InitHealthManager replaces the process-wide manager used by the package
// level handlers.
func InitHealthManager(version string) {
	globalMu.Lock()
	globalHealthManager = NewHealthManager(version)
	globalMu.Unlock()
}

func GetHealthManager() *HealthManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalHealthManager
}

func globalProbe(spec probeSpec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hm := GetHealthManager(); hm != nil {
			hm.serveProbe(w, r, spec)
			return
		}
		envelope := errors.NewErrorEnvelope(apperrors.CodeUnavailable, "health manager not initialized")
		respondWithError(w, r, enrichHealthEnvelope(envelope, spec.name, "unknown", checkOutcome{}))
	}
}

// Package level handlers delegate to the manager set by InitHealthManager.
var (
	HealthHandler    = globalProbe(aggregateProbe)
	LivenessHandler  = globalProbe(liveProbe)
	ReadinessHandler = globalProbe(readyProbe)
	StartupHandler   = globalProbe(startupProbe)
)
