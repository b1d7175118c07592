// Package metrics names and emits the application's Prometheus series. All
// functions are no-ops until observability.InitMetrics has run.
package metrics

import (
	"strconv"
	"time"

	"github.com/intunectl/intunectl/internal/observability"
)

const (
	GraphRequestsTotal   = "graph_requests_total"
	GraphRetriesTotal    = "graph_retries_total"
	GraphAdaptiveDelayMS = "graph_adaptive_delay_ms"

	BulkItemsTotal = "bulk_items_total"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
	ServerStartTime     = "app_server_start_time_seconds"

	ErrorsTotal      = "errors_total"
	ErrorsByEndpoint = "errors_by_endpoint"
	PanicsTotal      = "panics_total"
)

func count(name string, labels map[string]string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(name, 1, labels)
	}
}

func gauge(name string, value float64, labels map[string]string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(name, value, labels)
	}
}

// RecordGraphRequest counts one Graph attempt. Status 0 means no response
// was received.
func RecordGraphRequest(method string, status int) {
	count(GraphRequestsTotal, map[string]string{"method": method, "status": strconv.Itoa(status)})
}

// RecordGraphRetry counts a retry by cause (throttled, unauthorized, network).
func RecordGraphRetry(reason string) {
	count(GraphRetriesTotal, map[string]string{"reason": reason})
}

// SetAdaptiveDelay publishes the pacer's current inter-request delay.
func SetAdaptiveDelay(delay time.Duration) {
	gauge(GraphAdaptiveDelayMS, float64(delay.Milliseconds()), nil)
}

func RecordBulkItem(operation string, status string) {
	count(BulkItemsTotal, map[string]string{"operation": operation, "status": status})
}

func RecordHealthCheck(check string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	count(HealthCheckTotal, map[string]string{"check": check, "status": status})
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Histogram(HealthCheckDuration, duration, map[string]string{"check": check})
	}
}

func SetServerStartTime(at time.Time) {
	gauge(ServerStartTime, float64(at.Unix()), nil)
}

// RecordError counts an API error response by envelope code.
func RecordError(code string, httpStatus int) {
	count(ErrorsTotal, map[string]string{"error_code": code, "http_status": strconv.Itoa(httpStatus)})
}

func RecordErrorByEndpoint(endpoint string, code string) {
	count(ErrorsByEndpoint, map[string]string{"endpoint": endpoint, "error_code": code})
}

func RecordPanic() {
	count(PanicsTotal, nil)
}
