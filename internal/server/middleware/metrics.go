package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/observability"
)

// statusRecorder captures the status and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// getEndpointPattern returns a low-cardinality label for the request: the
// matched chi route when there is one, else a fixed bucket.
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/version", path == "/metrics", path == "/":
		return path
	case strings.HasPrefix(path, "/v1/"):
		return "/v1/*"
	case strings.HasPrefix(path, "/admin/"):
		return "/admin/*"
	default:
		return "/unknown"
	}
}

func isProbe(endpoint string) bool {
	return endpoint == "/health/*" || strings.HasPrefix(endpoint, "/health")
}

// RequestMetrics emits http_* series for every request and logs it. Probe
// traffic is logged at debug level.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sys := observability.TelemetrySystem
		if sys == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		endpoint := getEndpointPattern(r)
		status := strconv.Itoa(rec.status)
		labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status": status}
		sizeLabels := map[string]string{"method": r.Method, "endpoint": endpoint}

		requestSize := r.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		_ = sys.Counter("http_requests_total", 1, labels)
		_ = sys.Histogram("http_request_duration_ms", elapsed, labels)
		_ = sys.Gauge("http_request_size_bytes", float64(requestSize), sizeLabels)
		_ = sys.Gauge("http_response_size_bytes", float64(rec.written), sizeLabels)

		if rec.status >= http.StatusBadRequest {
			errorType := "client_error"
			if rec.status >= http.StatusInternalServerError {
				errorType = "server_error"
			}
			_ = sys.Counter("http_errors_total", 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": errorType,
			})
		}

		log := observability.ServerLogger
		if log == nil {
			return
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed),
			zap.Int64("request_size", requestSize),
			zap.Int64("response_size", rec.written),
			zap.String("request_id", GetRequestID(r.Context())),
		}
		if isProbe(endpoint) {
			log.Debug("HTTP request completed", fields...)
			return
		}
		log.Info("HTTP request completed", fields...)
	})
}
