package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	apperrors "github.com/intunectl/intunectl/internal/errors"
	"github.com/intunectl/intunectl/internal/observability"
)

const defaultMetricsPort = 9090

var metricsProxyClient = &http.Client{Timeout: 5 * time.Second}

// Headers that belong to the exporter connection, not the scrape.
var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// HandleError writes err through the shared API error envelope.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

// exporterURL prefers the port the exporter actually bound, then the
// metrics.port setting.
func exporterURL() string {
	port := observability.GetMetricsPort()
	if port == 0 {
		port = viper.GetInt("metrics.port")
	}
	if port == 0 {
		port = defaultMetricsPort
	}
	return fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
}

func proxyFailure(code, message, url string, err error) *errors.ErrorEnvelope {
	env, _ := errors.NewErrorEnvelope(code, message).WithContext(map[string]interface{}{
		"metrics_url":    url,
		"original_error": err.Error(),
	})
	return env
}

// MetricsHandler serves the exporter's Prometheus text on the API port, so
// executor and pacer metrics scrape from the same address as /v1.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		HandleError(w, r, errors.NewErrorEnvelope(apperrors.CodeUnavailable, "Metrics exporter not initialized"))
		return
	}

	url := exporterURL()
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		HandleError(w, r, proxyFailure(apperrors.CodeInternal, "Unable to construct metrics request", url, err))
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := metricsProxyClient.Do(req)
	if err != nil {
		HandleError(w, r, proxyFailure(apperrors.CodeExternalService, "Prometheus exporter unavailable", url, err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for key, values := range resp.Header {
		if _, skip := hopByHop[http.CanonicalHeaderKey(key)]; skip {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to write metrics response", zap.Error(err))
	}
}
