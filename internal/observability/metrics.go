package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

var (
	// TelemetrySystem is nil until InitMetrics succeeds; emitters check it.
	TelemetrySystem *telemetry.System

	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

const fallbackMetricsPort = 9090

// InitMetrics starts the Prometheus exporter on port (0 picks a free port)
// and routes the telemetry system to it. Series are prefixed with namespace
// when given, else serviceName.
func InitMetrics(serviceName string, port int, namespace ...string) error {
	if port < 0 {
		port = 0
	}
	metricsPort = port

	prefix := serviceName
	if len(namespace) > 0 && namespace[0] != "" {
		prefix = namespace[0]
	}

	exporter := exporters.NewPrometheusExporter(prefix, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return err
	}
	PrometheusExporter = exporter

	switch bound, err := resolvePort(exporter.GetAddr()); {
	case err == nil:
		metricsPort = bound
	case port == 0:
		metricsPort = fallbackMetricsPort
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exporter})
	if err != nil {
		return err
	}
	TelemetrySystem = sys
	return nil
}

// GetMetricsPort reports the port the exporter bound, for the /metrics proxy.
func GetMetricsPort() int {
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
