package server

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/observability"
	"github.com/intunectl/intunectl/internal/server/handlers"
)

// Admin signal endpoint limits, per client.
const (
	adminSignalPath = "/admin/signal"
	adminRatePerMin = 10
	adminRateBurst  = 5
)

type route struct {
	method  string
	path    string
	handler http.HandlerFunc
}

// probeRoutes are always mounted.
var probeRoutes = []route{
	{http.MethodGet, "/health", handlers.HealthHandler},
	{http.MethodGet, "/health/live", handlers.LivenessHandler},
	{http.MethodGet, "/health/ready", handlers.ReadinessHandler},
	{http.MethodGet, "/health/startup", handlers.StartupHandler},
	{http.MethodGet, "/version", handlers.VersionHandler},
	{http.MethodGet, "/metrics", MetricsHandler},
}

func (s *Server) registerRoutes() {
	for _, rt := range probeRoutes {
		s.router.Method(rt.method, rt.path, rt.handler)
	}

	if api := s.policyAPI; api != nil && api.Store != nil {
		s.router.Route("/v1", func(r chi.Router) {
			r.Get("/policies", api.ListPolicies)
			r.Post("/policies/refresh", api.RefreshPolicies)
			r.Get("/operations", api.ListOperations)
			r.Get("/pacing", api.GetPacing)
		})
	}

	if s.adminToken != "" {
		s.registerAdminEndpoint()
	}
}

// registerAdminEndpoint exposes gofulmen's signal handler so an operator can
// trigger a reload (and with it a pacer reset) over HTTP.
func (s *Server) registerAdminEndpoint() {
	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.adminToken,
		RateLimit: adminRatePerMin,
		RateBurst: adminRateBurst,
	})
	s.router.Post(adminSignalPath, handler.ServeHTTP)

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", adminSignalPath),
			zap.Int("rate_per_min", adminRatePerMin),
			zap.Int("burst", adminRateBurst))
		logger.Warn("Admin endpoint enabled; keep this server off the public internet")
	}
}
