package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/intunectl/intunectl/internal/errors"
	"github.com/intunectl/intunectl/internal/observability"
	"github.com/intunectl/intunectl/internal/server/handlers"
	servermw "github.com/intunectl/intunectl/internal/server/middleware"
)

// Server serves probes, version, metrics and the read-only policy API.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	host      string
	port      int
	policyAPI  *handlers.PolicyAPI
	timeouts   Timeouts
	adminToken string
}

// Timeouts bounds the HTTP server. Zero fields keep the defaults.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithPolicyAPI mounts the /v1 policy, operation and pacing routes.
func WithPolicyAPI(api *handlers.PolicyAPI) Option {
	return func(s *Server) {
		s.policyAPI = api
	}
}

// WithAdminToken enables POST /admin/signal behind bearer token auth. An
// empty token leaves it unmounted.
func WithAdminToken(token string) Option {
	return func(s *Server) {
		s.adminToken = token
	}
}

// WithTimeouts overrides the HTTP server timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) {
		s.timeouts = t
	}
}

func New(host string, port int, opts ...Option) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	// Request id first so metrics and panics can be correlated; Recovery sits
	// inside metrics so a panic still counts as a 500.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		host:   host,
		port:   port,
		timeouts: Timeouts{
			Read:  30 * time.Second,
			Write: 30 * time.Second,
			Idle:  120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes()

	return s
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  orDefault(s.timeouts.Read, 30*time.Second),
		WriteTimeout: orDefault(s.timeouts.Write, 30*time.Second),
		IdleTimeout:  orDefault(s.timeouts.Idle, 120*time.Second),
	}

	observability.ServerLogger.Info("Starting HTTP server",
		zap.String("host", s.host),
		zap.Int("port", s.port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	observability.ServerLogger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Port() int {
	return s.port
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
