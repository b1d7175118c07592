package cmd

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/appid"
	"github.com/intunectl/intunectl/internal/config"
	"github.com/intunectl/intunectl/internal/core/store"
	errwrap "github.com/intunectl/intunectl/internal/errors"
	"github.com/intunectl/intunectl/internal/graph"
	"github.com/intunectl/intunectl/internal/intune"
	"github.com/intunectl/intunectl/internal/metrics"
	"github.com/intunectl/intunectl/internal/observability"
	"github.com/intunectl/intunectl/internal/server"
	"github.com/intunectl/intunectl/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker fails until InitMetrics has started the exporter.
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker requires the identity fields config and logging use.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

// storeHealthChecker pings the snapshot store.
type storeHealthChecker struct {
	db *store.Store
}

func (s storeHealthChecker) CheckHealth(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "store ping failed")
	}
	return nil
}

// graphSessionChecker reports unhealthy once the Graph session is closed.
type graphSessionChecker struct {
	session *graph.Session
}

func (g graphSessionChecker) CheckHealth(ctx context.Context) error {
	if g.session == nil || g.session.Closed() {
		return errwrap.WrapGraph(ctx, graph.ErrNoSession)
	}
	return nil
}

// buildPolicyAPI opens the store and, when credentials are configured, a
// Graph session for refreshes. It returns nil when the store is unavailable.
func buildPolicyAPI(ctx context.Context, hm *handlers.HealthManager) (*handlers.PolicyAPI, func()) {
	cfg, err := config.Load(ctx)
	if err != nil {
		observability.ServerLogger.Warn("Policy API disabled: config failed to load", zap.Error(err))
		return nil, func() {}
	}
	db, err := openConfiguredStore(ctx, cfg.Store)
	if err != nil {
		observability.ServerLogger.Warn("Policy API disabled: store unavailable", zap.Error(err))
		return nil, func() {}
	}
	hm.RegisterChecker("store", storeHealthChecker{db: db})
	handlers.SetGraphInfo(cfg.Graph.BaseURL, &handlers.ExecutorInfo{
		MaxRetries:     cfg.Retry.MaxRetries,
		MaxAuthRetries: cfg.Retry.MaxAuthRetries,
		PacingMinMS:    cfg.Pacing.Min.Milliseconds(),
		PacingMaxMS:    cfg.Pacing.Max.Milliseconds(),
	})

	api := &handlers.PolicyAPI{Store: db, Pacing: cfg.Pacing}
	cleanup := func() { _ = db.Close() }

	conn, err := connectGraph(ctx, cfg, db)
	if err != nil {
		observability.ServerLogger.Info("Graph refresh disabled", zap.Error(err))
		return api, cleanup
	}
	hm.RegisterOptional("graph_session", graphSessionChecker{session: conn.session})

	api.Pacer = conn.pacer
	api.Refresh = func(ctx context.Context) (int, error) {
		policies, err := fetchPolicies(ctx, conn.client, true)
		if err != nil {
			return 0, err
		}
		snapshots, err := intune.Snapshots(policies, time.Now())
		if err != nil {
			return 0, err
		}
		if err := db.ReplaceSnapshots(ctx, snapshots); err != nil {
			return 0, err
		}
		return len(snapshots), nil
	}
	return api, func() {
		_ = conn.Close()
		_ = db.Close()
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve cached policy inventory, operation history and pacing over HTTP",
	Long: `Start the read-only HTTP API.

Routes:
  /health, /health/live, /health/ready, /health/startup
  /version, /metrics
  /v1/policies, /v1/operations, /v1/pacing
  POST /v1/policies/refresh (only when Graph credentials are configured)

Signals:
  SIGINT/SIGTERM  graceful shutdown (press Ctrl+C twice within 2s to force quit)
  SIGHUP          reload the config file and reset the adaptive pacer`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	identity := GetAppIdentity()
	namespace := identity.TelemetryNamespace()

	observability.InitServerLogger(identity.BinaryName, viper.GetString("logging.level"), namespace)
	log := observability.ServerLogger

	metricsEnabled := viper.GetBool("metrics.enabled")
	metricsPort := viper.GetInt("metrics.port")
	if metricsPort == 0 {
		metricsPort = 9090
	}
	if metricsEnabled {
		if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
			log.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}
	} else {
		log.Warn("Metrics disabled; /metrics will report unavailable")
	}

	log.Info("Initializing server",
		zap.String("service", identity.BinaryName),
		zap.String("namespace", namespace),
		zap.String("version", versionInfo.Version),
		zap.String("host", serverHost),
		zap.Int("port", serverPort),
		zap.Bool("metrics_enabled", metricsEnabled),
		zap.Int("metrics_port", metricsPort))

	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	if metricsEnabled {
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
	} else {
		hm.RegisterOptional("telemetry", telemetryHealthChecker{})
	}
	hm.RegisterChecker("app_identity", identityHealthChecker{
		binaryName: identity.BinaryName,
		envPrefix:  identity.EnvPrefix,
		configName: identity.ConfigName,
	})
	handlers.SetAppIdentity(identity)

	policyAPI, cleanup := buildPolicyAPI(ctx, hm)
	defer cleanup()

	opts := []server.Option{server.WithTimeouts(server.Timeouts{
		Read:  viper.GetDuration("server.read_timeout"),
		Write: viper.GetDuration("server.write_timeout"),
		Idle:  viper.GetDuration("server.idle_timeout"),
	})}
	if policyAPI != nil {
		opts = append(opts, server.WithPolicyAPI(policyAPI))
	}
	tokenVar := appid.EnvPrefix(identity) + "ADMIN_TOKEN"
	if token := os.Getenv(tokenVar); token != "" {
		opts = append(opts, server.WithAdminToken(token))
	} else {
		log.Debug("Admin signal endpoint disabled", zap.String("env_var", tokenVar))
	}
	srv := server.New(serverHost, serverPort, opts...)

	registerServeSignals(srv, policyAPI)

	errCh := make(chan error, 2)
	go func() {
		metrics.SetServerStartTime(time.Now())
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		if err := signals.Listen(ctx); err != nil {
			log.Error("Signal handler error", zap.Error(err))
			errCh <- err
		}
	}()

	if err := <-errCh; err != nil {
		return errwrap.WrapInternal(ctx, err, "server error")
	}
	return nil
}

// registerServeSignals wires shutdown and reload. Shutdown handlers run in
// reverse registration order, so the server stops before the logger flushes.
func registerServeSignals(srv *server.Server, api *handlers.PolicyAPI) {
	log := observability.ServerLogger

	shutdownTimeout := viper.GetDuration("server.shutdown_timeout")
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	signals.OnShutdown(func(ctx context.Context) error {
		if err := log.Sync(); err != nil {
			log.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})
	signals.OnShutdown(func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}
		log.Info("HTTP server stopped gracefully")
		return nil
	})

	pacer := servePacer(api)
	signals.OnReload(func(ctx context.Context) error {
		reset, err := reloadServeConfig(viper.ReadInConfig, pacer)
		if err != nil {
			log.Error("Failed to reload config file",
				zap.String("file", viper.ConfigFileUsed()),
				zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}
		log.Info("Configuration reloaded",
			zap.String("file", viper.ConfigFileUsed()),
			zap.Bool("pacer_reset", reset))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		log.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}
}

// reloadServeConfig re-reads the config file and puts the pacer back at its
// initial delay. A missing config file is not an error. It reports whether a
// pacer was reset.
func reloadServeConfig(readConfig func() error, pacer *graph.Pacer) (bool, error) {
	if err := readConfig(); err != nil && !isConfigNotFound(err) {
		return false, err
	}
	if pacer == nil {
		return false, nil
	}
	pacer.Reset()
	return true, nil
}

// servePacer returns the adaptive pacer behind the policy API, if Graph is
// connected.
func servePacer(api *handlers.PolicyAPI) *graph.Pacer {
	if api == nil {
		return nil
	}
	pacer, _ := api.Pacer.(*graph.Pacer)
	return pacer
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
