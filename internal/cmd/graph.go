package cmd

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/config"
	"github.com/intunectl/intunectl/internal/core/engine"
	"github.com/intunectl/intunectl/internal/core/store"
	"github.com/intunectl/intunectl/internal/graph"
	"github.com/intunectl/intunectl/internal/intune"
	"github.com/intunectl/intunectl/internal/metrics"
	"github.com/intunectl/intunectl/internal/observability"
)

// graphConn is a signed-in Graph session with its Intune client.
type graphConn struct {
	session *graph.Session
	client  *intune.Client
	pacer   *graph.Pacer
}

func (c *graphConn) Close() error {
	if c == nil || c.session == nil {
		return nil
	}
	return c.session.Close()
}

// newLimiter returns the persisted limiter, or nil when no store is open.
func newLimiter(cfg *config.Config, db *store.Store) *engine.RateLimiter {
	if db == nil {
		return nil
	}
	limiter := &engine.RateLimiter{Store: db}
	limiter.ApplyOverrides(cfg.RateLimits)
	limiter.ApplySafetyMargin(cfg.RateLimitMargin)
	return limiter
}

// connectGraph signs in with the configured credential and wires the
// executor, pacer and rate limiter together.
func connectGraph(ctx context.Context, cfg *config.Config, db *store.Store) (*graphConn, error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}

	pacer := graph.NewPacer(cfg.Pacing)
	pacer.OnChange(metrics.SetAdaptiveDelay)
	metrics.SetAdaptiveDelay(pacer.Current())

	cred, err := graph.NewCredential(cfg.Graph.Credentials)
	if err != nil {
		return nil, err
	}
	session, err := graph.NewSession(ctx, cred, graph.WithPacer(pacer))
	if err != nil {
		return nil, err
	}

	exec := &graph.Executor{
		Session:        session,
		Client:         &http.Client{Timeout: cfg.Graph.Timeout},
		MaxRetries:     cfg.Retry.MaxRetries,
		MaxAuthRetries: cfg.Retry.MaxAuthRetries,
		Logger:         observability.Current(),
	}
	if limiter := newLimiter(cfg, db); limiter != nil {
		exec.Recorder = limiter
	}

	if log := observability.Current(); log != nil {
		log.Debug("Graph session ready",
			zap.String("base_url", cfg.Graph.BaseURL),
			zap.Int("max_retries", exec.MaxRetries),
			zap.Duration("initial_delay", pacer.Current()),
		)
	}

	return &graphConn{
		session: session,
		pacer:   pacer,
		client: &intune.Client{
			Exec:          exec,
			BaseURL:       cfg.Graph.BaseURL,
			GroupsBaseURL: cfg.Graph.GroupsBaseURL,
		},
	}, nil
}

// loadRuntime loads config and opens the store. The store is optional for
// read-only commands; failures to open it are logged and tolerated.
func loadRuntime(ctx context.Context) (*config.Config, *store.Store, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	db, err := openConfiguredStore(ctx, cfg.Store)
	if err != nil {
		if observability.CLILogger != nil {
			observability.CLILogger.Warn("Store unavailable; continuing without persistence", zap.Error(err))
		}
		return cfg, nil, nil
	}
	return cfg, db, nil
}
