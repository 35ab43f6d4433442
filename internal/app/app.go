// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initTelemetry — metrics registry and the async lookup audit logger
//  2. initInfra     — Redis cache, Postgres store, optional ClickHouse sink
//  3. initProviders — the guarded upstream fleet and its fan-out manager
//  4. initPipeline  — correlator, LLM analyzer, rate limiter, lookup service
//  5. initServer    — health checker and the HTTP surface
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PureCypher/IPChecker-sub000/internal/cache"
	"github.com/PureCypher/IPChecker-sub000/internal/config"
	"github.com/PureCypher/IPChecker-sub000/internal/logger"
	"github.com/PureCypher/IPChecker-sub000/internal/lookup"
	"github.com/PureCypher/IPChecker-sub000/internal/metrics"
	"github.com/PureCypher/IPChecker-sub000/internal/providers"
	"github.com/PureCypher/IPChecker-sub000/internal/ratelimit"
	"github.com/PureCypher/IPChecker-sub000/internal/server"
	"github.com/PureCypher/IPChecker-sub000/internal/storage"

	"github.com/PureCypher/IPChecker-sub000/internal/analytics"
	"github.com/PureCypher/IPChecker-sub000/internal/llm"
)

const (
	// storageCleanupInterval is how often expired records are pruned from
	// the durable tier.
	storageCleanupInterval = 6 * time.Hour

	// recordGracePeriod keeps expired rows around for a while so a record
	// that just lapsed can still seed a refresh before it is dropped.
	recordGracePeriod = 7 * 24 * time.Hour

	// schemaRetryInterval paces schema bootstrap retries when Postgres was
	// unreachable at startup.
	schemaRetryInterval = 30 * time.Second
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	prom  *metrics.Registry
	audit *logger.Logger

	cache     cache.Cache
	store     *storage.Store
	analytics *analytics.Sink

	manager  *providers.Manager
	analyzer llm.Analyzer
	limiter  *ratelimit.Limiter
	svc      *lookup.Service

	health *server.HealthChecker
	srv    *server.Server

	// schemaReady records whether the Postgres schema bootstrap succeeded
	// during init. When false, Run keeps retrying in the background.
	schemaReady bool
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"telemetry", a.initTelemetry},
		{"infra", a.initInfra},
		{"providers", a.initProviders},
		{"pipeline", a.initPipeline},
		{"server", a.initServer},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and the storage maintenance loop, blocking
// until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)
	healthy, available := a.manager.Counts()

	a.log.Info("starting ipintel",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.Int("providers_enabled", available),
		slog.Int("providers_healthy", healthy),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.ListenAndServe(addr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.srv.Shutdown()
	})

	g.Go(func() error {
		a.maintainStorage(gctx)
		return nil
	})

	return g.Wait()
}

// maintainStorage finishes a deferred schema bootstrap, then prunes expired
// records on a fixed interval.
func (a *App) maintainStorage(ctx context.Context) {
	for !a.schemaReady {
		select {
		case <-ctx.Done():
			return
		case <-time.After(schemaRetryInterval):
		}
		if err := a.store.EnsureSchema(ctx); err != nil {
			a.log.Warn("schema bootstrap retry failed", slog.String("error", err.Error()))
			continue
		}
		a.schemaReady = true
		a.log.Info("database schema ready")
	}

	ticker := time.NewTicker(storageCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.store.DeleteExpired(ctx, recordGracePeriod)
			if err != nil {
				a.log.Warn("record cleanup failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.log.Info("expired records removed", slog.Int64("rows", n))
			}
		}
	}
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times.
func (a *App) Close() {
	if a.health != nil {
		a.health.Close()
		a.health = nil
	}
	if a.svc != nil {
		a.svc.Close()
		a.svc = nil
	}
	if a.limiter != nil {
		a.limiter.Close()
		a.limiter = nil
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.log.Error("audit logger close error", slog.String("error", err.Error()))
		}
		a.audit = nil
	}
	if a.analytics != nil {
		if err := a.analytics.Close(); err != nil {
			a.log.Error("analytics close error", slog.String("error", err.Error()))
		}
		a.analytics = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("postgres close error", slog.String("error", err.Error()))
		}
		a.store = nil
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.cache = nil
	}
}

// redactURL hides credentials embedded in a connection URL for safe logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	return u.Redacted()
}
