package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/analytics"
	"github.com/PureCypher/IPChecker-sub000/internal/cache"
	"github.com/PureCypher/IPChecker-sub000/internal/intel"
	"github.com/PureCypher/IPChecker-sub000/internal/llm"
	"github.com/PureCypher/IPChecker-sub000/internal/logger"
	"github.com/PureCypher/IPChecker-sub000/internal/lookup"
	"github.com/PureCypher/IPChecker-sub000/internal/metrics"
	"github.com/PureCypher/IPChecker-sub000/internal/providers"
	"github.com/PureCypher/IPChecker-sub000/internal/providers/adapters"
	"github.com/PureCypher/IPChecker-sub000/internal/ratelimit"
	"github.com/PureCypher/IPChecker-sub000/internal/server"
	"github.com/PureCypher/IPChecker-sub000/internal/storage"
)

// initTelemetry creates the Prometheus registry and the async audit logger.
// Both exist before anything else so every later subsystem can record into
// them.
func (a *App) initTelemetry(_ context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	audit, err := logger.New(a.baseCtx, a.log, func() { a.prom.RecordDropped("audit") })
	if err != nil {
		return err
	}
	a.audit = audit
	return nil
}

// initInfra establishes the storage tiers. Neither tier has to be reachable
// for the process to come up: the cache degrades to a pass-through and the
// readiness probe keeps traffic away until Postgres answers. Only a schema
// bootstrap that fails against a *reachable* database is fatal, because that
// means DDL or permission trouble no retry will fix.
func (a *App) initInfra(ctx context.Context) error {
	a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))
	rc, err := cache.NewRedis(a.cfg.Redis.URL, a.prom, a.log)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.cache = rc
	if err := rc.Ping(ctx); err != nil {
		a.log.Warn("redis unreachable, cache degraded until it returns",
			slog.String("error", err.Error()))
	}

	a.log.Info("connecting to postgres", slog.String("url", redactURL(a.cfg.Database.URL)))
	store, err := storage.New(a.cfg.Database.URL, a.log)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	a.store = store
	if err := store.Ready(ctx); err != nil {
		a.log.Warn("postgres unreachable, schema bootstrap deferred",
			slog.String("error", err.Error()))
	} else {
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
		a.schemaReady = true
	}

	if a.cfg.ClickHouse.Addr != "" {
		a.initAnalytics(ctx)
	}

	return nil
}

// initAnalytics brings up the optional ClickHouse sink. The sink is advisory,
// any failure here disables it with a warning instead of sinking the boot.
func (a *App) initAnalytics(ctx context.Context) {
	sink, err := analytics.New(analytics.Options{
		Addr:     a.cfg.ClickHouse.Addr,
		Database: a.cfg.ClickHouse.Database,
		Username: a.cfg.ClickHouse.Username,
		Password: a.cfg.ClickHouse.Password,
	}, a.prom, a.log)
	if err != nil {
		a.log.Warn("clickhouse sink disabled", slog.String("error", err.Error()))
		return
	}
	if err := sink.EnsureSchema(ctx); err != nil {
		a.log.Warn("clickhouse sink disabled", slog.String("error", err.Error()))
		_ = sink.Close()
		return
	}
	a.analytics = sink
	a.log.Info("clickhouse analytics enabled", slog.String("addr", a.cfg.ClickHouse.Addr))
}

// initProviders builds the guarded fleet in catalog order and the manager
// that fans out to it. Registration order is load-bearing: correlation
// tie-breaking and the result slice both follow it.
func (a *App) initProviders(_ context.Context) error {
	client := providers.NewHTTPClient()
	breakerCfg := providers.BreakerConfig{
		FailureThreshold: a.cfg.CircuitBreaker.FailureThreshold,
		ResetTimeout:     a.cfg.CircuitBreaker.ResetTimeout,
		HalfOpenAttempts: a.cfg.CircuitBreaker.HalfOpenAttempts,
	}

	provs := make([]providers.Provider, 0, len(a.cfg.Providers))
	for _, ps := range a.cfg.Providers {
		fetcher, ok := adapters.Build(ps.Name, ps.APIKey, ps.BaseURL, client)
		if !ok {
			return fmt.Errorf("no adapter for provider %q", ps.Name)
		}
		breaker := providers.NewCircuitBreaker(ps.Name, breakerCfg, a.prom.SetCircuitBreaker)
		provs = append(provs, providers.New(fetcher, providers.Settings{
			Enabled:       ps.Enabled,
			Timeout:       ps.Timeout,
			Retries:       ps.Retries,
			RetryDelay:    ps.RetryDelay,
			RetryMaxDelay: ps.RetryMaxDelay,
			TrustRank:     ps.TrustRank,
		}, breaker, a.prom, a.log))
	}

	a.manager = providers.NewManager(provs, a.cfg.Fanout.Concurrency, a.cfg.Fanout.GlobalTimeout, a.log)

	enabled := len(a.manager.Enabled())
	if enabled == 0 {
		return fmt.Errorf("no providers enabled; configure API keys or enable a key-less provider")
	}
	a.log.Info("providers registered",
		slog.Int("total", len(provs)),
		slog.Int("enabled", enabled))

	return nil
}

// initPipeline assembles the lookup service and everything it consults.
func (a *App) initPipeline(ctx context.Context) error {
	exclusions, err := cache.NewExclusionList(a.cfg.Lookup.CacheExcludeIPs, a.cfg.Lookup.CacheExcludeCIDRs)
	if err != nil {
		return err
	}
	if n := exclusions.Len(); n > 0 {
		a.log.Info("cache exclusions loaded", slog.Int("rules", n))
	}

	if a.cfg.LLM.Enabled {
		analyzer, err := llm.New(ctx, llm.Config{
			Provider: a.cfg.LLM.Provider,
			APIKey:   a.cfg.LLM.APIKey,
			Model:    a.cfg.LLM.Model,
			Timeout:  a.cfg.LLM.Timeout,
		})
		if err != nil {
			return fmt.Errorf("llm: %w", err)
		}
		a.analyzer = analyzer
		if analyzer != nil {
			a.log.Info("llm enrichment enabled",
				slog.String("provider", analyzer.Name()),
				slog.String("model", analyzer.Model()))
		}
	}

	correlator := intel.NewCorrelator(a.cfg.TrustRanks(),
		intel.WithVPNExtractor(adapters.VPNProviderFromRaw),
		intel.WithVPNAuthority(a.cfg.VPNAuthority),
	)

	a.limiter = ratelimit.New(a.cfg.RateLimit.BulkIPsPerMinute, time.Minute)

	a.svc = lookup.New(lookup.Config{
		CacheTTL:              a.cfg.Lookup.CacheTTL,
		CacheRefreshThreshold: a.cfg.Lookup.CacheRefreshThreshold,
		BulkMaxIPs:            a.cfg.Lookup.BulkMaxIPs,
		BulkConcurrency:       a.cfg.Lookup.BulkConcurrency,
		CIDRMaxHosts:          a.cfg.Lookup.CIDRMaxHosts,
	}, lookup.Deps{
		Cache:      a.cache,
		Store:      a.store,
		Manager:    a.manager,
		Correlator: correlator,
		Analyzer:   a.analyzer,
		Analytics:  a.analytics,
		Audit:      a.audit,
		Metrics:    a.prom,
		Exclusions: exclusions,
		Log:        a.log,
	})

	return nil
}

// initServer wires the health checker and the HTTP surface.
func (a *App) initServer(_ context.Context) error {
	a.health = server.NewHealthChecker(a.baseCtx, server.HealthConfig{
		Version:  a.version,
		Redis:    a.cache.Ping,
		Postgres: a.store.Ready,
		Analyzer: a.analyzer,
		Fleet:    a.manager,
		Metrics:  a.prom,
	})

	a.srv = server.New(a.baseCtx, server.Config{
		Version:      a.version,
		CORSOrigins:  a.cfg.CORSOrigins,
		CIDRMaxHosts: a.cfg.Lookup.CIDRMaxHosts,
	}, server.Deps{
		Service: a.svc,
		Fleet:   a.manager,
		Cache:   a.cache,
		Stats:   a.store,
		Limiter: a.limiter,
		Health:  a.health,
		Metrics: a.prom,
		Log:     a.log,
	})

	return nil
}
