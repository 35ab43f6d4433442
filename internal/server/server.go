// Package server is the HTTP surface of the aggregator: lookup endpoints
// (single, bulk, CIDR, streaming), the provider admin surface, health and
// readiness probes and the Prometheus scrape handler, all on fasthttp.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/PureCypher/IPChecker-sub000/internal/cache"
	"github.com/PureCypher/IPChecker-sub000/internal/lookup"
	"github.com/PureCypher/IPChecker-sub000/internal/metrics"
	"github.com/PureCypher/IPChecker-sub000/internal/providers"
	"github.com/PureCypher/IPChecker-sub000/internal/ratelimit"
	"github.com/PureCypher/IPChecker-sub000/internal/storage"
	"github.com/PureCypher/IPChecker-sub000/pkg/apierr"
)

const (
	serverReadTimeout  = 60 * time.Second
	serverWriteTimeout = 60 * time.Second
)

// Fleet is the provider-manager surface the HTTP layer consumes.
type Fleet interface {
	Health() []providers.ProviderHealth
	Counts() (healthy, available int)
	ResetBreaker(name string) bool
}

// StatsReader serves the daily per-provider aggregates attached to the
// providers endpoint.
type StatsReader interface {
	ProviderStats(ctx context.Context, days int) ([]storage.ProviderDayStat, error)
}

// Config carries the static server settings.
type Config struct {
	// Version is reported on /api/health.
	Version string

	// CORSOrigins is the allowed-origin list; empty means open.
	CORSOrigins []string

	// CIDRMaxHosts bounds the CIDR endpoint and sizes its rate-limit
	// charge. Defaults to 256.
	CIDRMaxHosts int
}

// Deps carries the collaborators of the HTTP layer. Service, Fleet and
// Metrics must be non-nil. Cache, Stats, Limiter and Health may be nil,
// which disables the purge route's backend, the stats block, rate
// limiting and readiness gating respectively.
type Deps struct {
	Service *lookup.Service
	Fleet   Fleet
	Cache   cache.Cache
	Stats   StatsReader
	Limiter *ratelimit.Limiter
	Health  *HealthChecker
	Metrics *metrics.Registry
	Log     *slog.Logger
}

// Server routes API traffic to the lookup pipeline and the admin surfaces.
type Server struct {
	cfg     Config
	svc     *lookup.Service
	fleet   Fleet
	cache   cache.Cache
	stats   StatsReader
	limiter *ratelimit.Limiter
	health  *HealthChecker
	metrics *metrics.Registry
	log     *slog.Logger

	// baseCtx outlives individual requests; streaming bodies run on it
	// because the request context is recycled when the handler returns.
	baseCtx context.Context

	handler fasthttp.RequestHandler
	srv     *fasthttp.Server
}

// New assembles the router and middleware chain. ctx bounds background
// work started by streaming handlers.
func New(ctx context.Context, cfg Config, d Deps) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.CIDRMaxHosts <= 0 {
		cfg.CIDRMaxHosts = 256
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		svc:     d.Service,
		fleet:   d.Fleet,
		cache:   d.Cache,
		stats:   d.Stats,
		limiter: d.Limiter,
		health:  d.Health,
		metrics: d.Metrics,
		log:     log,
		baseCtx: ctx,
	}

	s.handler = applyMiddleware(s.router().Handler,
		recovery,
		requestID,
		timing,
		corsHandler(cfg.CORSOrigins),
		securityHeaders,
	)
	s.srv = &fasthttp.Server{
		Handler:      s.handler,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}
	return s
}

func (s *Server) router() *router.Router {
	r := router.New()

	r.POST("/api/v1/lookup", s.instrument("lookup", s.handleLookupPost))
	r.GET("/api/v1/lookup/stream", s.instrument("lookup_stream", s.handleLookupStream))
	r.GET("/api/v1/lookup/{ip}", s.instrument("lookup", s.handleLookupGet))
	r.POST("/api/v1/lookup/bulk", s.instrument("lookup_bulk", s.handleBulk))
	r.POST("/api/v1/lookup/cidr", s.instrument("lookup_cidr", s.handleCIDR))

	r.GET("/api/v1/providers", s.instrument("providers", s.handleProviders))
	r.POST("/api/v1/providers/{name}/reset", s.instrument("provider_reset", s.handleProviderReset))
	r.DELETE("/api/v1/cache", s.instrument("cache_purge", s.handleCachePurge))

	r.GET("/api/health", s.instrument("health", s.handleHealth))
	r.GET("/api/health/live", s.instrument("health_live", s.handleLive))
	r.GET("/api/health/ready", s.instrument("health_ready", s.handleReady))

	if s.metrics != nil {
		r.GET("/metrics", s.metrics.Handler())
	}

	r.NotFound = func(ctx *fasthttp.RequestCtx) {
		apierr.Write(ctx, apierr.CodeNotFound, "No handler registered for this path")
	}
	return r
}

// Handler returns the fully assembled request handler, middleware included.
func (s *Server) Handler() fasthttp.RequestHandler { return s.handler }

// ListenAndServe blocks serving on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("http server listening", slog.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

// instrument labels the route for the request metrics. Streamed responses
// report no body size.
func (s *Server) instrument(route string, h fasthttp.RequestHandler) fasthttp.RequestHandler {
	if s.metrics == nil {
		return h
	}
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		h(ctx)
		size := len(ctx.Response.Body())
		if ctx.Response.IsBodyStream() {
			size = -1
		}
		s.metrics.ObserveHTTP(route, ctx.Response.StatusCode(), time.Since(start), size)
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
