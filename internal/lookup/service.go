// Package lookup runs the aggregation pipeline: cache and durable reads,
// provider fan-out with request coalescing, correlation, optional LLM
// enrichment and best-effort write-back.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/PureCypher/IPChecker-sub000/internal/analytics"
	"github.com/PureCypher/IPChecker-sub000/internal/cache"
	"github.com/PureCypher/IPChecker-sub000/internal/intel"
	"github.com/PureCypher/IPChecker-sub000/internal/ipaddr"
	"github.com/PureCypher/IPChecker-sub000/internal/llm"
	"github.com/PureCypher/IPChecker-sub000/internal/logger"
	"github.com/PureCypher/IPChecker-sub000/internal/metrics"
	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

// ErrProvidersUnavailable is returned when every provider in the fan-out
// failed or timed out and there is nothing to correlate.
var ErrProvidersUnavailable = errors.New("All providers failed or timed out")

// persistTimeout bounds the write-back stage so a slow tier cannot hold
// the pipeline open indefinitely.
const persistTimeout = 5 * time.Second

// Config carries the pipeline tunables from the configuration layer.
type Config struct {
	CacheTTL              time.Duration
	CacheRefreshThreshold time.Duration
	BulkMaxIPs            int
	BulkConcurrency       int
	CIDRMaxHosts          int
}

// Options selects per-request pipeline behavior.
type Options struct {
	// ForceRefresh skips the cache and database reads and always runs
	// the provider fan-out. The result is still persisted.
	ForceRefresh bool

	// IncludeLLM requests model enrichment of the returned record.
	// Ignored when no analyzer is configured.
	IncludeLLM bool
}

// Store is the slice of the durable tier the pipeline needs.
// *storage.Store satisfies it.
type Store interface {
	GetRecord(ctx context.Context, ip string) (*intel.Record, bool, error)
	UpsertRecord(ctx context.Context, rec *intel.Record) error
	UpsertProviderStats(ctx context.Context, results []providers.Result) error
}

// Fanout is the provider stage. *providers.Manager satisfies it.
type Fanout interface {
	QueryAll(ctx context.Context, ip string, onProgress func(providers.Progress)) []providers.Result
	Enabled() []providers.Provider
}

// Deps wires the service's collaborators. Cache, Store, Manager,
// Correlator and Metrics must be non-nil; Analyzer, Analytics, Audit
// and Exclusions may be nil, which disables the matching stage.
type Deps struct {
	Cache      cache.Cache
	Store      Store
	Manager    Fanout
	Correlator *intel.Correlator
	Analyzer   llm.Analyzer
	Analytics  *analytics.Sink
	Audit      *logger.Logger
	Metrics    *metrics.Registry
	Exclusions *cache.ExclusionList
	Resolver   ipaddr.Resolver
	Log        *slog.Logger
}

// Service executes lookups against the two storage tiers and the
// provider fleet. Concurrent lookups for the same key share one flight.
type Service struct {
	cfg        Config
	cache      cache.Cache
	store      Store
	manager    Fanout
	correlator *intel.Correlator
	analyzer   llm.Analyzer
	analytics  *analytics.Sink
	audit      *logger.Logger
	metrics    *metrics.Registry
	exclusions *cache.ExclusionList
	resolver   ipaddr.Resolver
	log        *slog.Logger

	flights singleflight.Group
	stats   *statsSink
}

func New(cfg Config, d Deps) *Service {
	if d.Resolver == nil {
		d.Resolver = net.DefaultResolver
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Service{
		cfg:        cfg,
		cache:      d.Cache,
		store:      d.Store,
		manager:    d.Manager,
		correlator: d.Correlator,
		analyzer:   d.Analyzer,
		analytics:  d.Analytics,
		audit:      d.Audit,
		metrics:    d.Metrics,
		exclusions: d.Exclusions,
		resolver:   d.Resolver,
		log:        d.Log,
		stats:      newStatsSink(d.Store, d.Metrics, d.Log),
	}
}

// Close stops the background stats writer after draining it.
func (s *Service) Close() {
	s.stats.Close()
}

// Lookup resolves input to a single IP and runs the pipeline for it.
// When input was a hostname the returned Resolution reports what it
// resolved to; it is nil for plain IP input.
func (s *Service) Lookup(ctx context.Context, input string, opts Options) (*intel.Record, *ipaddr.Resolution, error) {
	ip, res, derr := s.resolveInput(ctx, input)
	if derr != nil {
		return nil, nil, derr
	}
	rec, err := s.lookupNormalized(ctx, ip, opts)
	if err != nil {
		return nil, res, err
	}
	return rec, res, nil
}

// Resolve validates input the way Lookup does and returns the normalized
// address without running the pipeline. Streaming handlers use it to reject
// bad input before the response status is committed.
func (s *Service) Resolve(ctx context.Context, input string) (string, *ipaddr.Resolution, error) {
	ip, res, derr := s.resolveInput(ctx, input)
	if derr != nil {
		return "", nil, derr
	}
	return ip, res, nil
}

// lookupNormalized is the single-IP pipeline behind every entry point.
// ip must already be a normalized public address.
func (s *Service) lookupNormalized(ctx context.Context, ip string, opts Options) (*intel.Record, error) {
	start := time.Now()
	s.metrics.IncActiveLookups()
	defer s.metrics.DecActiveLookups()

	if !opts.ForceRefresh {
		if rec, ok := s.fromCache(ctx, ip, opts); ok {
			s.finish(ctx, ip, rec, start, nil)
			return rec, nil
		}
		if rec, ok := s.fromStore(ctx, ip, opts); ok {
			s.finish(ctx, ip, rec, start, nil)
			return rec, nil
		}
	}

	rec, _, err := s.flight(ctx, ip, opts, flightHooks{})
	s.finish(ctx, ip, rec, start, err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) resolveInput(ctx context.Context, input string) (string, *ipaddr.Resolution, *ipaddr.Error) {
	ip, res, derr := ipaddr.NormalizeOrResolve(ctx, s.resolver, input)
	if derr != nil {
		return "", nil, derr
	}
	if res != nil {
		s.log.DebugContext(ctx, "hostname resolved",
			slog.String("hostname", res.Hostname),
			slog.String("ip", res.ResolvedIP))
	}
	return ip, res, nil
}

// fromCache serves a record from the fast tier. A hit whose remaining
// TTL fell below the refresh threshold is extended back to the full
// window so hot addresses stay cached. Excluded addresses never touch
// the fast tier.
func (s *Service) fromCache(ctx context.Context, ip string, opts Options) (*intel.Record, bool) {
	if s.exclusions.Matches(ip) {
		return nil, false
	}
	rec, remaining, ok := s.cache.Get(ctx, ip)
	if !ok {
		return nil, false
	}

	ttl := remaining
	if remaining < s.cfg.CacheRefreshThreshold {
		if err := s.cache.Extend(ctx, ip, s.cfg.CacheTTL); err == nil {
			ttl = s.cfg.CacheTTL
			rec.Metadata.ExpiresAt = time.Now().UTC().Add(ttl)
		}
	}
	rec.Metadata.Source = intel.SourceCache
	rec.Metadata.TTLSeconds = int64(ttl / time.Second)

	// Enrichment asked for but never computed for this record: do it
	// now and keep the result with the cached copy. The durable row is
	// left alone, its payload is only rewritten when provider content
	// changes.
	if opts.IncludeLLM && s.analyzer != nil && rec.Metadata.LLMAnalysis == nil {
		s.enrich(ctx, rec)
		if rec.Metadata.LLMAnalysis != nil {
			_ = s.cache.Set(ctx, ip, rec, ttl)
		}
	}
	return rec, true
}

// fromStore serves a record from the durable tier after a cache miss
// and re-warms the cache with whatever validity the row has left.
// Excluded addresses skip this tier as well, for them every lookup is
// a live one and the durable row is history only.
func (s *Service) fromStore(ctx context.Context, ip string, opts Options) (*intel.Record, bool) {
	if s.exclusions.Matches(ip) {
		return nil, false
	}
	rec, ok, err := s.store.GetRecord(ctx, ip)
	if err != nil {
		s.log.WarnContext(ctx, "database read failed",
			slog.String("ip", ip),
			slog.String("error", err.Error()))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	rec.Metadata.Source = intel.SourceDB
	if opts.IncludeLLM && s.analyzer != nil && rec.Metadata.LLMAnalysis == nil {
		s.enrich(ctx, rec)
	}
	if remaining := time.Until(rec.Metadata.ExpiresAt); remaining > 0 {
		rec.Metadata.TTLSeconds = int64(remaining / time.Second)
		_ = s.cache.Set(ctx, ip, rec, remaining)
	}
	return rec, true
}

// flightHooks observe the stages of a live flight. They fire only for
// the caller that owns the flight, never for coalesced followers.
type flightHooks struct {
	onProgress   func(providers.Progress)
	onCorrelated func(*intel.Record)
	onLLMStart   func()
}

// flight runs the fan-out stage, coalescing concurrent callers onto one
// upstream pass per (ip, options) key.
func (s *Service) flight(ctx context.Context, ip string, opts Options, hooks flightHooks) (*intel.Record, bool, error) {
	v, err, shared := s.flights.Do(flightKey(ip, opts), func() (any, error) {
		return s.runFlight(ctx, ip, opts, hooks)
	})
	if shared {
		s.metrics.RecordCoalesced()
	}
	if err != nil {
		return nil, shared, err
	}
	return v.(*intel.Record), shared, nil
}

func flightKey(ip string, opts Options) string {
	return fmt.Sprintf("%s|%t|%t", ip, opts.ForceRefresh, opts.IncludeLLM)
}

func (s *Service) runFlight(ctx context.Context, ip string, opts Options, hooks flightHooks) (*intel.Record, error) {
	results := s.manager.QueryAll(ctx, ip, hooks.onProgress)
	s.stats.Submit(results)

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	if succeeded == 0 {
		return nil, ErrProvidersUnavailable
	}

	rec := s.correlator.Correlate(ip, results, intel.SourceLive, s.cfg.CacheTTL)
	if hooks.onCorrelated != nil {
		hooks.onCorrelated(rec)
	}

	if opts.IncludeLLM && s.analyzer != nil {
		if hooks.onLLMStart != nil {
			hooks.onLLMStart()
		}
		s.enrich(ctx, rec)
	}

	s.persist(ctx, rec)
	return rec, nil
}

// enrich attaches a model assessment to rec. Failures are logged and
// swallowed, enrichment never sinks a lookup that has data.
func (s *Service) enrich(ctx context.Context, rec *intel.Record) {
	start := time.Now()
	analysis, err := s.analyzer.Analyze(ctx, rec)
	s.metrics.RecordLLM(err == nil, time.Since(start))
	if err != nil {
		s.log.WarnContext(ctx, "llm analysis failed",
			slog.String("ip", rec.IP),
			slog.String("error", err.Error()))
		return
	}
	if analysis != nil {
		rec.Metadata.LLMAnalysis = analysis
	}
}

// persist writes rec to both tiers in parallel. Failures are counted
// and logged but never surfaced; the write-back is detached from the
// caller's cancellation so a dropped client cannot abort it.
func (s *Service) persist(ctx context.Context, rec *intel.Record) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	var wg sync.WaitGroup
	if !s.exclusions.Matches(rec.IP) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.cache.Set(pctx, rec.IP, rec, s.cfg.CacheTTL); err != nil {
				s.metrics.RecordPersistFailure("cache")
				s.log.WarnContext(pctx, "cache write failed",
					slog.String("ip", rec.IP),
					slog.String("error", err.Error()))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.store.UpsertRecord(pctx, rec); err != nil {
			s.metrics.RecordPersistFailure("postgres")
			s.log.WarnContext(pctx, "database write failed",
				slog.String("ip", rec.IP),
				slog.String("error", err.Error()))
		}
	}()
	wg.Wait()
}

// finish records the lookup outcome in metrics, the audit log and the
// analytics sink. rec is nil when the lookup failed.
func (s *Service) finish(ctx context.Context, ip string, rec *intel.Record, start time.Time, err error) {
	dur := time.Since(start)

	source := "error"
	if rec != nil {
		source = string(rec.Metadata.Source)
	}
	s.metrics.RecordLookup(source, dur)

	entry := logger.LookupLog{
		RequestID:  RequestIDFrom(ctx),
		IP:         ip,
		Source:     source,
		DurationMs: dur.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if rec != nil {
		entry.ProvidersQueried = rec.Metadata.ProvidersQueried
		entry.ProvidersSucceeded = rec.Metadata.ProvidersSucceeded
		entry.RiskLevel = string(rec.Threat.RiskLevel)
		entry.Cached = rec.Metadata.Source != intel.SourceLive
		entry.LLMAnalyzed = rec.Metadata.LLMAnalysis != nil
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if s.audit != nil {
		s.audit.Log(entry)
	}

	if rec != nil {
		country := ""
		if rec.Location.Country != nil {
			country = *rec.Location.Country
		}
		s.analytics.Record(ctx, analytics.Event{
			Time:               time.Now().UTC(),
			RequestID:          entry.RequestID,
			IP:                 ip,
			Source:             source,
			RiskLevel:          string(rec.Threat.RiskLevel),
			Country:            country,
			ProvidersQueried:   rec.Metadata.ProvidersQueried,
			ProvidersSucceeded: rec.Metadata.ProvidersSucceeded,
			DurationMS:         dur.Milliseconds(),
			Cached:             rec.Metadata.Source != intel.SourceLive,
			LLMAnalyzed:        rec.Metadata.LLMAnalysis != nil,
		})
	}
}

type ctxKey int

const requestIDKey ctxKey = 0

// WithRequestID tags ctx with the request id assigned by the HTTP layer
// so the audit and analytics trails can carry it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request id from ctx, or "" when unset.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
