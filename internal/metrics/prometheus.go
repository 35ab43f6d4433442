// Package metrics provides a Prometheus metrics registry for the service.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// ipintel_active_lookups
	activeLookups prometheus.Gauge

	// ipintel_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// ipintel_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// ipintel_http_response_size_bytes{route,status}
	httpRespSize *prometheus.HistogramVec

	// ipintel_provider_requests_total{provider,status}
	providerRequests *prometheus.CounterVec

	// ipintel_provider_latency_seconds{provider}
	providerLatency *prometheus.HistogramVec

	// ipintel_provider_retries_total{provider}
	providerRetries *prometheus.CounterVec

	// ipintel_circuit_breaker_state{provider} — 0=closed, 1=open, 2=half-open
	circuitBreakerState *prometheus.GaugeVec

	// ipintel_circuit_breaker_transitions_total{provider,to_state}
	cbTransitions *prometheus.CounterVec

	// ipintel_circuit_breaker_rejections_total{provider}
	cbRejections *prometheus.CounterVec

	// ipintel_lookups_total{source}
	lookupsTotal *prometheus.CounterVec

	// ipintel_lookup_duration_seconds
	lookupDuration prometheus.Histogram

	// ipintel_coalesced_lookups_total
	coalescedTotal prometheus.Counter

	// ipintel_cache_hits_total / ipintel_cache_misses_total
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	// ipintel_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// ipintel_persist_failures_total{tier}
	persistFailures *prometheus.CounterVec

	// ipintel_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// ipintel_llm_requests_total{status}
	llmRequests *prometheus.CounterVec

	// ipintel_llm_duration_seconds
	llmDuration prometheus.Histogram

	// ipintel_dropped_entries_total{sink}
	droppedEntries *prometheus.CounterVec

	// ipintel_analytics_events_total{status}
	analyticsEvents *prometheus.CounterVec

	// ipintel_provider_health{provider}
	providerHealth *prometheus.GaugeVec

	// ipintel_build_info{version}
	buildInfo *prometheus.GaugeVec

	cbMu        sync.Mutex
	lastCBState map[string]float64

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg:         reg,
		lastCBState: make(map[string]float64),

		activeLookups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ipintel_active_lookups",
			Help: "Current number of in-flight lookup pipelines",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipintel_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ipintel_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (end-to-end)",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		httpRespSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ipintel_http_response_size_bytes",
				Help:    "HTTP response body size in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 2, 12), // 256B .. ~512KB
			},
			[]string{"route", "status"},
		),

		providerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipintel_provider_requests_total",
				Help: "Total provider lookups by outcome",
			},
			[]string{"provider", "status"},
		),

		providerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ipintel_provider_latency_seconds",
				Help:    "Provider lookup latency in seconds (successful calls)",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
			},
			[]string{"provider"},
		),

		providerRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipintel_provider_retries_total",
				Help: "Retry attempts per provider (excludes the first try)",
			},
			[]string{"provider"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ipintel_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed,1=open,2=half-open)",
			},
			[]string{"provider"},
		),

		cbTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipintel_circuit_breaker_transitions_total",
				Help: "Circuit breaker transitions to a new state",
			},
			[]string{"provider", "to_state"},
		),

		cbRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipintel_circuit_breaker_rejections_total",
				Help: "Lookups rejected by an open circuit breaker",
			},
			[]string{"provider"},
		),

		lookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipintel_lookups_total",
				Help: "Completed lookups by record source",
			},
			[]string{"source"},
		),

		lookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ipintel_lookup_duration_seconds",
			Help:    "Single-IP lookup duration in seconds (all sources)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		coalescedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipintel_coalesced_lookups_total",
			Help: "Lookups that joined an identical in-flight request",
		}),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipintel_cache_hits_total",
			Help: "Total cache hits",
		}),

		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipintel_cache_misses_total",
			Help: "Total cache misses",
		}),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipintel_cache_operations_total",
				Help: "Cache operations by type and result",
			},
			[]string{"op", "result"},
		),

		persistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipintel_persist_failures_total",
				Help: "Best-effort persistence failures by tier",
			},
			[]string{"tier"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipintel_ratelimit_total",
				Help: "Bulk rate limit decisions",
			},
			[]string{"result"},
		),

		llmRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipintel_llm_requests_total",
				Help: "LLM enrichment calls by outcome",
			},
			[]string{"status"},
		),

		llmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ipintel_llm_duration_seconds",
			Help:    "LLM enrichment call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),

		droppedEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipintel_dropped_entries_total",
				Help: "Entries dropped by bounded background sinks",
			},
			[]string{"sink"},
		),

		analyticsEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipintel_analytics_events_total",
				Help: "Lookup events written to the analytics sink",
			},
			[]string{"status"},
		),

		providerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ipintel_provider_health",
				Help: "Provider health status (1=healthy, 0=unhealthy)",
			},
			[]string{"provider"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ipintel_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.activeLookups,
		r.httpRequestsTotal,
		r.httpDuration,
		r.httpRespSize,
		r.providerRequests,
		r.providerLatency,
		r.providerRetries,
		r.circuitBreakerState,
		r.cbTransitions,
		r.cbRejections,
		r.lookupsTotal,
		r.lookupDuration,
		r.coalescedTotal,
		r.cacheHits,
		r.cacheMisses,
		r.cacheOps,
		r.persistFailures,
		r.rateLimitTotal,
		r.llmRequests,
		r.llmDuration,
		r.droppedEntries,
		r.analyticsEvents,
		r.providerHealth,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

// RecordProviderRequest counts one settled provider lookup and, on success,
// observes its latency.
func (r *Registry) RecordProviderRequest(provider string, success bool, latency time.Duration) {
	status := "error"
	if success {
		status = "success"
		r.providerLatency.WithLabelValues(provider).Observe(latency.Seconds())
	}
	r.providerRequests.WithLabelValues(provider, status).Inc()
}

func (r *Registry) RecordProviderRetry(provider string) {
	r.providerRetries.WithLabelValues(provider).Inc()
}

func (r *Registry) IncActiveLookups() { r.activeLookups.Inc() }
func (r *Registry) DecActiveLookups() { r.activeLookups.Dec() }

// ObserveHTTP records end-to-end HTTP metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration, respBytes int) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
	if respBytes >= 0 {
		r.httpRespSize.WithLabelValues(route, status).Observe(float64(respBytes))
	}
}

// RecordLookup records one completed lookup by the source that served it
// (cache, db, live, error).
func (r *Registry) RecordLookup(source string, dur time.Duration) {
	r.lookupsTotal.WithLabelValues(source).Inc()
	r.lookupDuration.Observe(dur.Seconds())
}

func (r *Registry) RecordCoalesced() {
	r.coalescedTotal.Inc()
}

func (r *Registry) RecordRateLimit(result string) {
	r.rateLimitTotal.WithLabelValues(result).Inc()
}

func (r *Registry) CacheGetHit() {
	r.cacheHits.Inc()
	r.cacheOps.WithLabelValues("get", "hit").Inc()
}

func (r *Registry) CacheGetMiss() {
	r.cacheMisses.Inc()
	r.cacheOps.WithLabelValues("get", "miss").Inc()
}

func (r *Registry) CacheGetError() {
	r.cacheOps.WithLabelValues("get", "error").Inc()
}

func (r *Registry) CacheSetOK() {
	r.cacheOps.WithLabelValues("set", "ok").Inc()
}

func (r *Registry) CacheSetError() {
	r.cacheOps.WithLabelValues("set", "error").Inc()
}

func (r *Registry) RecordPersistFailure(tier string) {
	r.persistFailures.WithLabelValues(tier).Inc()
}

// RecordLLM counts one enrichment attempt and observes its duration.
func (r *Registry) RecordLLM(success bool, dur time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	r.llmRequests.WithLabelValues(status).Inc()
	r.llmDuration.Observe(dur.Seconds())
}

// RecordDropped counts an entry discarded by a bounded background sink
// (audit logger, stats writer).
func (r *Registry) RecordDropped(sink string) {
	r.droppedEntries.WithLabelValues(sink).Inc()
}

func (r *Registry) RecordAnalyticsEvent(ok bool) {
	status := "error"
	if ok {
		status = "ok"
	}
	r.analyticsEvents.WithLabelValues(status).Inc()
}

func (r *Registry) SetProviderHealth(provider string, ok bool) {
	if ok {
		r.providerHealth.WithLabelValues(provider).Set(1)
		return
	}
	r.providerHealth.WithLabelValues(provider).Set(0)
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

// SetCircuitBreaker sets the circuit breaker state gauge and increments a
// transition counter when the state changes.
func (r *Registry) SetCircuitBreaker(provider string, state int64) {
	r.circuitBreakerState.WithLabelValues(provider).Set(float64(state))

	r.cbMu.Lock()
	prev, ok := r.lastCBState[provider]
	if !ok || prev != float64(state) {
		r.lastCBState[provider] = float64(state)
		toState := strconv.FormatInt(state, 10)
		r.cbTransitions.WithLabelValues(provider, toState).Inc()
	}
	r.cbMu.Unlock()
}

func (r *Registry) RecordCircuitBreakerRejection(provider string) {
	r.cbRejections.WithLabelValues(provider).Inc()
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
