package server

import (
	"context"
	"sync"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/llm"
	"github.com/PureCypher/IPChecker-sub000/internal/metrics"
)

const healthProbeInterval = 30 * time.Second
const healthProbeTimeout = 5 * time.Second

// Probe reports whether one backing service currently responds.
type Probe func(ctx context.Context) error

// componentStatus holds the last known health result for one component.
type componentStatus struct {
	mu     sync.RWMutex
	status string // "ok" | "down"
}

func (s *componentStatus) set(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

func (s *componentStatus) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return "unknown"
	}
	return s.status
}

// HealthConfig wires the probes the checker runs every 30 seconds. Nil
// probes and a nil analyzer count as healthy so an optional backend never
// degrades the process.
type HealthConfig struct {
	Version  string
	Redis    Probe
	Postgres Probe
	Analyzer llm.Analyzer
	Fleet    Fleet
	Metrics  *metrics.Registry
}

// HealthChecker runs background probes and exposes the latest results.
type HealthChecker struct {
	cfg     HealthConfig
	baseCtx context.Context

	redisStatus componentStatus
	dbStatus    componentStatus

	mu        sync.RWMutex
	llmHealth *llm.Health
	healthy   int
	available int

	startTime time.Time
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewHealthChecker creates a HealthChecker and immediately starts
// background probes. The first probe runs synchronously so readiness is
// never reported from an empty state.
func NewHealthChecker(ctx context.Context, cfg HealthConfig) *HealthChecker {
	if ctx == nil {
		panic("healthcheck: context must not be nil")
	}
	hc := &HealthChecker{
		cfg:       cfg,
		baseCtx:   ctx,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}

	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

// ProviderCensus counts the configured upstream fleet.
type ProviderCensus struct {
	Healthy   int `json:"healthy"`
	Available int `json:"available"`
}

// ServiceHealth is the per-dependency block of the health document.
type ServiceHealth struct {
	Redis     string         `json:"redis"`
	Postgres  string         `json:"postgres"`
	Providers ProviderCensus `json:"providers"`
	LLM       *llm.Health    `json:"llm,omitempty"`
}

// HealthSnapshot is the full health document served on /api/health.
type HealthSnapshot struct {
	Status    string        `json:"status"`
	Version   string        `json:"version"`
	Uptime    int64         `json:"uptime"`
	Timestamp time.Time     `json:"timestamp"`
	Services  ServiceHealth `json:"services"`
}

// Snapshot builds the health document from the latest probe results.
// A lost storage tier marks the process unhealthy; a thinned provider
// fleet only degrades it, because lookups still work.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	redis := hc.redisStatus.get()
	db := hc.dbStatus.get()

	hc.mu.RLock()
	healthy, available := hc.healthy, hc.available
	llmHealth := hc.llmHealth
	hc.mu.RUnlock()

	status := "healthy"
	switch {
	case redis == "down" || db == "down":
		status = "unhealthy"
	case healthy == 0 || healthy < available:
		status = "degraded"
	}

	return HealthSnapshot{
		Status:    status,
		Version:   hc.cfg.Version,
		Uptime:    int64(time.Since(hc.startTime).Seconds()),
		Timestamp: time.Now().UTC(),
		Services: ServiceHealth{
			Redis:     redis,
			Postgres:  db,
			Providers: ProviderCensus{Healthy: healthy, Available: available},
			LLM:       llmHealth,
		},
	}
}

// ReadinessOK reports whether the instance should receive traffic: both
// storage tiers reachable and at least one provider able to serve.
func (hc *HealthChecker) ReadinessOK() bool {
	if hc.redisStatus.get() != "ok" || hc.dbStatus.get() != "ok" {
		return false
	}
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.healthy >= 1
}

// Close stops the background probe goroutine.
func (hc *HealthChecker) Close() {
	close(hc.done)
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	ctx, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hc.redisStatus.set(probeStatus(ctx, hc.cfg.Redis))
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		hc.dbStatus.set(probeStatus(ctx, hc.cfg.Postgres))
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if hc.cfg.Analyzer == nil {
			return
		}
		h := hc.cfg.Analyzer.HealthCheck(ctx)
		hc.mu.Lock()
		hc.llmHealth = &h
		hc.mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if hc.cfg.Fleet == nil {
			return
		}
		healthy, available := hc.cfg.Fleet.Counts()
		hc.mu.Lock()
		hc.healthy, hc.available = healthy, available
		hc.mu.Unlock()
		if hc.cfg.Metrics != nil {
			for _, ph := range hc.cfg.Fleet.Health() {
				hc.cfg.Metrics.SetProviderHealth(ph.Name, ph.Healthy)
			}
		}
	}()

	wg.Wait()
}

// probeStatus runs one probe; a nil probe means the backend is not
// configured and counts as healthy.
func probeStatus(ctx context.Context, p Probe) string {
	if p == nil {
		return "ok"
	}
	if err := p(ctx); err != nil {
		return "down"
	}
	return "ok"
}
