package providers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/metrics"
)

// guarded wraps a Fetcher with the full provider shell: enabled gate,
// circuit breaker, per-attempt timeout, retry with jittered exponential
// backoff and request metrics.
type guarded struct {
	fetcher Fetcher
	cfg     Settings
	breaker *CircuitBreaker
	metrics *metrics.Registry
	log     *slog.Logger
}

// New wraps fetcher into a guarded Provider.
func New(fetcher Fetcher, cfg Settings, breaker *CircuitBreaker, reg *metrics.Registry, log *slog.Logger) Provider {
	return &guarded{
		fetcher: fetcher,
		cfg:     cfg,
		breaker: breaker,
		metrics: reg,
		log:     log.With(slog.String("provider", fetcher.Name())),
	}
}

func (g *guarded) Name() string  { return g.fetcher.Name() }
func (g *guarded) Enabled() bool { return g.cfg.Enabled }

func (g *guarded) TrustRank() int {
	if g.cfg.TrustRank <= 0 {
		return DefaultTrustRank
	}
	return g.cfg.TrustRank
}

func (g *guarded) Healthy() bool            { return g.breaker.Healthy() }
func (g *guarded) Breaker() BreakerSnapshot { return g.breaker.Snapshot() }
func (g *guarded) ResetBreaker()            { g.breaker.Reset() }

// Lookup runs one guarded query. Disabled providers settle immediately
// without touching the breaker or the metrics; breaker rejections settle
// without an upstream call. Everything else is one breaker execution, retries
// included.
func (g *guarded) Lookup(ctx context.Context, ip string) Result {
	name := g.fetcher.Name()

	if !g.cfg.Enabled {
		return Result{Provider: name, Success: false, Error: "Provider is disabled"}
	}

	if err := g.breaker.Allow(); err != nil {
		g.metrics.RecordCircuitBreakerRejection(name)
		return Result{Provider: name, Success: false, Error: err.Error()}
	}

	start := time.Now()
	data, err := g.fetchWithRetry(ctx, ip)
	latency := time.Since(start)

	if err != nil {
		g.breaker.RecordFailure()
		g.metrics.RecordProviderRequest(name, false, latency)
		g.log.WarnContext(ctx, "provider lookup failed",
			slog.String("ip", ip),
			slog.Int64("latency_ms", latency.Milliseconds()),
			slog.String("error", err.Error()))
		return Result{Provider: name, Success: false, LatencyMS: latency.Milliseconds(), Error: err.Error()}
	}

	g.breaker.RecordSuccess()
	g.metrics.RecordProviderRequest(name, true, latency)
	return Result{Provider: name, Success: true, LatencyMS: latency.Milliseconds(), Data: data}
}

// fetchWithRetry makes up to 1+Retries attempts, each under the provider's
// own timeout. All attempts count as a single breaker execution. When the
// parent context dies the loop stops immediately, backoff sleeps included.
func (g *guarded) fetchWithRetry(ctx context.Context, ip string) (*Partial, error) {
	var lastErr error

	for attempt := 0; attempt <= g.cfg.retries(); attempt++ {
		if attempt > 0 {
			g.metrics.RecordProviderRetry(g.fetcher.Name())
			if err := sleepWithContext(ctx, g.backoff(attempt-1)); err != nil {
				return nil, lastErr
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.cfg.timeout())
		data, err := g.fetchOnce(callCtx, ip)
		cancel()

		if err == nil {
			if data == nil {
				data = &Partial{}
			}
			return data, nil
		}
		lastErr = err

		// The parent deadline has fired; further attempts cannot succeed.
		if ctx.Err() != nil {
			break
		}
	}

	return nil, lastErr
}

// fetchOnce converts an adapter panic into an ordinary error so that one
// malformed upstream payload cannot take the whole fan-out down.
func (g *guarded) fetchOnce(ctx context.Context, ip string) (data *Partial, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return g.fetcher.Fetch(ctx, ip)
}

// backoff returns min(retryMaxDelay, retryDelay*2^k + jitter) with jitter
// drawn uniformly from [0, retryJitterMax).
func (g *guarded) backoff(k int) time.Duration {
	maxDelay := g.cfg.retryMaxDelay()

	d := g.cfg.retryDelay() << uint(k)
	if d <= 0 || d > maxDelay {
		d = maxDelay
	}
	d += time.Duration(rand.Int64N(int64(retryJitterMax)))
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
