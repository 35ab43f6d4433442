package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Progress is delivered once per enabled provider as its lookup settles.
// Index is the 1-based completion position, not the registration position.
type Progress struct {
	Provider string `json:"provider"`
	Success  bool   `json:"success"`
	Index    int    `json:"index"`
	Total    int    `json:"total"`
	Result   Result `json:"-"`
}

// ProviderHealth is one row of the providers endpoint.
type ProviderHealth struct {
	Name      string          `json:"name"`
	Enabled   bool            `json:"enabled"`
	Healthy   bool            `json:"healthy"`
	TrustRank int             `json:"trustRank"`
	Breaker   BreakerSnapshot `json:"circuitBreaker"`
}

// Manager fans a lookup out to every enabled provider under a concurrency
// cap and a global deadline. Registration order is stable and defines the
// order of the result slice.
type Manager struct {
	providers   []Provider
	concurrency int64
	timeout     time.Duration
	log         *slog.Logger
}

// NewManager builds a manager over the registered providers. concurrency
// bounds simultaneous upstream calls within one fan-out; globalTimeout caps
// the whole fan-out regardless of per-provider budgets.
func NewManager(provs []Provider, concurrency int, globalTimeout time.Duration, log *slog.Logger) *Manager {
	if concurrency <= 0 {
		concurrency = 4
	}
	if globalTimeout <= 0 {
		globalTimeout = 5 * time.Second
	}
	return &Manager{
		providers:   provs,
		concurrency: int64(concurrency),
		timeout:     globalTimeout,
		log:         log,
	}
}

// Providers returns the full registration list, disabled entries included.
func (m *Manager) Providers() []Provider { return m.providers }

// Enabled returns the providers that participate in fan-outs.
func (m *Manager) Enabled() []Provider {
	out := make([]Provider, 0, len(m.providers))
	for _, p := range m.providers {
		if p.Enabled() {
			out = append(out, p)
		}
	}
	return out
}

// QueryAll fans ip out to every enabled provider and blocks until all of
// them settle or the global deadline fires. The returned slice is aligned
// with registration order and always has one Result per enabled provider;
// QueryAll itself never fails.
//
// onProgress, when non-nil, is invoked exactly once per provider as it
// settles. Invocations are serialized and Index increases monotonically.
func (m *Manager) QueryAll(ctx context.Context, ip string, onProgress func(Progress)) []Result {
	enabled := m.Enabled()
	total := len(enabled)
	results := make([]Result, total)
	if total == 0 {
		return results
	}

	qctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	// The semaphore is scoped to this fan-out so concurrent lookups (bulk
	// requests) each get their own budget.
	sem := semaphore.NewWeighted(m.concurrency)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	for i, p := range enabled {
		wg.Add(1)
		go func(slot int, p Provider) {
			defer wg.Done()

			res := m.runOne(qctx, sem, p, ip)
			results[slot] = res

			mu.Lock()
			completed++
			if onProgress != nil {
				onProgress(Progress{
					Provider: p.Name(),
					Success:  res.Success,
					Index:    completed,
					Total:    total,
					Result:   res,
				})
			}
			mu.Unlock()
		}(i, p)
	}

	wg.Wait()
	return results
}

// runOne acquires a fan-out slot and runs one provider. A panic anywhere
// below settles into a synthetic failed Result so a single provider can
// never abort the fan-out.
func (m *Manager) runOne(ctx context.Context, sem *semaphore.Weighted, p Provider, ip string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			m.log.ErrorContext(ctx, "provider task panicked",
				slog.String("provider", p.Name()),
				slog.Any("panic", r))
			res = Result{Provider: p.Name(), Success: false, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	if err := sem.Acquire(ctx, 1); err != nil {
		// Deadline fired while queued for a slot.
		return Result{Provider: p.Name(), Success: false, Error: err.Error()}
	}
	defer sem.Release(1)

	return p.Lookup(ctx, ip)
}

// Health reports every registered provider with its breaker state, in
// registration order.
func (m *Manager) Health() []ProviderHealth {
	out := make([]ProviderHealth, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, ProviderHealth{
			Name:      p.Name(),
			Enabled:   p.Enabled(),
			Healthy:   p.Enabled() && p.Healthy(),
			TrustRank: p.TrustRank(),
			Breaker:   p.Breaker(),
		})
	}
	return out
}

// Counts returns how many providers are enabled and how many of those are
// currently healthy. Readiness gates on healthy >= 1.
func (m *Manager) Counts() (healthy, available int) {
	for _, p := range m.providers {
		if !p.Enabled() {
			continue
		}
		available++
		if p.Healthy() {
			healthy++
		}
	}
	return healthy, available
}

// ResetBreaker force-closes the named provider's breaker. It reports false
// for unknown providers.
func (m *Manager) ResetBreaker(name string) bool {
	for _, p := range m.providers {
		if p.Name() == name {
			p.ResetBreaker()
			return true
		}
	}
	return false
}
