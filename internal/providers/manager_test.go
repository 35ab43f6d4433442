package providers

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProvider implements Provider directly so manager behavior can be
// tested without the guard shell.
type fakeProvider struct {
	name    string
	enabled bool
	trust   int
	delay   time.Duration
	fail    bool
	panics  bool

	resets atomic.Int64

	// Shared concurrency tracker, set by the cap test.
	active  *atomic.Int64
	maxSeen *atomic.Int64
}

func (p *fakeProvider) Name() string  { return p.name }
func (p *fakeProvider) Enabled() bool { return p.enabled }
func (p *fakeProvider) TrustRank() int {
	if p.trust == 0 {
		return DefaultTrustRank
	}
	return p.trust
}
func (p *fakeProvider) Healthy() bool            { return !p.fail }
func (p *fakeProvider) Breaker() BreakerSnapshot { return BreakerSnapshot{State: "CLOSED"} }
func (p *fakeProvider) ResetBreaker()            { p.resets.Add(1) }

func (p *fakeProvider) Lookup(ctx context.Context, ip string) Result {
	if p.panics {
		panic("bad provider")
	}
	if p.active != nil {
		cur := p.active.Add(1)
		for {
			seen := p.maxSeen.Load()
			if cur <= seen || p.maxSeen.CompareAndSwap(seen, cur) {
				break
			}
		}
		defer p.active.Add(-1)
	}
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return Result{Provider: p.name, Success: false, Error: ctx.Err().Error()}
		case <-time.After(p.delay):
		}
	}
	if p.fail {
		return Result{Provider: p.name, Success: false, Error: "boom"}
	}
	return Result{Provider: p.name, Success: true, Data: &Partial{}}
}

func testManager(t *testing.T, provs []Provider, concurrency int, timeout time.Duration) *Manager {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(provs, concurrency, timeout, log)
}

func TestManager_ResultsFollowRegistrationOrder(t *testing.T) {
	// The slow provider is registered first but settles last.
	provs := []Provider{
		&fakeProvider{name: "slow", enabled: true, delay: 80 * time.Millisecond},
		&fakeProvider{name: "fast", enabled: true},
		&fakeProvider{name: "failing", enabled: true, fail: true},
	}
	m := testManager(t, provs, 4, 5*time.Second)

	results := m.QueryAll(context.Background(), "8.8.8.8", nil)

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for i, want := range []string{"slow", "fast", "failing"} {
		if results[i].Provider != want {
			t.Errorf("results[%d].Provider = %q, want %q", i, results[i].Provider, want)
		}
	}
	if !results[0].Success || !results[1].Success || results[2].Success {
		t.Errorf("unexpected success flags: %+v", results)
	}
}

func TestManager_SkipsDisabledProviders(t *testing.T) {
	provs := []Provider{
		&fakeProvider{name: "on", enabled: true},
		&fakeProvider{name: "off", enabled: false},
		&fakeProvider{name: "also-on", enabled: true},
	}
	m := testManager(t, provs, 4, time.Second)

	results := m.QueryAll(context.Background(), "8.8.8.8", nil)

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2 (disabled providers are not queried)", len(results))
	}
	if results[0].Provider != "on" || results[1].Provider != "also-on" {
		t.Errorf("unexpected providers: %+v", results)
	}
}

func TestManager_ProgressSerializedAndMonotonic(t *testing.T) {
	provs := []Provider{
		&fakeProvider{name: "a", enabled: true, delay: 30 * time.Millisecond},
		&fakeProvider{name: "b", enabled: true},
		&fakeProvider{name: "c", enabled: true, delay: 10 * time.Millisecond, fail: true},
	}
	m := testManager(t, provs, 4, 5*time.Second)

	var events []Progress
	m.QueryAll(context.Background(), "8.8.8.8", func(p Progress) {
		// The callback runs under the manager's lock, so plain append is safe.
		events = append(events, p)
	})

	if len(events) != 3 {
		t.Fatalf("got %d progress events, want 3", len(events))
	}
	seen := map[string]bool{}
	for i, ev := range events {
		if ev.Index != i+1 {
			t.Errorf("events[%d].Index = %d, want %d", i, ev.Index, i+1)
		}
		if ev.Total != 3 {
			t.Errorf("events[%d].Total = %d, want 3", i, ev.Total)
		}
		if seen[ev.Provider] {
			t.Errorf("provider %q reported twice", ev.Provider)
		}
		seen[ev.Provider] = true
		if ev.Result.Provider != ev.Provider {
			t.Errorf("events[%d] carries result for %q", i, ev.Result.Provider)
		}
	}
}

func TestManager_ConcurrencyCap(t *testing.T) {
	var active, maxSeen atomic.Int64
	provs := make([]Provider, 0, 10)
	for _, name := range []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8", "p9"} {
		provs = append(provs, &fakeProvider{
			name:    name,
			enabled: true,
			delay:   20 * time.Millisecond,
			active:  &active,
			maxSeen: &maxSeen,
		})
	}
	m := testManager(t, provs, 3, 5*time.Second)

	m.QueryAll(context.Background(), "8.8.8.8", nil)

	if got := maxSeen.Load(); got > 3 {
		t.Errorf("max concurrent lookups = %d, cap is 3", got)
	}
}

func TestManager_GlobalDeadlineSettlesSlowProviders(t *testing.T) {
	provs := []Provider{
		&fakeProvider{name: "quick", enabled: true},
		&fakeProvider{name: "stuck", enabled: true, delay: 10 * time.Second},
	}
	m := testManager(t, provs, 4, 100*time.Millisecond)

	start := time.Now()
	results := m.QueryAll(context.Background(), "8.8.8.8", nil)
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("fan-out took %v, global deadline is 100ms", elapsed)
	}
	if !results[0].Success {
		t.Errorf("quick provider should succeed: %+v", results[0])
	}
	if results[1].Success {
		t.Error("stuck provider should settle as a failure at the deadline")
	}
	if results[1].Error == "" {
		t.Error("deadline failure should carry an error message")
	}
}

func TestManager_PanickingProviderSettles(t *testing.T) {
	provs := []Provider{
		&fakeProvider{name: "fine", enabled: true},
		&fakeProvider{name: "broken", enabled: true, panics: true},
	}
	m := testManager(t, provs, 4, time.Second)

	results := m.QueryAll(context.Background(), "8.8.8.8", nil)

	if !results[0].Success {
		t.Errorf("healthy provider should be unaffected: %+v", results[0])
	}
	if results[1].Success {
		t.Error("panicking provider should settle as a failure")
	}
	if results[1].Provider != "broken" {
		t.Errorf("synthetic result provider = %q, want broken", results[1].Provider)
	}
}

func TestManager_Counts(t *testing.T) {
	provs := []Provider{
		&fakeProvider{name: "a", enabled: true},
		&fakeProvider{name: "b", enabled: true, fail: true}, // unhealthy
		&fakeProvider{name: "c", enabled: false},
	}
	m := testManager(t, provs, 4, time.Second)

	healthy, available := m.Counts()
	if healthy != 1 || available != 2 {
		t.Errorf("Counts() = (%d, %d), want (1, 2)", healthy, available)
	}
}

func TestManager_ResetBreaker(t *testing.T) {
	p := &fakeProvider{name: "ipqualityscore", enabled: true}
	m := testManager(t, []Provider{p}, 4, time.Second)

	if !m.ResetBreaker("ipqualityscore") {
		t.Error("known provider should reset")
	}
	if p.resets.Load() != 1 {
		t.Errorf("resets = %d, want 1", p.resets.Load())
	}
	if m.ResetBreaker("nope") {
		t.Error("unknown provider should report false")
	}
}

func TestManager_HealthRows(t *testing.T) {
	provs := []Provider{
		&fakeProvider{name: "a", enabled: true, trust: 9},
		&fakeProvider{name: "b", enabled: false},
	}
	m := testManager(t, provs, 4, time.Second)

	rows := m.Health()
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2 (disabled providers are listed)", len(rows))
	}
	if rows[0].Name != "a" || !rows[0].Healthy || rows[0].TrustRank != 9 {
		t.Errorf("rows[0] = %+v", rows[0])
	}
	if rows[1].Healthy {
		t.Error("disabled provider must not be reported healthy")
	}
}
