package lookup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/cache"
	"github.com/PureCypher/IPChecker-sub000/internal/intel"
	"github.com/PureCypher/IPChecker-sub000/internal/ipaddr"
	"github.com/PureCypher/IPChecker-sub000/internal/llm"
	"github.com/PureCypher/IPChecker-sub000/internal/metrics"
	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const (
	testTTL       = 30 * 24 * time.Hour
	testThreshold = 25 * 24 * time.Hour
)

type cacheEntry struct {
	rec *intel.Record
	ttl time.Duration
}

type setCall struct {
	ip  string
	ttl time.Duration
}

// fakeCache hands out copies the way a real backend decodes fresh
// values, so callers mutating a served record cannot corrupt the store.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	sets    []setCall
	extends []setCall
	deletes []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]cacheEntry)}
}

func (f *fakeCache) seed(ip string, rec *intel.Record, remaining time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.entries[ip] = cacheEntry{rec: &cp, ttl: remaining}
}

func (f *fakeCache) Get(ctx context.Context, ip string) (*intel.Record, time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[ip]
	if !ok {
		return nil, 0, false
	}
	cp := *e.rec
	return &cp, e.ttl, true
}

func (f *fakeCache) Set(ctx context.Context, ip string, rec *intel.Record, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.entries[ip] = cacheEntry{rec: &cp, ttl: ttl}
	f.sets = append(f.sets, setCall{ip: ip, ttl: ttl})
	return nil
}

func (f *fakeCache) Extend(ctx context.Context, ip string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[ip]; ok {
		e.ttl = ttl
		f.entries[ip] = e
	}
	f.extends = append(f.extends, setCall{ip: ip, ttl: ttl})
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, ip)
	f.deletes = append(f.deletes, ip)
	return nil
}

func (f *fakeCache) Purge(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.entries)
	f.entries = make(map[string]cacheEntry)
	return n, nil
}

func (f *fakeCache) Ping(ctx context.Context) error { return nil }
func (f *fakeCache) Close() error                   { return nil }

func (f *fakeCache) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sets)
}

func (f *fakeCache) extendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.extends)
}

type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]*intel.Record
	upserts int
	getErr  error
	statsCh chan int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:    make(map[string]*intel.Record),
		statsCh: make(chan int, 16),
	}
}

func (f *fakeStore) seed(rec *intel.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.rows[rec.IP] = &cp
}

func (f *fakeStore) GetRecord(ctx context.Context, ip string) (*intel.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	rec, ok := f.rows[ip]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

func (f *fakeStore) UpsertRecord(ctx context.Context, rec *intel.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.rows[rec.IP] = &cp
	f.upserts++
	return nil
}

func (f *fakeStore) UpsertProviderStats(ctx context.Context, results []providers.Result) error {
	select {
	case f.statsCh <- len(results):
	default:
	}
	return nil
}

func (f *fakeStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

// fakeFanout serves canned results, optionally blocking until released
// so tests can hold a flight open.
type fakeFanout struct {
	mu      sync.Mutex
	results []providers.Result
	perIP   map[string][]providers.Result
	calls   int
	entered chan struct{}
	release chan struct{}
	enabled int
}

func (f *fakeFanout) QueryAll(ctx context.Context, ip string, onProgress func(providers.Progress)) []providers.Result {
	f.mu.Lock()
	f.calls++
	results := f.results
	if r, ok := f.perIP[ip]; ok {
		results = r
	}
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}

	if onProgress != nil {
		for i, r := range results {
			onProgress(providers.Progress{
				Provider: r.Provider,
				Success:  r.Success,
				Index:    i + 1,
				Total:    len(results),
				Result:   r,
			})
		}
	}
	return results
}

func (f *fakeFanout) Enabled() []providers.Provider {
	return make([]providers.Provider, f.enabled)
}

func (f *fakeFanout) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	analysis *intel.LLMAnalysis
	err      error
	calls    int
}

func (f *fakeAnalyzer) Name() string  { return "fake" }
func (f *fakeAnalyzer) Model() string { return "fake-model" }

func (f *fakeAnalyzer) Analyze(ctx context.Context, rec *intel.Record) (*intel.LLMAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.analysis
	return &cp, nil
}

func (f *fakeAnalyzer) HealthCheck(ctx context.Context) llm.Health {
	return llm.Health{Available: f.err == nil, Model: "fake-model"}
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResolver struct {
	ips map[string][]net.IP
	err error
}

func (f *fakeResolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ips[host], nil
}

func goodResults() []providers.Result {
	return []providers.Result{
		{Provider: "alpha", Success: true, LatencyMS: 12, Data: &providers.Partial{
			ASN:     providers.String("AS15169"),
			Org:     providers.String("Google LLC"),
			Country: providers.String("US"),
		}},
		{Provider: "beta", Success: true, LatencyMS: 20, Data: &providers.Partial{
			Country: providers.String("US"),
		}},
	}
}

func failedResults() []providers.Result {
	return []providers.Result{
		{Provider: "alpha", Error: "connection refused"},
		{Provider: "beta", Error: "context deadline exceeded"},
	}
}

func seedRecord(ip string) *intel.Record {
	now := time.Now().UTC()
	return &intel.Record{
		IP: ip,
		Metadata: intel.Metadata{
			Providers:          []string{"alpha", "beta"},
			Source:             intel.SourceLive,
			CreatedAt:          now,
			UpdatedAt:          now,
			ExpiresAt:          now.Add(testTTL),
			TTLSeconds:         int64(testTTL / time.Second),
			ProvidersQueried:   2,
			ProvidersSucceeded: 2,
		},
	}
}

type testEnv struct {
	svc   *Service
	cache *fakeCache
	store *fakeStore
	fan   *fakeFanout
	deps  Deps
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()

	env := &testEnv{
		cache: newFakeCache(),
		store: newFakeStore(),
		fan:   &fakeFanout{results: goodResults(), enabled: 2},
	}
	deps := Deps{
		Cache:      env.cache,
		Store:      env.store,
		Manager:    env.fan,
		Correlator: intel.NewCorrelator(map[string]int{"alpha": 8, "beta": 5}),
		Metrics:    metrics.New(),
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&deps)
	}
	env.deps = deps
	env.svc = New(Config{
		CacheTTL:              testTTL,
		CacheRefreshThreshold: testThreshold,
		BulkMaxIPs:            100,
		BulkConcurrency:       5,
		CIDRMaxHosts:          256,
	}, deps)
	t.Cleanup(env.svc.Close)
	return env
}

func TestLookup_LiveFlightPersistsBothTiers(t *testing.T) {
	env := newTestEnv(t)

	rec, res, err := env.svc.Lookup(context.Background(), "8.8.8.8", Options{})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res != nil {
		t.Fatalf("Resolution = %+v, want nil for plain IP input", res)
	}
	if rec.IP != "8.8.8.8" {
		t.Fatalf("rec.IP = %q, want 8.8.8.8", rec.IP)
	}
	if rec.Metadata.Source != intel.SourceLive {
		t.Fatalf("source = %q, want live", rec.Metadata.Source)
	}
	if got := env.fan.callCount(); got != 1 {
		t.Fatalf("fan-out calls = %d, want 1", got)
	}

	if got := env.cache.setCount(); got != 1 {
		t.Fatalf("cache sets = %d, want 1", got)
	}
	env.cache.mu.Lock()
	ttl := env.cache.sets[0].ttl
	env.cache.mu.Unlock()
	if ttl != testTTL {
		t.Fatalf("cache ttl = %v, want %v", ttl, testTTL)
	}
	if got := env.store.upsertCount(); got != 1 {
		t.Fatalf("store upserts = %d, want 1", got)
	}
}

func TestLookup_ServesFromCache(t *testing.T) {
	env := newTestEnv(t)
	env.cache.seed("8.8.8.8", seedRecord("8.8.8.8"), 26*24*time.Hour)

	rec, _, err := env.svc.Lookup(context.Background(), "8.8.8.8", Options{})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.Metadata.Source != intel.SourceCache {
		t.Fatalf("source = %q, want cache", rec.Metadata.Source)
	}
	if got := env.fan.callCount(); got != 0 {
		t.Fatalf("fan-out calls = %d, want 0", got)
	}
	if got := env.cache.extendCount(); got != 0 {
		t.Fatalf("extends = %d, want 0 while above the refresh threshold", got)
	}
}

func TestLookup_ExtendsExpiringCacheHit(t *testing.T) {
	env := newTestEnv(t)
	env.cache.seed("8.8.8.8", seedRecord("8.8.8.8"), time.Hour)

	rec, _, err := env.svc.Lookup(context.Background(), "8.8.8.8", Options{})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got := env.cache.extendCount(); got != 1 {
		t.Fatalf("extends = %d, want 1", got)
	}
	env.cache.mu.Lock()
	ttl := env.cache.extends[0].ttl
	env.cache.mu.Unlock()
	if ttl != testTTL {
		t.Fatalf("extend ttl = %v, want %v", ttl, testTTL)
	}
	if rec.Metadata.TTLSeconds != int64(testTTL/time.Second) {
		t.Fatalf("ttlSeconds = %d, want %d", rec.Metadata.TTLSeconds, int64(testTTL/time.Second))
	}
	if until := time.Until(rec.Metadata.ExpiresAt); until < testTTL-time.Minute {
		t.Fatalf("expiresAt only %v away, want about %v", until, testTTL)
	}
}

func TestLookup_FallsBackToDatabase(t *testing.T) {
	env := newTestEnv(t)
	row := seedRecord("8.8.8.8")
	row.Metadata.ExpiresAt = time.Now().UTC().Add(10 * 24 * time.Hour)
	env.store.seed(row)

	rec, _, err := env.svc.Lookup(context.Background(), "8.8.8.8", Options{})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.Metadata.Source != intel.SourceDB {
		t.Fatalf("source = %q, want db", rec.Metadata.Source)
	}
	if got := env.fan.callCount(); got != 0 {
		t.Fatalf("fan-out calls = %d, want 0", got)
	}

	// The cache is re-warmed with the row's remaining validity, not a
	// fresh full window.
	if got := env.cache.setCount(); got != 1 {
		t.Fatalf("cache sets = %d, want 1", got)
	}
	env.cache.mu.Lock()
	ttl := env.cache.sets[0].ttl
	env.cache.mu.Unlock()
	if ttl > 10*24*time.Hour || ttl < 10*24*time.Hour-time.Minute {
		t.Fatalf("re-warm ttl = %v, want about 10 days", ttl)
	}
}

func TestLookup_ForceRefreshSkipsBothTiers(t *testing.T) {
	env := newTestEnv(t)
	env.cache.seed("8.8.8.8", seedRecord("8.8.8.8"), 26*24*time.Hour)
	env.store.seed(seedRecord("8.8.8.8"))

	rec, _, err := env.svc.Lookup(context.Background(), "8.8.8.8", Options{ForceRefresh: true})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.Metadata.Source != intel.SourceLive {
		t.Fatalf("source = %q, want live", rec.Metadata.Source)
	}
	if got := env.fan.callCount(); got != 1 {
		t.Fatalf("fan-out calls = %d, want 1", got)
	}
	if got := env.cache.setCount(); got != 1 {
		t.Fatalf("cache sets = %d, want 1 (refreshed result persisted)", got)
	}
}

func TestLookup_AllProvidersFailed(t *testing.T) {
	env := newTestEnv(t)
	env.fan.results = failedResults()

	rec, _, err := env.svc.Lookup(context.Background(), "8.8.8.8", Options{})
	if !errors.Is(err, ErrProvidersUnavailable) {
		t.Fatalf("err = %v, want ErrProvidersUnavailable", err)
	}
	if rec != nil {
		t.Fatalf("rec = %+v, want nil", rec)
	}
	if got := env.cache.setCount(); got != 0 {
		t.Fatalf("cache sets = %d, want 0", got)
	}
	if got := env.store.upsertCount(); got != 0 {
		t.Fatalf("store upserts = %d, want 0", got)
	}
}

func TestLookup_RejectsPrivateAddress(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.svc.Lookup(context.Background(), "192.168.1.1", Options{})
	var derr *ipaddr.Error
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want *ipaddr.Error", err)
	}
	if derr.Code != ipaddr.CodePrivateIP {
		t.Fatalf("code = %q, want %q", derr.Code, ipaddr.CodePrivateIP)
	}
	if got := env.fan.callCount(); got != 0 {
		t.Fatalf("fan-out calls = %d, want 0", got)
	}
}

func TestLookup_ResolvesHostname(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Resolver = &fakeResolver{ips: map[string][]net.IP{
			"dns.example.com": {net.ParseIP("8.8.8.8")},
		}}
	})

	rec, res, err := env.svc.Lookup(context.Background(), "dns.example.com", Options{})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res == nil || res.Hostname != "dns.example.com" || res.ResolvedIP != "8.8.8.8" {
		t.Fatalf("resolution = %+v, want dns.example.com -> 8.8.8.8", res)
	}
	if rec.IP != "8.8.8.8" {
		t.Fatalf("rec.IP = %q, want 8.8.8.8", rec.IP)
	}
}

func TestLookup_CoalescesConcurrentRequests(t *testing.T) {
	env := newTestEnv(t)
	env.fan.entered = make(chan struct{}, 1)
	env.fan.release = make(chan struct{})

	type outcome struct {
		rec *intel.Record
		err error
	}
	results := make(chan outcome, 2)
	run := func() {
		rec, _, err := env.svc.Lookup(context.Background(), "8.8.8.8", Options{})
		results <- outcome{rec: rec, err: err}
	}

	go run()
	<-env.fan.entered // the first flight is inside the fan-out now
	go run()          // joins the registered flight instead of starting one

	// Give the second caller a moment to park on the shared flight,
	// then let the fan-out settle.
	time.Sleep(10 * time.Millisecond)
	close(env.fan.release)

	a, b := <-results, <-results
	if a.err != nil || b.err != nil {
		t.Fatalf("errors: %v, %v", a.err, b.err)
	}
	if got := env.fan.callCount(); got != 1 {
		t.Fatalf("fan-out calls = %d, want 1 (coalesced)", got)
	}
	if got := env.cache.setCount(); got != 1 {
		t.Fatalf("cache sets = %d, want 1 (single persist)", got)
	}
}

func TestLookup_ExcludedAddressIsAlwaysLive(t *testing.T) {
	el, err := cache.NewExclusionList([]string{"9.9.9.9"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, func(d *Deps) { d.Exclusions = el })
	env.cache.seed("9.9.9.9", seedRecord("9.9.9.9"), 26*24*time.Hour)
	env.store.seed(seedRecord("9.9.9.9"))

	rec, _, err := env.svc.Lookup(context.Background(), "9.9.9.9", Options{})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.Metadata.Source != intel.SourceLive {
		t.Fatalf("source = %q, want live despite warm tiers", rec.Metadata.Source)
	}
	if got := env.cache.setCount(); got != 0 {
		t.Fatalf("cache sets = %d, want 0 for an excluded address", got)
	}
	// History still lands in the durable tier.
	if got := env.store.upsertCount(); got != 1 {
		t.Fatalf("store upserts = %d, want 1", got)
	}
}

func TestLookup_ProviderStatsReachTheStore(t *testing.T) {
	env := newTestEnv(t)

	if _, _, err := env.svc.Lookup(context.Background(), "8.8.8.8", Options{}); err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	select {
	case n := <-env.store.statsCh:
		if n != 2 {
			t.Fatalf("stats batch size = %d, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("provider stats never reached the store")
	}
}

func TestLookup_LLMEnrichment(t *testing.T) {
	an := &fakeAnalyzer{analysis: &intel.LLMAnalysis{
		Summary:       "Benign resolver infrastructure.",
		Verdict:       "ALLOW",
		SeverityLevel: "safe",
	}}
	env := newTestEnv(t, func(d *Deps) { d.Analyzer = an })

	rec, _, err := env.svc.Lookup(context.Background(), "8.8.8.8", Options{IncludeLLM: true})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.Metadata.LLMAnalysis == nil {
		t.Fatal("record missing LLM analysis")
	}
	if an.callCount() != 1 {
		t.Fatalf("analyzer calls = %d, want 1", an.callCount())
	}

	// The persisted cache copy carries the analysis too.
	env.cache.mu.Lock()
	stored := env.cache.entries["8.8.8.8"].rec
	env.cache.mu.Unlock()
	if stored.Metadata.LLMAnalysis == nil {
		t.Fatal("cached record missing LLM analysis")
	}
}

func TestLookup_LLMFailureDoesNotFailTheLookup(t *testing.T) {
	an := &fakeAnalyzer{err: errors.New("model overloaded")}
	env := newTestEnv(t, func(d *Deps) { d.Analyzer = an })

	rec, _, err := env.svc.Lookup(context.Background(), "8.8.8.8", Options{IncludeLLM: true})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.Metadata.LLMAnalysis != nil {
		t.Fatal("analysis should be absent after an analyzer failure")
	}
}

func TestLookup_CacheHitEnrichedOnDemand(t *testing.T) {
	an := &fakeAnalyzer{analysis: &intel.LLMAnalysis{Summary: "ok", Verdict: "ALLOW", SeverityLevel: "safe"}}
	env := newTestEnv(t, func(d *Deps) { d.Analyzer = an })
	env.cache.seed("8.8.8.8", seedRecord("8.8.8.8"), 26*24*time.Hour)

	rec, _, err := env.svc.Lookup(context.Background(), "8.8.8.8", Options{IncludeLLM: true})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.Metadata.Source != intel.SourceCache {
		t.Fatalf("source = %q, want cache", rec.Metadata.Source)
	}
	if rec.Metadata.LLMAnalysis == nil {
		t.Fatal("cache hit should have been enriched on demand")
	}
	// The enriched copy went back to the fast tier so the next hit
	// skips the model call.
	if got := env.cache.setCount(); got != 1 {
		t.Fatalf("cache sets = %d, want 1", got)
	}
	if got := env.store.upsertCount(); got != 0 {
		t.Fatalf("store upserts = %d, want 0", got)
	}
}

func TestLookup_NoEnrichmentWithoutRequest(t *testing.T) {
	an := &fakeAnalyzer{analysis: &intel.LLMAnalysis{Summary: "ok", Verdict: "ALLOW", SeverityLevel: "safe"}}
	env := newTestEnv(t, func(d *Deps) { d.Analyzer = an })

	rec, _, err := env.svc.Lookup(context.Background(), "8.8.8.8", Options{})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.Metadata.LLMAnalysis != nil {
		t.Fatal("analysis must be opt-in")
	}
	if an.callCount() != 0 {
		t.Fatalf("analyzer calls = %d, want 0", an.callCount())
	}
}

func TestRequestID_ContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RequestIDFrom(ctx); got != "" {
		t.Fatalf("RequestIDFrom(empty) = %q, want empty", got)
	}
	ctx = WithRequestID(ctx, "req-42")
	if got := RequestIDFrom(ctx); got != "req-42" {
		t.Fatalf("RequestIDFrom = %q, want req-42", got)
	}
}
