// Package providers defines the provider contract and the machinery every
// adapter runs under: per-provider circuit breaking, retry with jittered
// backoff, bounded fan-out and request metrics.
//
// Each upstream intelligence source implements Fetcher (one HTTP call, parsed
// into a Partial). New wraps a Fetcher into a Provider that the Manager fans
// out to.
package providers

import (
	"context"
	"time"
)

// Defaults applied when a provider's settings are left at zero.
const (
	DefaultTimeout       = 3 * time.Second
	DefaultRetries       = 2
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultRetryMaxDelay = 10 * time.Second
	DefaultTrustRank     = 5

	// retryJitterMax is the upper bound of the random spread added to each
	// backoff delay so that parallel lookups do not hammer a recovering
	// upstream in lockstep.
	retryJitterMax = time.Second
)

type (
	// Partial is one provider's answer for a single IP. Every field may be
	// absent; adapters set only what the upstream actually returned. Raw
	// keeps the decoded upstream payload for provider-specific extraction
	// (VPN operator names and the like) and never leaves the process.
	Partial struct {
		ASN         *string    `json:"asn,omitempty"`
		Org         *string    `json:"org,omitempty"`
		Country     *string    `json:"country,omitempty"`
		Region      *string    `json:"region,omitempty"`
		City        *string    `json:"city,omitempty"`
		Latitude    *float64   `json:"latitude,omitempty"`
		Longitude   *float64   `json:"longitude,omitempty"`
		Timezone    *string    `json:"timezone,omitempty"`
		IsProxy     *bool      `json:"isProxy,omitempty"`
		IsVPN       *bool      `json:"isVpn,omitempty"`
		IsTor       *bool      `json:"isTor,omitempty"`
		IsHosting   *bool      `json:"isHosting,omitempty"`
		IsMobile    *bool      `json:"isMobile,omitempty"`
		VPNProvider *string    `json:"vpnProvider,omitempty"`
		AbuseScore  *int       `json:"abuseScore,omitempty"`
		LastSeen    *time.Time `json:"lastSeen,omitempty"`
		Raw         any        `json:"-"`
	}

	// Result is a settled provider lookup. Success=false means Data is nil
	// and Error carries the reason; a Result is produced for every outcome,
	// lookups never propagate errors past this point.
	Result struct {
		Provider  string   `json:"provider"`
		Success   bool     `json:"success"`
		LatencyMS int64    `json:"latencyMs"`
		Error     string   `json:"error,omitempty"`
		Data      *Partial `json:"data,omitempty"`
	}

	// Settings is the per-provider runtime configuration. Zero durations and
	// a zero TrustRank fall back to the package defaults above; Retries is
	// taken as-is (zero means a single attempt) unless negative.
	Settings struct {
		Enabled       bool
		Timeout       time.Duration
		Retries       int
		RetryDelay    time.Duration
		RetryMaxDelay time.Duration
		TrustRank     int
	}
)

// Fetcher is the adapter-supplied core of a provider: a single upstream API
// call for one IP, parsed into a Partial. Implementations return the raw
// error on failure and do not retry; the shell around them owns retries,
// timeouts and the circuit breaker.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, ip string) (*Partial, error)
}

// Provider is a guarded, fan-out-ready intelligence source.
type Provider interface {
	Name() string
	Enabled() bool
	TrustRank() int

	// Lookup performs one guarded query. It never panics and never blocks
	// past the context deadline; all failures settle into the Result.
	Lookup(ctx context.Context, ip string) Result

	// Healthy reports whether the circuit breaker is closed.
	Healthy() bool

	Breaker() BreakerSnapshot
	ResetBreaker()
}

func (s Settings) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

func (s Settings) retries() int {
	if s.Retries < 0 {
		return DefaultRetries
	}
	return s.Retries
}

func (s Settings) retryDelay() time.Duration {
	if s.RetryDelay <= 0 {
		return DefaultRetryDelay
	}
	return s.RetryDelay
}

func (s Settings) retryMaxDelay() time.Duration {
	if s.RetryMaxDelay <= 0 {
		return DefaultRetryMaxDelay
	}
	return s.RetryMaxDelay
}

// Pointer helpers for adapters building Partials from decoded payloads.

// String returns a pointer to s.
func String(s string) *string { return &s }

// StringOrNil returns a pointer to s, or nil when s is empty.
func StringOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to i.
func Int(i int) *int { return &i }

// Float64 returns a pointer to f.
func Float64(f float64) *float64 { return &f }
