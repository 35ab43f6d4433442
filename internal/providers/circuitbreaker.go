package providers

import (
	"fmt"
	"sync"
	"time"
)

// cbState represents the operational state of a per-provider circuit breaker.
//
//	cbClosed   — normal operation; all requests pass through.
//	cbOpen     — provider is failing; requests are rejected immediately.
//	cbHalfOpen — recovery probe; a limited number of requests test the provider.
type cbState int

const (
	cbClosed   cbState = 0
	cbOpen     cbState = 1
	cbHalfOpen cbState = 2
)

// BreakerConfig holds circuit breaker tuning parameters. Zero values fall
// back to the package-level defaults below.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before allowing a
	// probe request. Default: 60s.
	ResetTimeout time.Duration

	// HalfOpenAttempts is the number of consecutive probe successes required
	// to close the breaker again. Default: 1.
	HalfOpenAttempts int
}

const (
	defaultFailureThreshold = 5
	defaultResetTimeout     = 60 * time.Second
	defaultHalfOpenAttempts = 1
)

func (c *BreakerConfig) failureThreshold() int {
	if c.FailureThreshold > 0 {
		return c.FailureThreshold
	}
	return defaultFailureThreshold
}

func (c *BreakerConfig) resetTimeout() time.Duration {
	if c.ResetTimeout > 0 {
		return c.ResetTimeout
	}
	return defaultResetTimeout
}

func (c *BreakerConfig) halfOpenAttempts() int {
	if c.HalfOpenAttempts > 0 {
		return c.HalfOpenAttempts
	}
	return defaultHalfOpenAttempts
}

// BreakerSnapshot is a point-in-time view of a breaker, surfaced by the
// providers endpoint and the health report.
type BreakerSnapshot struct {
	State        string     `json:"state"` // CLOSED | OPEN | HALF_OPEN
	FailureCount int        `json:"failureCount"`
	SuccessCount int        `json:"successCount"`
	NextRetryAt  *time.Time `json:"nextRetryAt,omitempty"`
}

// CircuitBreaker guards a single provider. It is safe for concurrent use
// from multiple goroutines.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	// onStateChange, when set, receives the numeric state (0 closed, 1 open,
	// 2 half-open) after every transition. Used to drive the metrics gauge.
	onStateChange func(name string, state int64)

	mu            sync.Mutex
	state         cbState
	failureCount  int       // consecutive failures while closed
	successCount  int       // consecutive probe successes while half-open
	nextRetryAt   time.Time // when an open breaker admits the next probe
	probeInflight bool      // true while a half-open probe is in flight
}

// NewCircuitBreaker creates a closed breaker for the named provider.
func NewCircuitBreaker(name string, cfg BreakerConfig, onStateChange func(string, int64)) *CircuitBreaker {
	b := &CircuitBreaker{
		name:          name,
		cfg:           cfg,
		onStateChange: onStateChange,
	}
	b.notify()
	return b
}

// Allow reports whether the provider should receive the next request.
//
//   - Closed   → nil.
//   - Open     → rejection error, unless the reset timeout has elapsed, in
//     which case the breaker transitions to half-open and admits one probe.
//   - HalfOpen → nil only if no probe is currently in flight.
//
// The error text is surfaced verbatim in the failed Result.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case cbClosed:
		return nil

	case cbOpen:
		if time.Now().Before(b.nextRetryAt) {
			return b.rejection()
		}
		b.setState(cbHalfOpen)
		b.successCount = 0
		b.probeInflight = true
		return nil

	case cbHalfOpen:
		if b.probeInflight {
			return b.rejection()
		}
		b.probeInflight = true
		return nil
	}

	return nil
}

// RecordSuccess marks a successful lookup. In the closed state it clears the
// consecutive-failure counter; in half-open it counts toward the probe quota
// and closes the breaker once HalfOpenAttempts successes have accumulated.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInflight = false

	switch b.state {
	case cbClosed:
		b.failureCount = 0

	case cbHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.halfOpenAttempts() {
			b.setState(cbClosed)
			b.failureCount = 0
			b.successCount = 0
			b.nextRetryAt = time.Time{}
		}

	case cbOpen:
		// Late result from a call admitted before the trip. Ignore.
	}
}

// RecordFailure marks a failed lookup. FailureThreshold consecutive failures
// trip the breaker; any failure during a half-open probe reopens it and
// restarts the reset timer.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInflight = false

	switch b.state {
	case cbClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.failureThreshold() {
			b.setState(cbOpen)
			b.nextRetryAt = time.Now().Add(b.cfg.resetTimeout())
		}

	case cbHalfOpen:
		b.setState(cbOpen)
		b.successCount = 0
		b.nextRetryAt = time.Now().Add(b.cfg.resetTimeout())

	case cbOpen:
	}
}

// Reset forces the breaker back to closed and clears all counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setState(cbClosed)
	b.failureCount = 0
	b.successCount = 0
	b.nextRetryAt = time.Time{}
	b.probeInflight = false
}

// Healthy reports whether the breaker is closed.
func (b *CircuitBreaker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == cbClosed
}

// Snapshot returns the current state for the providers endpoint.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := BreakerSnapshot{
		State:        b.state.label(),
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
	}
	if !b.nextRetryAt.IsZero() {
		t := b.nextRetryAt
		snap.NextRetryAt = &t
	}
	return snap
}

func (s cbState) label() string {
	switch s {
	case cbOpen:
		return "OPEN"
	case cbHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

func (b *CircuitBreaker) rejection() error {
	return fmt.Errorf("Circuit breaker OPEN for %s", b.name)
}

// setState must be called with b.mu held.
func (b *CircuitBreaker) setState(s cbState) {
	b.state = s
	b.notifyLocked()
}

func (b *CircuitBreaker) notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifyLocked()
}

func (b *CircuitBreaker) notifyLocked() {
	if b.onStateChange != nil {
		b.onStateChange(b.name, int64(b.state))
	}
}
