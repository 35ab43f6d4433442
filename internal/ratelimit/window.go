// Package ratelimit guards the bulk and CIDR endpoints with a per-requester
// sliding window over the number of addresses submitted, kept in process
// memory. Each instance enforces its own budget; there is no shared state
// across replicas.
package ratelimit

import (
	"sync"
	"time"
)

// entry is one accepted batch: when it landed and how many addresses it
// charged.
type entry struct {
	at time.Time
	n  int
}

// Limiter tracks address budgets per requester. limit must be > 0; values
// ≤ 0 reject every charge.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string][]entry

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a limiter allowing limit addresses per requester per window
// and starts the janitor that sweeps idle requesters. window ≤ 0 selects
// one minute.
func New(limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string][]entry),
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow charges n addresses against the requester's window. When the charge
// fits it is recorded and ok is true. When it does not, nothing is recorded
// and retryAfter says how long until the oldest recorded batch rolls off;
// rejected requests never consume budget, so a requester cannot lock itself
// out by retrying.
func (l *Limiter) Allow(requester string, n int) (ok bool, retryAfter time.Duration) {
	if n <= 0 {
		return true, 0
	}

	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	entries := trimExpired(l.windows[requester], cutoff)

	used := 0
	for _, e := range entries {
		used += e.n
	}

	if used+n > l.limit {
		if len(entries) == 0 {
			delete(l.windows, requester)
			// The batch alone exceeds the budget; no amount of waiting
			// within one window helps, but the client gets a bound anyway.
			return false, l.window
		}
		l.windows[requester] = entries
		retry := entries[0].at.Add(l.window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return false, retry
	}

	l.windows[requester] = append(entries, entry{at: now, n: n})
	return true, 0
}

// Used reports how many addresses the requester has charged in the current
// window.
func (l *Limiter) Used(requester string) int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	used := 0
	for _, e := range trimExpired(l.windows[requester], cutoff) {
		used += e.n
	}
	return used
}

// Close stops the janitor. Safe to call more than once.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// sweep drops requesters whose whole window has expired so the map does not
// grow with one entry per client ever seen.
func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := l.now().Add(-l.window)
			l.mu.Lock()
			for requester, entries := range l.windows {
				entries = trimExpired(entries, cutoff)
				if len(entries) == 0 {
					delete(l.windows, requester)
				} else {
					l.windows[requester] = entries
				}
			}
			l.mu.Unlock()
		}
	}
}

// trimExpired drops entries at or before cutoff. Entries are appended in
// time order, so the survivors are a suffix.
func trimExpired(entries []entry, cutoff time.Time) []entry {
	i := 0
	for i < len(entries) && !entries[i].at.After(cutoff) {
		i++
	}
	return entries[i:]
}
