package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limit int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(limit, time.Minute)
	l.now = clock.now
	return l, clock
}

func TestLimiter_AllowsUnderLimit(t *testing.T) {
	l, _ := newTestLimiter(500)
	defer l.Close()

	for i := 0; i < 5; i++ {
		if ok, _ := l.Allow("10.0.0.1", 100); !ok {
			t.Fatalf("batch %d rejected under the limit", i)
		}
	}
	if got := l.Used("10.0.0.1"); got != 500 {
		t.Errorf("Used = %d, want 500", got)
	}
}

func TestLimiter_RejectsOverBudgetWithoutCharging(t *testing.T) {
	l, _ := newTestLimiter(500)
	defer l.Close()

	if ok, _ := l.Allow("10.0.0.1", 450); !ok {
		t.Fatal("initial batch rejected")
	}

	ok, retryAfter := l.Allow("10.0.0.1", 100)
	if ok {
		t.Fatal("batch over budget was allowed")
	}
	if retryAfter <= 0 {
		t.Errorf("retryAfter = %v, want > 0", retryAfter)
	}
	if got := l.Used("10.0.0.1"); got != 450 {
		t.Errorf("Used = %d after rejection, want 450 (rejects must not charge)", got)
	}

	// Smaller batch still fits.
	if ok, _ := l.Allow("10.0.0.1", 50); !ok {
		t.Error("batch that fits the remaining budget was rejected")
	}
}

func TestLimiter_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(500)
	defer l.Close()

	if ok, _ := l.Allow("10.0.0.1", 500); !ok {
		t.Fatal("full-budget batch rejected")
	}
	if ok, _ := l.Allow("10.0.0.1", 1); ok {
		t.Fatal("charge beyond the budget allowed")
	}

	clock.advance(61 * time.Second)

	if ok, _ := l.Allow("10.0.0.1", 500); !ok {
		t.Error("budget did not reset after the window rolled off")
	}
}

func TestLimiter_RetryAfterTracksOldestBatch(t *testing.T) {
	l, clock := newTestLimiter(500)
	defer l.Close()

	l.Allow("10.0.0.1", 300)
	clock.advance(30 * time.Second)
	l.Allow("10.0.0.1", 150)
	clock.advance(10 * time.Second)

	ok, retryAfter := l.Allow("10.0.0.1", 100)
	if ok {
		t.Fatal("over-budget batch allowed")
	}
	// The 300-address batch from 40s ago frees capacity in 20s.
	if retryAfter != 20*time.Second {
		t.Errorf("retryAfter = %v, want 20s", retryAfter)
	}
}

func TestLimiter_BatchLargerThanWholeBudget(t *testing.T) {
	l, _ := newTestLimiter(100)
	defer l.Close()

	ok, retryAfter := l.Allow("10.0.0.1", 101)
	if ok {
		t.Fatal("batch larger than the whole budget allowed")
	}
	if retryAfter != time.Minute {
		t.Errorf("retryAfter = %v, want the full window", retryAfter)
	}
}

func TestLimiter_RequestersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(100)
	defer l.Close()

	if ok, _ := l.Allow("10.0.0.1", 100); !ok {
		t.Fatal("first requester rejected")
	}
	if ok, _ := l.Allow("10.0.0.1", 1); ok {
		t.Fatal("first requester not exhausted")
	}
	if ok, _ := l.Allow("10.0.0.2", 100); !ok {
		t.Error("second requester throttled by the first's budget")
	}
}

func TestLimiter_ZeroChargeIsFree(t *testing.T) {
	l, _ := newTestLimiter(10)
	defer l.Close()

	if ok, _ := l.Allow("10.0.0.1", 0); !ok {
		t.Error("zero-address charge rejected")
	}
	if got := l.Used("10.0.0.1"); got != 0 {
		t.Errorf("Used = %d, want 0", got)
	}
}

func TestLimiter_JanitorSweepsIdleRequesters(t *testing.T) {
	l := New(100, 20*time.Millisecond)
	defer l.Close()

	l.Allow("10.0.0.1", 5)

	deadline := time.Now().Add(2 * time.Second)
	for {
		l.mu.Lock()
		remaining := len(l.windows)
		l.mu.Unlock()
		if remaining == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("janitor never swept the idle requester")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
