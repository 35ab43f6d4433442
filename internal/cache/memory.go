package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/intel"
)

// memItem stores a cached record together with its expiry time.
type memItem struct {
	rec       *intel.Record
	expiresAt time.Time
}

// Memory is a simple in-process record cache with per-entry TTL.
//
// It is safe for concurrent use. A background goroutine periodically removes
// expired entries to prevent unbounded growth. Use it when Redis is not
// configured; multi-replica deployments should use Redis so all replicas
// share one cache.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memItem

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemory creates a Memory cache and starts the background cleanup loop.
// The cleanup goroutine stops when ctx is cancelled or Close is called.
func NewMemory(ctx context.Context) *Memory {
	c := &Memory{
		items: make(map[string]memItem),
		done:  make(chan struct{}),
	}
	go c.cleanup(ctx)
	return c
}

// Get returns the cached record and its remaining TTL. Expired entries are
// removed lazily on access.
func (c *Memory) Get(_ context.Context, ip string) (*intel.Record, time.Duration, bool) {
	key := Key(ip)

	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, 0, false
	}

	remaining := time.Until(item.expiresAt)
	if remaining <= 0 {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, 0, false
	}

	return item.rec, remaining, true
}

// Set stores rec under the IP's key for ttl. A zero or negative ttl falls
// back to one hour.
func (c *Memory) Set(_ context.Context, ip string, rec *intel.Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}

	c.mu.Lock()
	c.items[Key(ip)] = memItem{rec: rec, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Extend resets the TTL on an existing entry. Missing entries are a no-op.
func (c *Memory) Extend(_ context.Context, ip string, ttl time.Duration) error {
	key := Key(ip)

	c.mu.Lock()
	if item, ok := c.items[key]; ok {
		item.expiresAt = time.Now().Add(ttl)
		c.items[key] = item
	}
	c.mu.Unlock()
	return nil
}

// Delete removes one IP. Returns nil if the key did not exist.
func (c *Memory) Delete(_ context.Context, ip string) error {
	c.mu.Lock()
	delete(c.items, Key(ip))
	c.mu.Unlock()
	return nil
}

// Purge removes every record key and reports how many were deleted.
func (c *Memory) Purge(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.items {
		if strings.HasPrefix(k, keyPrefix) {
			delete(c.items, k)
			n++
		}
	}
	return n, nil
}

// Ping always succeeds; the backend is the process itself.
func (c *Memory) Ping(context.Context) error { return nil }

// Len returns the number of entries currently held, expired-but-unevicted
// entries included.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the background cleanup goroutine.
func (c *Memory) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// cleanup runs every 5 minutes and evicts all expired entries.
func (c *Memory) cleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func (c *Memory) evictExpired() {
	now := time.Now()

	c.mu.Lock()
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}
