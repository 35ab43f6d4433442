// Package cache is the hot tier for correlated records, keyed by IP.
//
// Key format: ipintel:v1:{ip}
//
// Two backends are available:
//   - Redis  — shared across replicas, recommended for production.
//   - Memory — in-process TTL cache for single-instance and local runs.
//
// Both degrade gracefully: when the backend is unavailable, Get reports a
// miss and Set returns nil so a lookup never fails because the cache is down.
package cache

import (
	"context"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/intel"
)

const keyPrefix = "ipintel:v1:"

// Key returns the cache key for a normalized IP.
func Key(ip string) string { return keyPrefix + ip }

// Cache is the record cache consumed by the lookup pipeline.
type Cache interface {
	// Get returns the cached record and its remaining TTL. A corrupt or
	// missing entry, or an unreachable backend, reports a miss.
	Get(ctx context.Context, ip string) (*intel.Record, time.Duration, bool)

	// Set stores the record for ttl. It never fails the caller.
	Set(ctx context.Context, ip string, rec *intel.Record, ttl time.Duration) error

	// Extend resets the entry's TTL without rewriting the payload.
	Extend(ctx context.Context, ip string, ttl time.Duration) error

	// Delete evicts one IP.
	Delete(ctx context.Context, ip string) error

	// Purge evicts every record key and returns how many were deleted.
	Purge(ctx context.Context) (int, error)

	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error

	Close() error
}
