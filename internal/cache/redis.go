package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PureCypher/IPChecker-sub000/internal/intel"
	"github.com/PureCypher/IPChecker-sub000/internal/metrics"
)

const (
	// defaultOpTimeout caps every cache round trip so a slow Redis can never
	// stall a lookup that has live providers to fall back on.
	defaultOpTimeout = 500 * time.Millisecond

	// purgeBatch bounds how many keys a single DEL carries during Purge.
	purgeBatch = 100
)

// Redis stores records in a shared Redis instance. All operations degrade
// gracefully:
//   - Get reports a miss on any error.
//   - Set and Extend return nil even on error.
//   - Delete and Purge return the underlying error so the admin surface can
//     report it.
type Redis struct {
	client       *redis.Client
	queryTimeout time.Duration
	metrics      *metrics.Registry
	log          *slog.Logger
}

// NewRedis parses redisURL and returns a cache over a fresh client. The
// connection is not verified here; call Ping to probe it. A bad URL is a
// configuration error and fails immediately.
func NewRedis(redisURL string, reg *metrics.Registry, log *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse url: %w", err)
	}
	return &Redis{
		client:       redis.NewClient(opts),
		queryTimeout: defaultOpTimeout,
		metrics:      reg,
		log:          log,
	}, nil
}

// Ping verifies the connection. Used at startup and by readiness probes.
func (c *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Get fetches the record and its remaining TTL in one round trip so the
// caller can decide whether the entry is due for a TTL extension.
func (c *Redis) Get(ctx context.Context, ip string) (*intel.Record, time.Duration, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	key := Key(ip)
	var (
		getCmd *redis.StringCmd
		ttlCmd *redis.DurationCmd
	)
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, key)
		ttlCmd = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.metrics.CacheGetMiss()
			return nil, 0, false
		}
		c.metrics.CacheGetError()
		c.log.WarnContext(ctx, "cache get failed",
			slog.String("ip", ip),
			slog.String("error", err.Error()))
		return nil, 0, false
	}

	raw, err := getCmd.Bytes()
	if err != nil {
		c.metrics.CacheGetMiss()
		return nil, 0, false
	}

	var rec intel.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// Corrupt entry. Drop it and let the pipeline fall through.
		c.metrics.CacheGetError()
		c.log.WarnContext(ctx, "cache entry corrupt, evicting",
			slog.String("ip", ip),
			slog.String("error", err.Error()))
		_ = c.client.Del(ctx, key).Err()
		return nil, 0, false
	}

	remaining := ttlCmd.Val()
	if remaining < 0 {
		remaining = 0
	}
	c.metrics.CacheGetHit()
	return &rec, remaining, true
}

// Set stores rec under the IP's key for ttl.
func (c *Redis) Set(ctx context.Context, ip string, rec *intel.Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache: marshal record: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	if err := c.client.Set(ctx, Key(ip), raw, ttl).Err(); err != nil {
		c.metrics.CacheSetError()
		c.log.WarnContext(ctx, "cache set failed",
			slog.String("ip", ip),
			slog.String("error", err.Error()))
		return nil // degrade gracefully
	}
	c.metrics.CacheSetOK()
	return nil
}

// Extend resets the TTL on an existing entry without rewriting the payload.
func (c *Redis) Extend(ctx context.Context, ip string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	if err := c.client.Expire(ctx, Key(ip), ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "cache ttl extend failed",
			slog.String("ip", ip),
			slog.String("error", err.Error()))
	}
	return nil
}

// Delete evicts one IP.
func (c *Redis) Delete(ctx context.Context, ip string) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	if err := c.client.Del(ctx, Key(ip)).Err(); err != nil {
		return fmt.Errorf("cache: DEL %s: %w", ip, err)
	}
	return nil
}

// Purge walks the record keyspace with SCAN and deletes in bounded batches.
// KEYS is never used; a purge must not block a shared Redis.
func (c *Redis) Purge(ctx context.Context) (int, error) {
	deleted := 0
	batch := make([]string, 0, purgeBatch)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return err
		}
		deleted += len(batch)
		batch = batch[:0]
		return nil
	}

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", purgeBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= purgeBatch {
			if err := flush(); err != nil {
				return deleted, fmt.Errorf("cache: purge del: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("cache: purge scan: %w", err)
	}
	if err := flush(); err != nil {
		return deleted, fmt.Errorf("cache: purge del: %w", err)
	}
	return deleted, nil
}

// Close releases the Redis connection pool.
func (c *Redis) Close() error {
	return c.client.Close()
}
