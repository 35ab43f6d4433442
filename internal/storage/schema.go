package storage

import (
	"context"
	"fmt"
)

// schemaDDL is idempotent; EnsureSchema runs it on every boot so a fresh
// database needs no migration tooling.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS ip_records (
	ip         TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	hash       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ip_records_expires_at ON ip_records (expires_at);

CREATE TABLE IF NOT EXISTS provider_daily_stats (
	provider       TEXT NOT NULL,
	date           DATE NOT NULL,
	total_requests BIGINT NOT NULL DEFAULT 0,
	successes      BIGINT NOT NULL DEFAULT 0,
	failures       BIGINT NOT NULL DEFAULT 0,
	timeouts       BIGINT NOT NULL DEFAULT 0,
	avg_latency_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_error     TEXT,
	PRIMARY KEY (provider, date)
);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*s.queryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("storage: ensure schema: %w", err)
	}
	return nil
}
