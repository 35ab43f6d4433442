// Package storage is the durable tier: correlated records and per-provider
// daily statistics in PostgreSQL. The cache in front of it absorbs almost
// all reads; this layer exists so intelligence survives cache eviction and
// restarts.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/PureCypher/IPChecker-sub000/internal/intel"
	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const defaultQueryTimeout = 5 * time.Second

// Store wraps the PostgreSQL connection pool.
type Store struct {
	db           *sqlx.DB
	queryTimeout time.Duration
	log          *slog.Logger
}

// New opens a pool for dsn. The connection is not verified here; call Ready
// to probe it, so a down database degrades the service instead of killing it
// at boot.
func New(dsn string, log *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db, queryTimeout: defaultQueryTimeout, log: log}, nil
}

// NewFromDB wraps an existing connection. Tests use this with sqlmock.
func NewFromDB(db *sqlx.DB, log *slog.Logger) *Store {
	return &Store{db: db, queryTimeout: defaultQueryTimeout, log: log}
}

// Ready probes connectivity for health checks.
func (s *Store) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertRecord writes rec keyed by IP. When the stored content hash matches,
// only the timestamps move: a refresh that learned nothing new does not
// rewrite the JSONB payload.
func (s *Store) UpsertRecord(ctx context.Context, rec *intel.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: marshal record: %w", err)
	}
	hash := rec.Hash()

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var existing string
	err = s.db.QueryRowxContext(ctx, `SELECT hash FROM ip_records WHERE ip = $1`, rec.IP).Scan(&existing)
	switch {
	case err == nil && existing == hash:
		_, err = s.db.ExecContext(ctx,
			`UPDATE ip_records SET updated_at = now(), expires_at = $2 WHERE ip = $1`,
			rec.IP, rec.Metadata.ExpiresAt)
		if err != nil {
			return fmt.Errorf("storage: touch record: %w", err)
		}
		return nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("storage: read hash: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ip_records (ip, record, hash, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, now(), now(), $4)
		ON CONFLICT (ip) DO UPDATE SET
			record = EXCLUDED.record,
			hash = EXCLUDED.hash,
			updated_at = now(),
			expires_at = EXCLUDED.expires_at`,
		rec.IP, raw, hash, rec.Metadata.ExpiresAt)
	if err != nil {
		return fmt.Errorf("storage: upsert record: %w", err)
	}
	return nil
}

// GetRecord returns the stored record for ip. Expired rows read as absent;
// DeleteExpired reclaims them later.
func (s *Store) GetRecord(ctx context.Context, ip string) (*intel.Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var (
		raw       []byte
		expiresAt time.Time
	)
	err := s.db.QueryRowxContext(ctx,
		`SELECT record, expires_at FROM ip_records WHERE ip = $1`, ip).
		Scan(&raw, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage: get record: %w", err)
	}

	if time.Now().After(expiresAt) {
		return nil, false, nil
	}

	var rec intel.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("storage: unmarshal record %s: %w", ip, err)
	}
	return &rec, true, nil
}

// DeleteExpired removes rows whose expiry is older than grace ago. The grace
// window keeps recently expired intelligence around for forensics.
func (s *Store) DeleteExpired(ctx context.Context, grace time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	cutoff := time.Now().Add(-grace)
	res, err := s.db.ExecContext(ctx, `DELETE FROM ip_records WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: delete expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// UpsertProviderStats folds one fan-out's settled results into today's
// per-provider rows. The running latency average is maintained in SQL so
// concurrent writers cannot lose updates; latency only counts successes.
func (s *Store) UpsertProviderStats(ctx context.Context, results []providers.Result) error {
	if len(results) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin stats tx: %w", err)
	}
	defer tx.Rollback()

	const stmt = `
		INSERT INTO provider_daily_stats (provider, date, total_requests, successes, failures, timeouts, avg_latency_ms, last_error)
		VALUES ($1, CURRENT_DATE, 1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, date) DO UPDATE SET
			total_requests = provider_daily_stats.total_requests + 1,
			successes      = provider_daily_stats.successes + EXCLUDED.successes,
			failures       = provider_daily_stats.failures + EXCLUDED.failures,
			timeouts       = provider_daily_stats.timeouts + EXCLUDED.timeouts,
			avg_latency_ms = CASE WHEN EXCLUDED.successes > 0 THEN
				(provider_daily_stats.avg_latency_ms * provider_daily_stats.successes + EXCLUDED.avg_latency_ms)
					/ (provider_daily_stats.successes + 1)
				ELSE provider_daily_stats.avg_latency_ms END,
			last_error     = COALESCE(EXCLUDED.last_error, provider_daily_stats.last_error)`

	for _, r := range results {
		successes, failures, timeouts := 0, 1, 0
		var lastErr *string
		if r.Success {
			successes, failures = 1, 0
		} else {
			if isTimeoutError(r.Error) {
				timeouts = 1
			}
			if r.Error != "" {
				msg := r.Error
				lastErr = &msg
			}
		}
		if _, err := tx.ExecContext(ctx, stmt, r.Provider, successes, failures, timeouts, r.LatencyMS, lastErr); err != nil {
			return fmt.Errorf("storage: upsert stats for %s: %w", r.Provider, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit stats tx: %w", err)
	}
	return nil
}

// isTimeoutError classifies a settled failure as a timeout by its message.
// Results carry flattened strings, not wrapped errors, so this is a
// substring check against the shapes context and net produce.
func isTimeoutError(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "deadline exceeded") ||
		strings.Contains(m, "timeout") ||
		strings.Contains(m, "timed out")
}

// ProviderDayStat is one row of the daily stats report.
type ProviderDayStat struct {
	Provider      string    `db:"provider" json:"provider"`
	Date          time.Time `db:"date" json:"date"`
	TotalRequests int64     `db:"total_requests" json:"totalRequests"`
	Successes     int64     `db:"successes" json:"successes"`
	Failures      int64     `db:"failures" json:"failures"`
	Timeouts      int64     `db:"timeouts" json:"timeouts"`
	AvgLatencyMS  float64   `db:"avg_latency_ms" json:"avgLatencyMs"`
	LastError     *string   `db:"last_error" json:"lastError,omitempty"`
}

// ProviderStats returns up to days of daily rows, newest first.
func (s *Store) ProviderStats(ctx context.Context, days int) ([]ProviderDayStat, error) {
	if days <= 0 {
		days = 7
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var out []ProviderDayStat
	err := s.db.SelectContext(ctx, &out, `
		SELECT provider, date, total_requests, successes, failures, timeouts, avg_latency_ms, last_error
		FROM provider_daily_stats
		WHERE date >= CURRENT_DATE - $1::int
		ORDER BY date DESC, provider ASC`, days)
	if err != nil {
		return nil, fmt.Errorf("storage: provider stats: %w", err)
	}
	return out, nil
}
