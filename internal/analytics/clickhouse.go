// Package analytics ships lookup events to ClickHouse for offline analysis
// of traffic patterns and provider behavior. The sink is optional: a nil
// *Sink is a no-op, and an insert failure never affects the serving path.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/PureCypher/IPChecker-sub000/internal/metrics"
)

const eventsDDL = `
CREATE TABLE IF NOT EXISTS lookup_events (
	ts                  DateTime64(3),
	request_id          String,
	ip                  String,
	source              LowCardinality(String),
	risk_level          LowCardinality(String),
	country             LowCardinality(String),
	providers_queried   UInt8,
	providers_succeeded UInt8,
	duration_ms         UInt32,
	cached              Bool,
	llm_analyzed        Bool
)
ENGINE = MergeTree
ORDER BY ts
TTL toDateTime(ts) + INTERVAL 90 DAY`

// Event is one completed lookup.
type Event struct {
	Time               time.Time
	RequestID          string
	IP                 string
	Source             string
	RiskLevel          string
	Country            string
	ProvidersQueried   int
	ProvidersSucceeded int
	DurationMS         int64
	Cached             bool
	LLMAnalyzed        bool
}

// Options connects the sink to one ClickHouse node.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

// Sink writes events with async inserts so the hot path never waits on a
// ClickHouse merge.
type Sink struct {
	conn    driver.Conn
	metrics *metrics.Registry
	log     *slog.Logger
}

// New opens a native-protocol connection. Callers skip construction entirely
// when no address is configured; every method tolerates a nil receiver.
func New(opts Options, reg *metrics.Registry, log *slog.Logger) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("analytics: open: %w", err)
	}
	return &Sink{conn: conn, metrics: reg, log: log}, nil
}

// EnsureSchema creates the events table if it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if err := s.conn.Exec(ctx, eventsDDL); err != nil {
		return fmt.Errorf("analytics: ensure schema: %w", err)
	}
	return nil
}

// Record queues one event. wait=false hands the row to ClickHouse's async
// insert buffer and returns immediately; failures are logged and counted,
// never returned.
func (s *Sink) Record(ctx context.Context, ev Event) {
	if s == nil {
		return
	}

	err := s.conn.AsyncInsert(ctx, `
		INSERT INTO lookup_events
			(ts, request_id, ip, source, risk_level, country,
			 providers_queried, providers_succeeded, duration_ms, cached, llm_analyzed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, false,
		ev.Time, ev.RequestID, ev.IP, ev.Source, ev.RiskLevel, ev.Country,
		uint8(ev.ProvidersQueried), uint8(ev.ProvidersSucceeded),
		uint32(ev.DurationMS), ev.Cached, ev.LLMAnalyzed)
	if err != nil {
		s.metrics.RecordAnalyticsEvent(false)
		s.log.WarnContext(ctx, "analytics insert failed",
			slog.String("ip", ev.IP),
			slog.String("error", err.Error()))
		return
	}
	s.metrics.RecordAnalyticsEvent(true)
}

// Ping probes the connection. A nil sink always reports healthy.
func (s *Sink) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.conn.Ping(ctx)
}

// Close releases the connection. Safe on nil.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	return s.conn.Close()
}
