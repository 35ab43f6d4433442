// Package logger implements a non-blocking, batched lookup audit logger.
//
// Audit entries are written to an internal buffered channel and flushed in
// batches by a background goroutine — so logging never blocks the lookup hot
// path. If the channel fills up (> 10 000 entries), new entries are dropped
// and counted in DroppedEntries.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// LookupLog is one completed lookup, as recorded for audit.
type LookupLog struct {
	RequestID          string
	IP                 string
	Source             string
	DurationMs         int64
	ProvidersQueried   int
	ProvidersSucceeded int
	RiskLevel          string
	Cached             bool
	LLMAnalyzed        bool
	Error              string
	CreatedAt          time.Time
}

type Logger struct {
	ch        chan LookupLog
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64
	onDrop  func()

	baseCtx context.Context
	log     *slog.Logger
}

// New starts the flush goroutine. onDrop, when non-nil, is invoked once per
// dropped entry (feeds the metrics counter).
func New(ctx context.Context, slogger *slog.Logger, onDrop func()) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("logger: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	l := &Logger{
		ch:      make(chan LookupLog, channelBuffer),
		done:    make(chan struct{}),
		onDrop:  onDrop,
		baseCtx: ctx,
		log:     slogger,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

func (l *Logger) Log(entry LookupLog) {
	select {
	case l.ch <- entry:
	default:
		atomic.AddInt64(&l.dropped, 1)
		if l.onDrop != nil {
			l.onDrop()
		}
	}
}

func (l *Logger) DroppedEntries() int64 {
	return atomic.LoadInt64(&l.dropped)
}

func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]LookupLog, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			attrs := []any{
				slog.String("request_id", e.RequestID),
				slog.String("ip", e.IP),
				slog.String("source", e.Source),
				slog.Int64("duration_ms", e.DurationMs),
				slog.Int("providers_queried", e.ProvidersQueried),
				slog.Int("providers_succeeded", e.ProvidersSucceeded),
				slog.Bool("cached", e.Cached),
				slog.Bool("llm_analyzed", e.LLMAnalyzed),
				slog.Time("created_at", normalizeTime(e.CreatedAt)),
			}
			if e.RiskLevel != "" {
				attrs = append(attrs, slog.String("risk_level", e.RiskLevel))
			}
			if e.Error != "" {
				attrs = append(attrs, slog.String("error", e.Error))
			}
			l.log.InfoContext(ctx, "lookup", attrs...)
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush(l.baseCtx)
			}

		case <-ticker.C:
			flush(l.baseCtx)

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush(l.baseCtx)
					}
				default:
					flush(l.baseCtx)
					return
				}
			}
		}
	}
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
