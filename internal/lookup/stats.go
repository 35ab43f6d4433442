package lookup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/metrics"
	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const (
	statsBuffer       = 1024
	statsWriteTimeout = 10 * time.Second
)

// statsSink feeds provider fan-out results into the durable daily stats
// from a single background worker. Submitting never blocks a lookup:
// when the buffer is full the batch is dropped and counted.
type statsSink struct {
	ch      chan []providers.Result
	store   Store
	metrics *metrics.Registry
	log     *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newStatsSink(store Store, reg *metrics.Registry, log *slog.Logger) *statsSink {
	s := &statsSink{
		ch:      make(chan []providers.Result, statsBuffer),
		store:   store,
		metrics: reg,
		log:     log,
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Submit queues one fan-out's results for the daily stats rollup.
func (s *statsSink) Submit(results []providers.Result) {
	if len(results) == 0 {
		return
	}
	select {
	case s.ch <- results:
	default:
		s.metrics.RecordDropped("stats")
	}
}

// Close drains the queue and stops the worker.
func (s *statsSink) Close() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *statsSink) run() {
	defer s.wg.Done()
	for {
		select {
		case batch := <-s.ch:
			s.write(batch)
		case <-s.done:
			for {
				select {
				case batch := <-s.ch:
					s.write(batch)
				default:
					return
				}
			}
		}
	}
}

func (s *statsSink) write(batch []providers.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), statsWriteTimeout)
	defer cancel()
	if err := s.store.UpsertProviderStats(ctx, batch); err != nil {
		s.log.Warn("provider stats write failed", slog.String("error", err.Error()))
	}
}
