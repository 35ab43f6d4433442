package lookup

import (
	"context"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/intel"
	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

// Stream event names, in emission order.
const (
	EventLookupStart         = "lookup_start"
	EventProviderComplete    = "provider_complete"
	EventCorrelationComplete = "correlation_complete"
	EventLLMStart            = "llm_start"
	EventLookupError         = "lookup_error"
	EventLookupComplete      = "lookup_complete"
)

// EventSink receives the events of a streaming lookup. Emit reports
// whether the client is still connected; once it returns false no
// further events are sent, while the lookup itself runs to completion
// so the result is still persisted.
type EventSink interface {
	Emit(event string, data any) bool
}

// StartEvent opens a live stream: the address being looked up and the
// number of providers about to be queried.
type StartEvent struct {
	IP    string `json:"ip"`
	Total int    `json:"total"`
}

// ErrorEvent terminates a stream whose fan-out produced nothing.
type ErrorEvent struct {
	Error string `json:"error"`
}

// CompleteEvent carries a correlated record. Cached marks records that
// were served without a provider fan-out.
type CompleteEvent struct {
	Data   *intel.Record `json:"data"`
	Cached bool          `json:"cached,omitempty"`
}

// LookupStream runs the pipeline for one address and narrates it into
// sink. A non-nil return means validation failed before anything was
// emitted; every later failure is delivered as a lookup_error event
// instead. Callers that coalesce onto another caller's flight receive
// lookup_start and the terminal event but no per-provider events, the
// fan-out only happens once.
func (s *Service) LookupStream(ctx context.Context, input string, opts Options, sink EventSink) error {
	ip, _, derr := s.resolveInput(ctx, input)
	if derr != nil {
		return derr
	}

	start := time.Now()
	s.metrics.IncActiveLookups()
	defer s.metrics.DecActiveLookups()

	if !opts.ForceRefresh {
		if rec, ok := s.fromCache(ctx, ip, opts); ok {
			s.finish(ctx, ip, rec, start, nil)
			sink.Emit(EventLookupComplete, CompleteEvent{Data: rec, Cached: true})
			return nil
		}
		if rec, ok := s.fromStore(ctx, ip, opts); ok {
			s.finish(ctx, ip, rec, start, nil)
			sink.Emit(EventLookupComplete, CompleteEvent{Data: rec, Cached: true})
			return nil
		}
	}

	// All hook invocations are serialized by the manager and complete
	// before the flight returns, so alive needs no lock.
	alive := true
	emit := func(event string, data any) {
		if alive {
			alive = sink.Emit(event, data)
		}
	}

	emit(EventLookupStart, StartEvent{IP: ip, Total: len(s.manager.Enabled())})

	rec, _, err := s.flight(ctx, ip, opts, flightHooks{
		onProgress: func(p providers.Progress) {
			emit(EventProviderComplete, p)
		},
		onCorrelated: func(r *intel.Record) {
			emit(EventCorrelationComplete, CompleteEvent{Data: r})
		},
		onLLMStart: func() {
			emit(EventLLMStart, struct{}{})
		},
	})
	s.finish(ctx, ip, rec, start, err)
	if err != nil {
		emit(EventLookupError, ErrorEvent{Error: err.Error()})
		return nil
	}
	emit(EventLookupComplete, CompleteEvent{Data: rec})
	return nil
}
