package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/valyala/fasthttp"

	"github.com/PureCypher/IPChecker-sub000/internal/lookup"
	"github.com/PureCypher/IPChecker-sub000/pkg/apierr"
)

// sseSink adapts one streaming response body to the pipeline's event sink.
// A write or flush failure marks the client gone and Emit reports false so
// the pipeline stops emitting; the lookup itself keeps running and still
// persists its result.
type sseSink struct {
	mu   sync.Mutex
	w    *bufio.Writer
	log  *slog.Logger
	dead bool
}

func newSSESink(w *bufio.Writer, log *slog.Logger) *sseSink {
	return &sseSink{w: w, log: log}
}

// Emit writes one named event frame and flushes it, so the client sees
// every event as soon as it happens rather than when the buffer fills.
func (s *sseSink) Emit(event string, data any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return false
	}

	payload, err := json.Marshal(data)
	if err != nil {
		s.log.Error("sse payload marshal failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
		return true
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		s.dead = true
		return false
	}
	if err := s.w.Flush(); err != nil {
		s.dead = true
		return false
	}
	return true
}

func (s *Server) handleLookupStream(ctx *fasthttp.RequestCtx) {
	input := strings.TrimSpace(string(ctx.QueryArgs().Peek("ip")))
	if input == "" {
		apierr.Write(ctx, apierr.CodeInvalidFormat, `Query parameter "ip" is required`)
		return
	}
	opts := lookup.Options{
		ForceRefresh: boolQuery(ctx, "forceRefresh", false),
		IncludeLLM:   boolQuery(ctx, "includeLLMAnalysis", true),
	}

	// Validate before streaming starts; once the body writer runs, the 200
	// and the event-stream headers are already on the wire.
	ip, _, err := s.svc.Resolve(ctx, input)
	if err != nil {
		s.writeLookupError(ctx, err)
		return
	}

	// The body writer runs after this handler returns, when the request
	// context may already be recycled, so the stream carries the server's
	// base context.
	sctx := lookup.WithRequestID(s.baseCtx, requestIDOf(ctx))

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("stream handler panic",
					slog.Any("panic", r),
					slog.String("ip", ip))
			}
		}()
		if err := s.svc.LookupStream(sctx, ip, opts, newSSESink(w, s.log)); err != nil {
			s.log.Warn("stream lookup rejected",
				slog.String("ip", ip),
				slog.String("error", err.Error()))
		}
	})
}
