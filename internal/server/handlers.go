package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/PureCypher/IPChecker-sub000/internal/intel"
	"github.com/PureCypher/IPChecker-sub000/internal/ipaddr"
	"github.com/PureCypher/IPChecker-sub000/internal/lookup"
	"github.com/PureCypher/IPChecker-sub000/internal/providers"
	"github.com/PureCypher/IPChecker-sub000/internal/storage"
	"github.com/PureCypher/IPChecker-sub000/pkg/apierr"
)

type lookupRequest struct {
	IP           string `json:"ip"`
	ForceRefresh bool   `json:"forceRefresh"`
	// IncludeLLM is a pointer so an absent field keeps the endpoint's
	// default: on for single lookups, off for bulk and CIDR.
	IncludeLLM *bool `json:"includeLLMAnalysis"`
}

type bulkRequest struct {
	IPs          []string `json:"ips"`
	ForceRefresh bool     `json:"forceRefresh"`
	IncludeLLM   bool     `json:"includeLLMAnalysis"`
}

type cidrRequest struct {
	CIDR         string `json:"cidr"`
	ForceRefresh bool   `json:"forceRefresh"`
	IncludeLLM   bool   `json:"includeLLMAnalysis"`
}

// lookupResponse is the canonical record with the hostname resolution
// attached when the client submitted a name instead of an address.
type lookupResponse struct {
	*intel.Record
	ResolvedFrom *ipaddr.Resolution `json:"resolvedFrom,omitempty"`
}

type providersResponse struct {
	Healthy   int                        `json:"healthy"`
	Available int                        `json:"available"`
	Providers []providers.ProviderHealth `json:"providers"`
	Daily     []storage.ProviderDayStat  `json:"dailyStats,omitempty"`
}

func (s *Server) handleLookupPost(ctx *fasthttp.RequestCtx) {
	var req lookupRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, apierr.CodeInvalidFormat, "Request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.IP) == "" {
		apierr.Write(ctx, apierr.CodeInvalidFormat, `Field "ip" is required`)
		return
	}

	opts := lookup.Options{ForceRefresh: req.ForceRefresh, IncludeLLM: true}
	if req.IncludeLLM != nil {
		opts.IncludeLLM = *req.IncludeLLM
	}
	s.serveLookup(ctx, req.IP, opts)
}

func (s *Server) handleLookupGet(ctx *fasthttp.RequestCtx) {
	ip, _ := ctx.UserValue("ip").(string)
	opts := lookup.Options{
		ForceRefresh: boolQuery(ctx, "forceRefresh", false),
		IncludeLLM:   boolQuery(ctx, "includeLLMAnalysis", true),
	}
	s.serveLookup(ctx, ip, opts)
}

func (s *Server) serveLookup(ctx *fasthttp.RequestCtx, input string, opts lookup.Options) {
	rctx := lookup.WithRequestID(ctx, requestIDOf(ctx))
	rec, res, err := s.svc.Lookup(rctx, input, opts)
	if err != nil {
		s.writeLookupError(ctx, err)
		return
	}
	writeJSON(ctx, lookupResponse{Record: rec, ResolvedFrom: res})
}

func (s *Server) handleBulk(ctx *fasthttp.RequestCtx) {
	var req bulkRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, apierr.CodeInvalidFormat, "Request body must be valid JSON")
		return
	}
	if len(req.IPs) == 0 {
		apierr.Write(ctx, apierr.CodeInvalidFormat, `Field "ips" must be a non-empty array`)
		return
	}
	if !s.chargeRateLimit(ctx, len(req.IPs)) {
		return
	}

	rctx := lookup.WithRequestID(ctx, requestIDOf(ctx))
	resp, err := s.svc.LookupBulk(rctx, req.IPs, lookup.Options{
		ForceRefresh: req.ForceRefresh,
		IncludeLLM:   req.IncludeLLM,
	})
	if err != nil {
		s.writeLookupError(ctx, err)
		return
	}
	writeJSON(ctx, resp)
}

func (s *Server) handleCIDR(ctx *fasthttp.RequestCtx) {
	var req cidrRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, apierr.CodeInvalidFormat, "Request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.CIDR) == "" {
		apierr.Write(ctx, apierr.CodeInvalidFormat, `Field "cidr" is required`)
		return
	}

	// Expand up front so the rate limiter charges the real host count and
	// oversized or malformed blocks are rejected without consuming budget.
	exp, derr := ipaddr.ExpandCIDR(req.CIDR, s.cfg.CIDRMaxHosts)
	if derr != nil {
		apierr.Write(ctx, derr.Code, derr.Message)
		return
	}
	if !s.chargeRateLimit(ctx, len(exp.Hosts)) {
		return
	}

	rctx := lookup.WithRequestID(ctx, requestIDOf(ctx))
	resp, err := s.svc.LookupCIDR(rctx, req.CIDR, lookup.Options{
		ForceRefresh: req.ForceRefresh,
		IncludeLLM:   req.IncludeLLM,
	})
	if err != nil {
		s.writeLookupError(ctx, err)
		return
	}
	writeJSON(ctx, resp)
}

func (s *Server) handleProviders(ctx *fasthttp.RequestCtx) {
	healthy, available := s.fleet.Counts()
	resp := providersResponse{
		Healthy:   healthy,
		Available: available,
		Providers: s.fleet.Health(),
	}
	if s.stats != nil {
		days := intQuery(ctx, "days", 7)
		rows, err := s.stats.ProviderStats(ctx, days)
		if err != nil {
			s.log.Warn("provider stats unavailable", slog.String("error", err.Error()))
		} else {
			resp.Daily = rows
		}
	}
	writeJSON(ctx, resp)
}

func (s *Server) handleProviderReset(ctx *fasthttp.RequestCtx) {
	name, _ := ctx.UserValue("name").(string)
	if !s.fleet.ResetBreaker(name) {
		apierr.Write(ctx, apierr.CodeNotFound, fmt.Sprintf("Unknown provider %q", name))
		return
	}
	s.log.Info("circuit breaker reset", slog.String("provider", name))
	writeJSON(ctx, map[string]string{"status": "reset", "provider": name})
}

func (s *Server) handleCachePurge(ctx *fasthttp.RequestCtx) {
	if s.cache == nil {
		apierr.Write(ctx, apierr.CodeNotFound, "No cache backend configured")
		return
	}
	n, err := s.cache.Purge(ctx)
	if err != nil {
		s.log.Error("cache purge failed", slog.String("error", err.Error()))
		apierr.WriteInternal(ctx)
		return
	}
	s.log.Info("cache purged", slog.Int("deleted", n))
	writeJSON(ctx, map[string]int{"deleted": n})
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	if s.health == nil {
		writeJSON(ctx, map[string]string{"status": "healthy", "version": s.cfg.Version})
		return
	}
	writeJSON(ctx, s.health.Snapshot())
}

func (s *Server) handleLive(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(ctx *fasthttp.RequestCtx) {
	if s.health == nil || s.health.ReadinessOK() {
		writeJSON(ctx, map[string]string{"status": "ready"})
		return
	}
	snap := s.health.Snapshot()
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, struct {
		Status   string        `json:"status"`
		Services ServiceHealth `json:"services"`
	}{Status: "not ready", Services: snap.Services})
}

// writeLookupError maps pipeline errors onto the envelope: typed
// validation errors become 400s with their own codes, an empty fan-out
// becomes 503, everything else a logged 500.
func (s *Server) writeLookupError(ctx *fasthttp.RequestCtx, err error) {
	var (
		verr    *ipaddr.Error
		tooMany *lookup.TooManyIPsError
		invalid *lookup.BulkValidationError
	)
	switch {
	case errors.As(err, &verr):
		apierr.Write(ctx, verr.Code, verr.Message)
	case errors.As(err, &tooMany):
		apierr.Write(ctx, apierr.CodeTooManyIPs, tooMany.Error())
	case errors.As(err, &invalid):
		apierr.WriteDetailed(ctx, fasthttp.StatusBadRequest, apierr.CodeInvalidIPs,
			invalid.Error(), "Fix or remove the listed addresses and resubmit the batch.", invalid.Details)
	case errors.Is(err, lookup.ErrProvidersUnavailable):
		apierr.WriteUnavailable(ctx, err.Error())
	default:
		s.log.Error("lookup failed", slog.String("error", err.Error()))
		apierr.WriteInternal(ctx)
	}
}

// chargeRateLimit charges n addresses to the requester's window. On
// rejection it writes the 429 itself and reports false.
func (s *Server) chargeRateLimit(ctx *fasthttp.RequestCtx, n int) bool {
	if s.limiter == nil {
		return true
	}
	requester := requesterIP(ctx)
	ok, retry := s.limiter.Allow(requester, n)
	if !ok {
		if s.metrics != nil {
			s.metrics.RecordRateLimit("rejected")
		}
		s.log.Warn("rate limit exceeded",
			slog.String("requester", requester),
			slog.Int("requested", n))
		apierr.WriteRateLimit(ctx, retry)
		return false
	}
	if s.metrics != nil {
		s.metrics.RecordRateLimit("allowed")
	}
	return true
}

// requesterIP identifies the caller for rate limiting: the first hop of
// X-Forwarded-For when a proxy set it, otherwise the peer address.
func requesterIP(ctx *fasthttp.RequestCtx) string {
	if xff := ctx.Request.Header.Peek("X-Forwarded-For"); len(xff) > 0 {
		first, _, _ := strings.Cut(string(xff), ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return ctx.RemoteIP().String()
}

func requestIDOf(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue("request_id").(string)
	return id
}

func boolQuery(ctx *fasthttp.RequestCtx, key string, def bool) bool {
	v := ctx.QueryArgs().Peek(key)
	if len(v) == 0 {
		return def
	}
	b, err := strconv.ParseBool(string(v))
	if err != nil {
		return def
	}
	return b
}

func intQuery(ctx *fasthttp.RequestCtx, key string, def int) int {
	v := ctx.QueryArgs().Peek(key)
	if len(v) == 0 {
		return def
	}
	n, err := strconv.Atoi(string(v))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
