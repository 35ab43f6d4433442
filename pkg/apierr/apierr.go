// Package apierr provides the structured error envelope returned by every
// API endpoint: a machine-readable code, a human message, an actionable
// suggestion, and request correlation fields.
package apierr

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
)

// Error codes.
const (
	CodeInvalidFormat        = "INVALID_FORMAT"
	CodePrivateIP            = "PRIVATE_IP"
	CodeReservedIP           = "RESERVED_IP"
	CodeDNSResolutionFailed  = "DNS_RESOLUTION_FAILED"
	CodeInvalidCIDR          = "INVALID_CIDR"
	CodeTooManyIPs           = "TOO_MANY_IPS"
	CodeInvalidIPs           = "INVALID_IPS"
	CodeProvidersUnavailable = "PROVIDERS_UNAVAILABLE"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeNotFound             = "NOT_FOUND"
	CodeInternalError        = "INTERNAL_ERROR"
)

// suggestions maps each code to its default remediation hint.
var suggestions = map[string]string{
	CodeInvalidFormat:        "Provide a valid IPv4 or IPv6 address, for example 8.8.8.8 or 2001:4860:4860::8888.",
	CodePrivateIP:            "Private addresses carry no public intelligence; look up the network's public egress address instead.",
	CodeReservedIP:           "Reserved, loopback and multicast addresses cannot be looked up.",
	CodeDNSResolutionFailed:  "Check the hostname spelling or supply an IP address directly.",
	CodeInvalidCIDR:          "Use prefix notation covering at most 256 hosts, for example 203.0.113.0/28.",
	CodeTooManyIPs:           "Split the request into batches of at most 100 addresses.",
	CodeInvalidIPs:           "Fix or remove the listed addresses and resubmit the batch.",
	CodeProvidersUnavailable: "All upstream intelligence sources are failing or timed out; retry shortly.",
	CodeRateLimitExceeded:    "Reduce the request rate or wait for the current window to expire.",
	CodeNotFound:             "Check the path and any resource name it contains.",
	CodeInternalError:        "Retry the request; contact the operator if the problem persists.",
}

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		Suggestion string `json:"suggestion,omitempty"`
		Details    any    `json:"details,omitempty"`
	}
	envelope struct {
		Error     APIError `json:"error"`
		Timestamp string   `json:"timestamp"`
		RequestID string   `json:"requestId,omitempty"`
	}
)

// StatusOf maps an error code to its HTTP status.
//
//	Validation codes → 400
//	PROVIDERS_UNAVAILABLE → 503
//	RATE_LIMIT_EXCEEDED → 429
//	Everything else → 500
func StatusOf(code string) int {
	switch code {
	case CodeInvalidFormat, CodePrivateIP, CodeReservedIP,
		CodeDNSResolutionFailed, CodeInvalidCIDR, CodeTooManyIPs, CodeInvalidIPs:
		return fasthttp.StatusBadRequest
	case CodeProvidersUnavailable:
		return fasthttp.StatusServiceUnavailable
	case CodeRateLimitExceeded:
		return fasthttp.StatusTooManyRequests
	case CodeNotFound:
		return fasthttp.StatusNotFound
	default:
		return fasthttp.StatusInternalServerError
	}
}

// Write writes the error envelope with the status derived from the code and
// the default suggestion for that code.
func Write(ctx *fasthttp.RequestCtx, code, message string) {
	WriteDetailed(ctx, StatusOf(code), code, message, suggestions[code], nil)
}

// WriteDetailed writes the full envelope with explicit status, suggestion and
// an optional details payload (used by INVALID_IPS to carry the per-IP list).
func WriteDetailed(ctx *fasthttp.RequestCtx, status int, code, message, suggestion string, details any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{
		Error: APIError{
			Code:       code,
			Message:    message,
			Suggestion: suggestion,
			Details:    details,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID(ctx),
	})
	ctx.SetBody(body)
}

// WriteRateLimit writes a 429 with a Retry-After header.
func WriteRateLimit(ctx *fasthttp.RequestCtx, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	ctx.Response.Header.Set("Retry-After", strconv.Itoa(secs))
	Write(ctx, CodeRateLimitExceeded, "rate limit exceeded for bulk lookups")
}

// WriteUnavailable writes a 503 for the no-successful-providers case.
func WriteUnavailable(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, CodeProvidersUnavailable, message)
}

// WriteInternal writes a generic 500. The underlying error is logged by the
// caller, never exposed to the client.
func WriteInternal(ctx *fasthttp.RequestCtx) {
	Write(ctx, CodeInternalError, "an unexpected error occurred")
}

func requestID(ctx *fasthttp.RequestCtx) string {
	if v, ok := ctx.UserValue("request_id").(string); ok {
		return v
	}
	return ""
}
