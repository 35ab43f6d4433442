package main

import (
	"net/http"
	"net/netip"
	"time"
)

// newAbuseIPDBHandler returns an http.Handler that simulates the AbuseIPDB
// v2 check endpoint. Requires the Key header; answers under a "data"
// envelope like the real service.
func newAbuseIPDBHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v2/check", func(w http.ResponseWriter, r *http.Request) {
		applyLatency(cfg)
		if shouldError(cfg) {
			http.Error(w, "mock internal server error", http.StatusInternalServerError)
			return
		}

		if r.Header.Get("Key") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"errors": []map[string]any{
					{"detail": "Authentication failed. Your API key is either missing, incorrect, or revoked.", "status": 401},
				},
			})
			return
		}

		ip := r.URL.Query().Get("ipAddress")
		if _, err := netip.ParseAddr(ip); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"errors": []map[string]any{
					{"detail": "The ip address must be a valid IPv4 or IPv6 address.", "status": 422},
				},
			})
			return
		}

		p := profileFor(ip)

		usage := "Fixed Line ISP"
		switch {
		case p.hosting:
			usage = "Data Center/Web Hosting/Transit"
		case p.mobile:
			usage = "Mobile ISP"
		}

		reports := p.abuse / 3
		var lastReported *string
		if reports > 0 {
			ts := time.Now().Add(-6 * time.Hour).UTC().Format(time.RFC3339)
			lastReported = &ts
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"ipAddress":            ip,
				"isPublic":             true,
				"abuseConfidenceScore": p.abuse,
				"countryCode":          p.geo.iso,
				"usageType":            usage,
				"isp":                  p.org,
				"domain":               "example.net",
				"isTor":                p.tor,
				"totalReports":         reports,
				"lastReportedAt":       lastReported,
			},
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return mux
}
