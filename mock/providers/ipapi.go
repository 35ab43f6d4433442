package main

import (
	"fmt"
	"net/http"
	"net/netip"
)

// newIPAPIHandler returns an http.Handler that simulates ip-api.com.
// Free-tier shape: GET /json/{ip}?fields=... with a flat JSON object and
// status success|fail.
func newIPAPIHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /json/{ip}", func(w http.ResponseWriter, r *http.Request) {
		applyLatency(cfg)
		if shouldError(cfg) {
			http.Error(w, "mock internal server error", http.StatusInternalServerError)
			return
		}

		ip := r.PathValue("ip")
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			// ip-api reports bad queries in-band with HTTP 200.
			writeJSON(w, http.StatusOK, map[string]any{
				"status":  "fail",
				"message": "invalid query",
				"query":   ip,
			})
			return
		}
		if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() {
			writeJSON(w, http.StatusOK, map[string]any{
				"status":  "fail",
				"message": "private range",
				"query":   ip,
			})
			return
		}

		p := profileFor(ip)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "success",
			"query":       ip,
			"country":     p.geo.country,
			"countryCode": p.geo.iso,
			"regionName":  p.geo.region,
			"city":        p.geo.city,
			"lat":         p.geo.lat,
			"lon":         p.geo.lon,
			"timezone":    p.geo.timezone,
			"isp":         p.org,
			"org":         p.org,
			"as":          fmt.Sprintf("AS%d %s", p.asn, p.org),
			"mobile":      p.mobile,
			"proxy":       p.proxy || p.vpn || p.tor,
			"hosting":     p.hosting,
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return mux
}
