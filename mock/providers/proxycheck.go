package main

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

// newProxyCheckHandler returns an http.Handler that simulates proxycheck.io.
// The v2 response keys the per-address object by the queried IP itself,
// next to a top-level "status" field, and carries an operator block for
// known anonymizers.
func newProxyCheckHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v2/{ip}", func(w http.ResponseWriter, r *http.Request) {
		applyLatency(cfg)
		if shouldError(cfg) {
			http.Error(w, "mock internal server error", http.StatusInternalServerError)
			return
		}

		ip := r.PathValue("ip")
		if _, err := netip.ParseAddr(ip); err != nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"status":  "error",
				"message": "No valid IP Addresses or Email Addresses supplied.",
			})
			return
		}

		p := profileFor(ip)

		kind := "Residential"
		switch {
		case p.tor:
			kind = "TOR"
		case p.vpn:
			kind = "VPN"
		case p.proxy:
			kind = "SOCKS"
		case p.hosting:
			kind = "Hosting"
		}

		proxy := "no"
		if p.proxy || p.vpn || p.tor {
			proxy = "yes"
		}

		entry := map[string]any{
			"asn":          fmt.Sprintf("AS%d", p.asn),
			"provider":     p.org,
			"organisation": p.org,
			"isocode":      p.geo.iso,
			"region":       p.geo.region,
			"city":         p.geo.city,
			"latitude":     p.geo.lat,
			"longitude":    p.geo.lon,
			"timezone":     p.geo.timezone,
			"proxy":        proxy,
			"type":         kind,
			"risk":         p.abuse,
		}
		if p.operator != "" {
			entry["operator"] = map[string]any{
				"name": p.operator,
				"url":  "https://" + strings.ToLower(p.operator) + ".com",
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			ip:       entry,
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return mux
}
