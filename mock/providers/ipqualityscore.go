package main

import (
	"net/http"
	"net/netip"
)

// newIPQualityScoreHandler returns an http.Handler that simulates the
// IPQualityScore IP reputation endpoint (key embedded in the path). For
// divergent profiles it reports geography one slot off from the rest of
// the fleet, so correlation downstream has real conflicts to resolve.
func newIPQualityScoreHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/json/ip/{key}/{ip}", func(w http.ResponseWriter, r *http.Request) {
		applyLatency(cfg)
		if shouldError(cfg) {
			http.Error(w, "mock internal server error", http.StatusInternalServerError)
			return
		}

		ip := r.PathValue("ip")
		if _, err := netip.ParseAddr(ip); err != nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": false,
				"message": "Invalid IP address.",
			})
			return
		}

		p := profileFor(ip)
		geo := p.geo
		if p.divergent {
			geo = p.divergentGeo()
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"message":      "Success",
			"fraud_score":  p.abuse,
			"country_code": geo.iso,
			"region":       geo.region,
			"city":         geo.city,
			"ISP":          p.org,
			"ASN":          p.asn,
			"organization": p.org,
			"latitude":     geo.lat,
			"longitude":    geo.lon,
			"timezone":     geo.timezone,
			"mobile":       p.mobile,
			"host":         "",
			"proxy":        p.proxy || p.vpn || p.tor,
			"vpn":          p.vpn,
			"active_vpn":   p.vpn,
			"tor":          p.tor,
			"active_tor":   p.tor,
			"recent_abuse": p.abuse >= 50,
			"bot_status":   p.abuse >= 80,
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return mux
}
