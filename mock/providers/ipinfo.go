package main

import (
	"fmt"
	"net/http"
	"net/netip"
)

// newIPInfoHandler returns an http.Handler that simulates ipinfo.io.
// Shape: GET /{ip}/json with the combined "loc" coordinate field and the
// paid-plan privacy block; bogon addresses answer {"bogon": true}.
func newIPInfoHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{ip}/json", func(w http.ResponseWriter, r *http.Request) {
		applyLatency(cfg)
		if shouldError(cfg) {
			http.Error(w, "mock internal server error", http.StatusInternalServerError)
			return
		}

		ip := r.PathValue("ip")
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"status": 404,
				"error":  map[string]string{"title": "Wrong ip", "message": ip + " does not appear to be an IPv4 or IPv6 address"},
			})
			return
		}
		if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() {
			writeJSON(w, http.StatusOK, map[string]any{"ip": ip, "bogon": true})
			return
		}

		p := profileFor(ip)
		writeJSON(w, http.StatusOK, map[string]any{
			"ip":       ip,
			"city":     p.geo.city,
			"region":   p.geo.region,
			"country":  p.geo.iso,
			"loc":      fmt.Sprintf("%.4f,%.4f", p.geo.lat, p.geo.lon),
			"org":      fmt.Sprintf("AS%d %s", p.asn, p.org),
			"timezone": p.geo.timezone,
			"privacy": map[string]any{
				"vpn":     p.vpn,
				"proxy":   p.proxy,
				"tor":     p.tor,
				"relay":   false,
				"hosting": p.hosting,
				"service": p.operator,
			},
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return mux
}
