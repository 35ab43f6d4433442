package main

import (
	"encoding/json"
	"hash/fnv"
	"math/rand/v2"
	"net/http"
	"time"
)

// geoEntry is one synthetic location the fleet can place an address in.
type geoEntry struct {
	iso      string
	country  string
	region   string
	city     string
	timezone string
	lat, lon float64
}

var geoTable = []geoEntry{
	{"US", "United States", "California", "Los Angeles", "America/Los_Angeles", 34.0522, -118.2437},
	{"US", "United States", "Virginia", "Ashburn", "America/New_York", 39.0438, -77.4874},
	{"DE", "Germany", "Hesse", "Frankfurt am Main", "Europe/Berlin", 50.1109, 8.6821},
	{"NL", "Netherlands", "North Holland", "Amsterdam", "Europe/Amsterdam", 52.3676, 4.9041},
	{"GB", "United Kingdom", "England", "London", "Europe/London", 51.5074, -0.1278},
	{"JP", "Japan", "Tokyo", "Tokyo", "Asia/Tokyo", 35.6762, 139.6503},
	{"SG", "Singapore", "Singapore", "Singapore", "Asia/Singapore", 1.3521, 103.8198},
	{"BR", "Brazil", "Sao Paulo", "Sao Paulo", "America/Sao_Paulo", -23.5505, -46.6333},
}

// orgEntry is a synthetic network operator.
type orgEntry struct {
	asn     int
	org     string
	hosting bool
	mobile  bool
}

var orgTable = []orgEntry{
	{13335, "Cloudflare, Inc.", true, false},
	{15169, "Google LLC", true, false},
	{16509, "Amazon.com, Inc.", true, false},
	{7922, "Comcast Cable Communications, LLC", false, false},
	{3320, "Deutsche Telekom AG", false, false},
	{20940, "Akamai International B.V.", true, false},
	{310, "T-Mobile USA, Inc.", false, true},
	{6830, "Liberty Global B.V.", false, false},
}

// vpnEntry is a synthetic anonymizer operator; addresses flagged as VPN get
// their network identity from this table so operator extraction has
// something to find.
type vpnEntry struct {
	asn      int
	org      string
	operator string
}

var vpnTable = []vpnEntry{
	{9009, "M247 Europe SRL", "NordVPN"},
	{60068, "Datacamp Limited", "ExpressVPN"},
	{206804, "EstNOC OY", "Mullvad"},
	{63023, "GTHost", "Surfshark"},
}

// profile is the deterministic identity the whole fleet derives from one
// address. Every mock renders the same profile in its own wire format, so
// repeated lookups agree and correlation sees mostly consistent answers.
// The ipqualityscore mock shifts geography for a slice of addresses
// (divergent=true) to exercise conflict reporting downstream.
type profile struct {
	geo geoEntry

	asn int
	org string

	proxy     bool
	vpn       bool
	tor       bool
	hosting   bool
	mobile    bool
	operator  string
	abuse     int
	divergent bool
}

// profileFor hashes ip into a stable profile. Roughly one in five addresses
// is an anonymizer of some kind; one in seven draws conflicting geography
// from the divergent mock.
func profileFor(ip string) profile {
	h := fnv.New64a()
	h.Write([]byte(ip))
	v := h.Sum64()

	var p profile
	p.geo = geoTable[v%uint64(len(geoTable))]
	p.divergent = v%7 == 0

	op := orgTable[(v>>4)%uint64(len(orgTable))]
	p.asn, p.org = op.asn, op.org
	p.hosting, p.mobile = op.hosting, op.mobile

	switch v % 5 {
	case 0: // anonymized address
		p.vpn = true
		p.proxy = v>>8%2 == 0
		p.tor = v>>8%10 == 0
		vp := vpnTable[(v>>12)%uint64(len(vpnTable))]
		p.asn, p.org, p.operator = vp.asn, vp.org, vp.operator
		p.hosting = true
		p.abuse = 30 + int(v>>16%60)
	default:
		p.abuse = int(v >> 16 % 20)
	}
	if p.tor {
		p.abuse = 70 + int(v>>16%31)
	}

	return p
}

// divergentGeo returns the next location in the table, used by the mock
// that disagrees with the rest of the fleet for divergent addresses.
func (p profile) divergentGeo() geoEntry {
	for i, g := range geoTable {
		if g == p.geo {
			return geoTable[(i+1)%len(geoTable)]
		}
	}
	return p.geo
}

// applyLatency sleeps for the configured latency.
func applyLatency(cfg Config) {
	if cfg.LatencyMS > 0 {
		time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)
	}
}

// shouldError returns true if this request should simulate an upstream error.
func shouldError(cfg Config) bool {
	if cfg.ErrorRate <= 0 {
		return false
	}
	return rand.Float64() < cfg.ErrorRate
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
