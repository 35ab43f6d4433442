package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

func respondJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func fetchVia(t *testing.T, name, apiKey string, srv *httptest.Server, ip string) (*providers.Partial, error) {
	t.Helper()
	f, ok := Build(name, apiKey, srv.URL, srv.Client())
	if !ok {
		t.Fatalf("Build(%q) does not know the adapter", name)
	}
	return f.Fetch(context.Background(), ip)
}

func strVal(t *testing.T, field string, p *string) string {
	t.Helper()
	if p == nil {
		t.Fatalf("%s is nil", field)
	}
	return *p
}

func boolVal(t *testing.T, field string, p *bool) bool {
	t.Helper()
	if p == nil {
		t.Fatalf("%s is nil", field)
	}
	return *p
}

func intVal(t *testing.T, field string, p *int) int {
	t.Helper()
	if p == nil {
		t.Fatalf("%s is nil", field)
	}
	return *p
}

func TestBuild_CoversTheWholeFleet(t *testing.T) {
	names := []string{
		"ipapi", "ipinfo", "ipdata", "ipregistry", "abuseipdb",
		"ipqualityscore", "proxycheck", "vpnapi", "greynoise", "virustotal",
		"shodan", "criminalip", "otx", "ipgeolocation", "ipstack",
		"ip2location", "ipwhois", "ipapico", "dbip", "bigdatacloud",
		"ipbase", "abstractapi", "iplocate", "freeipapi", "ipapiis",
		"hackertarget",
	}
	client := &http.Client{}
	for _, name := range names {
		f, ok := Build(name, "key", "", client)
		if !ok {
			t.Errorf("Build(%q) = unknown", name)
			continue
		}
		if f.Name() != name {
			t.Errorf("Build(%q).Name() = %q", name, f.Name())
		}
	}
	if _, ok := Build("maxmind", "key", "", client); ok {
		t.Error("Build returned a fetcher for an unknown name")
	}
}

func TestIPAPI_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/1.1.1.1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("fields") == "" {
			t.Error("fields query parameter missing")
		}
		respondJSON(t, w, map[string]any{
			"status":      "success",
			"countryCode": "US",
			"regionName":  "California",
			"city":        "Los Angeles",
			"lat":         34.0522,
			"lon":         -118.2437,
			"timezone":    "America/Los_Angeles",
			"isp":         "Cloudflare, Inc.",
			"org":         "",
			"as":          "AS13335 Cloudflare, Inc.",
			"mobile":      false,
			"proxy":       true,
			"hosting":     true,
		})
	}))
	defer srv.Close()

	p, err := fetchVia(t, "ipapi", "", srv, "1.1.1.1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := strVal(t, "ASN", p.ASN); got != "AS13335" {
		t.Errorf("ASN = %q, want AS13335", got)
	}
	if got := strVal(t, "Org", p.Org); got != "Cloudflare, Inc." {
		t.Errorf("Org = %q (isp fallback expected)", got)
	}
	if got := strVal(t, "Country", p.Country); got != "US" {
		t.Errorf("Country = %q", got)
	}
	if !boolVal(t, "IsProxy", p.IsProxy) || !boolVal(t, "IsHosting", p.IsHosting) {
		t.Error("proxy/hosting flags not carried over")
	}
	if p.Latitude == nil || *p.Latitude != 34.0522 {
		t.Errorf("Latitude = %v", p.Latitude)
	}
}

func TestIPAPI_FetchReportsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, map[string]any{"status": "fail", "message": "reserved range"})
	}))
	defer srv.Close()

	if _, err := fetchVia(t, "ipapi", "", srv, "1.1.1.1"); err == nil || !strings.Contains(err.Error(), "reserved range") {
		t.Fatalf("err = %v, want upstream message", err)
	}
}

func TestIPInfo_FetchWithPrivacyBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/8.8.8.8/json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		respondJSON(t, w, map[string]any{
			"city":     "Mountain View",
			"region":   "California",
			"country":  "US",
			"loc":      "37.4056,-122.0775",
			"org":      "AS15169 Google LLC",
			"timezone": "America/Los_Angeles",
			"privacy": map[string]any{
				"vpn":     true,
				"proxy":   false,
				"tor":     false,
				"hosting": true,
				"service": "NordVPN",
			},
		})
	}))
	defer srv.Close()

	p, err := fetchVia(t, "ipinfo", "test-key", srv, "8.8.8.8")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := strVal(t, "ASN", p.ASN); got != "AS15169" {
		t.Errorf("ASN = %q", got)
	}
	if got := strVal(t, "Org", p.Org); got != "Google LLC" {
		t.Errorf("Org = %q", got)
	}
	if p.Latitude == nil || *p.Latitude != 37.4056 {
		t.Errorf("Latitude = %v", p.Latitude)
	}
	if !boolVal(t, "IsVPN", p.IsVPN) {
		t.Error("IsVPN not set from privacy block")
	}
	if got := strVal(t, "VPNProvider", p.VPNProvider); got != "NordVPN" {
		t.Errorf("VPNProvider = %q", got)
	}
}

func TestIPInfo_RejectsBogon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, map[string]any{"bogon": true})
	}))
	defer srv.Close()

	if _, err := fetchVia(t, "ipinfo", "test-key", srv, "127.0.0.1"); err == nil {
		t.Fatal("expected bogon error")
	}
}

func TestProxyCheck_ReadsDynamicEntryKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/203.0.113.9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("key = %q", got)
		}
		respondJSON(t, w, map[string]any{
			"status": "ok",
			"203.0.113.9": map[string]any{
				"asn":      "AS9009",
				"provider": "M247 Ltd",
				"isocode":  "RO",
				"proxy":    "yes",
				"type":     "VPN",
				"risk":     66,
				"operator": map[string]any{"name": "NordVPN"},
			},
		})
	}))
	defer srv.Close()

	p, err := fetchVia(t, "proxycheck", "test-key", srv, "203.0.113.9")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := strVal(t, "ASN", p.ASN); got != "AS9009" {
		t.Errorf("ASN = %q", got)
	}
	if !boolVal(t, "IsProxy", p.IsProxy) || !boolVal(t, "IsVPN", p.IsVPN) {
		t.Error("proxy/vpn flags not derived from yes/VPN")
	}
	if got := intVal(t, "AbuseScore", p.AbuseScore); got != 66 {
		t.Errorf("AbuseScore = %d", got)
	}
	if got := strVal(t, "VPNProvider", p.VPNProvider); got != "NordVPN" {
		t.Errorf("VPNProvider = %q", got)
	}
}

func TestProxyCheck_DeniedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, map[string]any{"status": "denied", "message": "invalid api key"})
	}))
	defer srv.Close()

	if _, err := fetchVia(t, "proxycheck", "bad", srv, "1.1.1.1"); err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("err = %v, want denial message", err)
	}
}

func TestGreyNoise_NotFoundIsAValidAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("key"); got != "test-key" {
			t.Errorf("key header = %q", got)
		}
		w.WriteHeader(http.StatusNotFound)
		respondJSON(t, w, map[string]any{"message": "IP not observed scanning the internet"})
	}))
	defer srv.Close()

	p, err := fetchVia(t, "greynoise", "test-key", srv, "198.51.100.7")
	if err != nil {
		t.Fatalf("Fetch on 404: %v", err)
	}
	if p.AbuseScore != nil {
		t.Errorf("AbuseScore = %v, want unset for a never-observed address", *p.AbuseScore)
	}
}

func TestGreyNoise_MaliciousClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, map[string]any{
			"ip":             "198.51.100.7",
			"noise":          true,
			"classification": "malicious",
			"last_seen":      "2024-03-01",
		})
	}))
	defer srv.Close()

	p, err := fetchVia(t, "greynoise", "test-key", srv, "198.51.100.7")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := intVal(t, "AbuseScore", p.AbuseScore); got != 75 {
		t.Errorf("AbuseScore = %d, want 75", got)
	}
	if p.LastSeen == nil {
		t.Error("LastSeen not parsed from date-only timestamp")
	}
}

func TestShodan_NotFoundIsAValidAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		respondJSON(t, w, map[string]any{"error": "No information available for that IP."})
	}))
	defer srv.Close()

	p, err := fetchVia(t, "shodan", "test-key", srv, "198.51.100.7")
	if err != nil {
		t.Fatalf("Fetch on 404: %v", err)
	}
	if p.ASN != nil || p.IsVPN != nil {
		t.Errorf("expected an empty observation, got %+v", p)
	}
}

func TestShodan_MapsTagsAndBareTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "test-key" || q.Get("minify") != "true" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		respondJSON(t, w, map[string]any{
			"ip_str":      "203.0.113.9",
			"asn":         "AS14061",
			"org":         "DigitalOcean, LLC",
			"tags":        []string{"vpn", "cloud"},
			"last_update": "2024-01-15T10:30:00.123456",
		})
	}))
	defer srv.Close()

	p, err := fetchVia(t, "shodan", "test-key", srv, "203.0.113.9")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !boolVal(t, "IsVPN", p.IsVPN) || !boolVal(t, "IsHosting", p.IsHosting) {
		t.Error("tags not mapped to flags")
	}
	if p.LastSeen == nil {
		t.Error("LastSeen not parsed from zone-less timestamp")
	}
}

func TestIPStack_ErrorEnvelopeOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, map[string]any{
			"success": false,
			"error": map[string]any{
				"code": 101,
				"type": "invalid_access_key",
				"info": "You have not supplied a valid API Access Key.",
			},
		})
	}))
	defer srv.Close()

	if _, err := fetchVia(t, "ipstack", "bad", srv, "1.1.1.1"); err == nil || !strings.Contains(err.Error(), "invalid_access_key") {
		t.Fatalf("err = %v, want error envelope surfaced", err)
	}
}

func TestVPNAPI_ParsesQuotedCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/203.0.113.9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		respondJSON(t, w, map[string]any{
			"security": map[string]any{"vpn": true, "proxy": false, "tor": false, "relay": false},
			"location": map[string]any{
				"country_code": "RO",
				"latitude":     "44.4268",
				"longitude":    "26.1025",
			},
			"network": map[string]any{
				"autonomous_system_number":       "AS9009",
				"autonomous_system_organization": "M247 Ltd",
			},
		})
	}))
	defer srv.Close()

	p, err := fetchVia(t, "vpnapi", "test-key", srv, "203.0.113.9")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Latitude == nil || *p.Latitude != 44.4268 {
		t.Errorf("Latitude = %v, want parsed string coordinate", p.Latitude)
	}
	if !boolVal(t, "IsVPN", p.IsVPN) {
		t.Error("IsVPN not set")
	}
}

func TestHackerTarget_ParsesQuotedCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/aslookup/" || r.URL.Query().Get("q") != "1.1.1.1" {
			t.Errorf("url = %q", r.URL.String())
		}
		w.Write([]byte("\"1.1.1.1\",\"13335\",\"1.1.1.0/24\",\"CLOUDFLARENET, US\"\n"))
	}))
	defer srv.Close()

	p, err := fetchVia(t, "hackertarget", "", srv, "1.1.1.1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := strVal(t, "ASN", p.ASN); got != "AS13335" {
		t.Errorf("ASN = %q", got)
	}
	// The description field itself contains a comma, which is why the body
	// goes through a CSV reader and not a string split.
	if got := strVal(t, "Org", p.Org); got != "CLOUDFLARENET" {
		t.Errorf("Org = %q", got)
	}
	if got := strVal(t, "Country", p.Country); got != "US" {
		t.Errorf("Country = %q", got)
	}
}

func TestHackerTarget_QuotaMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("API count exceeded - Increase Quota with Membership"))
	}))
	defer srv.Close()

	if _, err := fetchVia(t, "hackertarget", "", srv, "1.1.1.1"); err == nil || !strings.Contains(err.Error(), "API count exceeded") {
		t.Fatalf("err = %v, want quota message", err)
	}
}

func TestVirusTotal_ScoresByDetectionRatio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-apikey"); got != "test-key" {
			t.Errorf("x-apikey = %q", got)
		}
		respondJSON(t, w, map[string]any{
			"data": map[string]any{
				"attributes": map[string]any{
					"asn":      13335,
					"as_owner": "CLOUDFLARENET",
					"country":  "US",
					"last_analysis_stats": map[string]any{
						"harmless":   60,
						"malicious":  30,
						"suspicious": 0,
						"undetected": 10,
					},
				},
			},
		})
	}))
	defer srv.Close()

	p, err := fetchVia(t, "virustotal", "test-key", srv, "1.1.1.1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := intVal(t, "AbuseScore", p.AbuseScore); got != 30 {
		t.Errorf("AbuseScore = %d, want 30 (30 of 100 engines)", got)
	}
	if got := strVal(t, "ASN", p.ASN); got != "AS13335" {
		t.Errorf("ASN = %q", got)
	}
}

func TestAbuseIPDB_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Key"); got != "test-key" {
			t.Errorf("Key header = %q", got)
		}
		if got := r.URL.Query().Get("ipAddress"); got != "203.0.113.9" {
			t.Errorf("ipAddress = %q", got)
		}
		respondJSON(t, w, map[string]any{
			"data": map[string]any{
				"ipAddress":            "203.0.113.9",
				"abuseConfidenceScore": 42,
				"countryCode":          "RO",
				"usageType":            "Data Center/Web Hosting/Transit",
				"isp":                  "M247 Ltd",
				"isTor":                false,
				"totalReports":         17,
				"lastReportedAt":       "2024-06-01T12:00:00+00:00",
			},
		})
	}))
	defer srv.Close()

	p, err := fetchVia(t, "abuseipdb", "test-key", srv, "203.0.113.9")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := intVal(t, "AbuseScore", p.AbuseScore); got != 42 {
		t.Errorf("AbuseScore = %d", got)
	}
	if !boolVal(t, "IsHosting", p.IsHosting) {
		t.Error("data-center usage type not mapped to IsHosting")
	}
	if p.LastSeen == nil {
		t.Error("LastSeen not parsed")
	}
}

func TestASNHelpers(t *testing.T) {
	asnCases := []struct {
		in   string
		want string // "" means nil
	}{
		{"AS13335", "AS13335"},
		{"as13335", "AS13335"},
		{"13335", "AS13335"},
		{"AS13335 Cloudflare, Inc.", "AS13335"},
		{"Cloudflare", ""},
		{"", ""},
	}
	for _, tc := range asnCases {
		got := asnText(tc.in)
		switch {
		case tc.want == "" && got != nil:
			t.Errorf("asnText(%q) = %q, want nil", tc.in, *got)
		case tc.want != "" && (got == nil || *got != tc.want):
			t.Errorf("asnText(%q) = %v, want %q", tc.in, got, tc.want)
		}
	}

	trailerCases := []struct {
		in   string
		want string
	}{
		{"AS13335 Cloudflare, Inc.", "Cloudflare, Inc."},
		{"Cloudflare Inc", "Cloudflare Inc"},
		{"AS13335", ""},
		{"", ""},
	}
	for _, tc := range trailerCases {
		got := asnTrailer(tc.in)
		switch {
		case tc.want == "" && got != nil:
			t.Errorf("asnTrailer(%q) = %q, want nil", tc.in, *got)
		case tc.want != "" && (got == nil || *got != tc.want):
			t.Errorf("asnTrailer(%q) = %v, want %q", tc.in, got, tc.want)
		}
	}

	if got := asnNumber(0); got != nil {
		t.Errorf("asnNumber(0) = %q, want nil", *got)
	}
	if got := asnNumber(13335); got == nil || *got != "AS13335" {
		t.Errorf("asnNumber(13335) = %v", got)
	}
}

func TestIPAPIIsAbuserScore(t *testing.T) {
	cases := []struct {
		in   string
		want int // -1 means nil
	}{
		{"0.0029 (Low)", 0},
		{"0.31 (High)", 31},
		{"1.5 (Very High)", 100},
		{"garbage", -1},
		{"", -1},
	}
	for _, tc := range cases {
		got := ipapiisAbuserScore(tc.in)
		switch {
		case tc.want == -1 && got != nil:
			t.Errorf("ipapiisAbuserScore(%q) = %d, want nil", tc.in, *got)
		case tc.want != -1 && (got == nil || *got != tc.want):
			t.Errorf("ipapiisAbuserScore(%q) = %v, want %d", tc.in, got, tc.want)
		}
	}
}
