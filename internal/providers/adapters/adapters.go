// Package adapters implements the upstream fleet: one Fetcher per
// intelligence source, each a single HTTP call parsed into a typed response
// struct and translated to a providers.Partial. The Partial's Raw field
// keeps the typed struct for provider-specific extraction (VPN operator
// names); nothing here retries, times out or records metrics, that is the
// shell's job.
package adapters

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

// Build returns the Fetcher for the named upstream. The bool is false for
// names the fleet does not know. baseURL overrides the upstream endpoint
// (mock fleet, tests); empty selects the production default.
func Build(name, apiKey, baseURL string, client *http.Client) (providers.Fetcher, bool) {
	switch name {
	case "ipapi":
		return newIPAPI(client, baseURL), true
	case "ipinfo":
		return newIPInfo(client, apiKey, baseURL), true
	case "ipdata":
		return newIPData(client, apiKey, baseURL), true
	case "ipregistry":
		return newIPRegistry(client, apiKey, baseURL), true
	case "abuseipdb":
		return newAbuseIPDB(client, apiKey, baseURL), true
	case "ipqualityscore":
		return newIPQualityScore(client, apiKey, baseURL), true
	case "proxycheck":
		return newProxyCheck(client, apiKey, baseURL), true
	case "vpnapi":
		return newVPNAPI(client, apiKey, baseURL), true
	case "greynoise":
		return newGreyNoise(client, apiKey, baseURL), true
	case "virustotal":
		return newVirusTotal(client, apiKey, baseURL), true
	case "shodan":
		return newShodan(client, apiKey, baseURL), true
	case "criminalip":
		return newCriminalIP(client, apiKey, baseURL), true
	case "otx":
		return newOTX(client, apiKey, baseURL), true
	case "ipgeolocation":
		return newIPGeolocation(client, apiKey, baseURL), true
	case "ipstack":
		return newIPStack(client, apiKey, baseURL), true
	case "ip2location":
		return newIP2Location(client, apiKey, baseURL), true
	case "ipwhois":
		return newIPWhois(client, baseURL), true
	case "ipapico":
		return newIPAPICo(client, baseURL), true
	case "dbip":
		return newDBIP(client, baseURL), true
	case "bigdatacloud":
		return newBigDataCloud(client, apiKey, baseURL), true
	case "ipbase":
		return newIPBase(client, apiKey, baseURL), true
	case "abstractapi":
		return newAbstractAPI(client, apiKey, baseURL), true
	case "iplocate":
		return newIPLocate(client, apiKey, baseURL), true
	case "freeipapi":
		return newFreeIPAPI(client, baseURL), true
	case "ipapiis":
		return newIPAPIIs(client, apiKey, baseURL), true
	case "hackertarget":
		return newHackerTarget(client, baseURL), true
	default:
		return nil, false
	}
}

// orDefault picks the production endpoint unless an override is configured.
func orDefault(baseURL, def string) string {
	if baseURL == "" {
		return def
	}
	return strings.TrimRight(baseURL, "/")
}

// asnNumber renders a numeric AS number in canonical "AS13335" form. Zero
// means the upstream did not report one.
func asnNumber(n int) *string {
	if n == 0 {
		return nil
	}
	return providers.String("AS" + strconv.Itoa(n))
}

// asnText normalizes textual AS fields: bare digits gain the AS prefix,
// anything after the number ("AS13335 Cloudflare, Inc.") is dropped. Text
// that does not hold an AS number comes back nil.
func asnText(s string) *string {
	if tok := strings.Fields(s); len(tok) > 0 {
		s = tok[0]
	} else {
		return nil
	}

	digits := s
	if len(s) >= 2 && strings.EqualFold(s[:2], "AS") {
		digits = s[2:]
	}
	if digits == "" {
		return nil
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil
		}
	}
	return providers.String("AS" + digits)
}

// asnTrailer returns the organization text that follows the AS number in
// combined fields like "AS13335 Cloudflare, Inc.". Fields without a leading
// AS number come back whole.
func asnTrailer(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	tok := strings.Fields(s)
	if len(tok) > 1 && asnText(tok[0]) != nil {
		return providers.StringOrNil(strings.TrimSpace(s[len(tok[0]):]))
	}
	if asnText(s) != nil {
		return nil
	}
	return providers.String(s)
}

// coords drops the (0,0) placeholder some upstreams emit when they have no
// fix; no routable address sits on the null island point.
func coords(lat, lon float64) (*float64, *float64) {
	if lat == 0 && lon == 0 {
		return nil, nil
	}
	return providers.Float64(lat), providers.Float64(lon)
}

// floatText parses upstreams that quote their coordinates.
func floatText(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return providers.Float64(f)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
