package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const ipgeolocationBaseURL = "https://api.ipgeolocation.io"

type ipgeolocationSecurity struct {
	ThreatScore     int    `json:"threat_score"`
	IsTor           bool   `json:"is_tor"`
	IsProxy         bool   `json:"is_proxy"`
	ProxyType       string `json:"proxy_type"` // VPN | TOR | PUB | WEB
	IsCloudProvider bool   `json:"is_cloud_provider"`
}

type ipgeolocationResponse struct {
	IP           string `json:"ip"`
	CountryCode2 string `json:"country_code2"`
	StateProv    string `json:"state_prov"`
	City         string `json:"city"`
	Latitude     string `json:"latitude"` // quoted by the upstream
	Longitude    string `json:"longitude"`
	ISP          string `json:"isp"`
	Organization string `json:"organization"`
	ASN          string `json:"asn"`
	TimeZone     struct {
		Name string `json:"name"`
	} `json:"time_zone"`
	Security *ipgeolocationSecurity `json:"security"`
}

type ipgeolocation struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newIPGeolocation(client *http.Client, apiKey, baseURL string) *ipgeolocation {
	return &ipgeolocation{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, ipgeolocationBaseURL)}
}

func (f *ipgeolocation) Name() string { return "ipgeolocation" }

func (f *ipgeolocation) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/ipgeo?apiKey=%s&ip=%s", f.baseURL, f.apiKey, ip)

	var resp ipgeolocationResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}

	p := &providers.Partial{
		ASN:       asnText(resp.ASN),
		Org:       providers.StringOrNil(firstNonEmpty(resp.Organization, resp.ISP)),
		Country:   providers.StringOrNil(resp.CountryCode2),
		Region:    providers.StringOrNil(resp.StateProv),
		City:      providers.StringOrNil(resp.City),
		Latitude:  floatText(resp.Latitude),
		Longitude: floatText(resp.Longitude),
		Timezone:  providers.StringOrNil(resp.TimeZone.Name),
		Raw:       resp,
	}
	// The security block ships on the higher tiers only.
	if sec := resp.Security; sec != nil {
		p.IsProxy = providers.Bool(sec.IsProxy)
		p.IsTor = providers.Bool(sec.IsTor || sec.ProxyType == "TOR")
		p.IsVPN = providers.Bool(sec.ProxyType == "VPN")
		p.IsHosting = providers.Bool(sec.IsCloudProvider)
		p.AbuseScore = providers.Int(sec.ThreatScore)
	}
	return p, nil
}
