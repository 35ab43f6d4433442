package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

// Free-tier keys are rejected over TLS.
const ipstackBaseURL = "http://api.ipstack.com"

type ipstackSecurity struct {
	IsProxy     bool    `json:"is_proxy"`
	ProxyType   *string `json:"proxy_type"`
	IsTor       bool    `json:"is_tor"`
	ThreatLevel string  `json:"threat_level"` // low | medium | high
}

type ipstackResponse struct {
	// success only appears in error envelopes, which ipstack serves with
	// HTTP 200.
	Success *bool `json:"success"`
	Error   struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Info string `json:"info"`
	} `json:"error"`
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	RegionName  string  `json:"region_name"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	TimeZone    struct {
		ID string `json:"id"`
	} `json:"time_zone"`
	Connection struct {
		ASN int    `json:"asn"`
		ISP string `json:"isp"`
	} `json:"connection"`
	Security *ipstackSecurity `json:"security"`
}

type ipstack struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newIPStack(client *http.Client, apiKey, baseURL string) *ipstack {
	return &ipstack{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, ipstackBaseURL)}
}

func (f *ipstack) Name() string { return "ipstack" }

func (f *ipstack) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/%s?access_key=%s", f.baseURL, ip, f.apiKey)

	var resp ipstackResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Success != nil && !*resp.Success {
		return nil, fmt.Errorf("ipstack: %s: %s", resp.Error.Type, resp.Error.Info)
	}

	lat, lon := coords(resp.Latitude, resp.Longitude)

	p := &providers.Partial{
		ASN:       asnNumber(resp.Connection.ASN),
		Org:       providers.StringOrNil(resp.Connection.ISP),
		Country:   providers.StringOrNil(resp.CountryCode),
		Region:    providers.StringOrNil(resp.RegionName),
		City:      providers.StringOrNil(resp.City),
		Latitude:  lat,
		Longitude: lon,
		Timezone:  providers.StringOrNil(resp.TimeZone.ID),
		Raw:       resp,
	}
	if sec := resp.Security; sec != nil {
		p.IsProxy = providers.Bool(sec.IsProxy)
		p.IsTor = providers.Bool(sec.IsTor)
		if sec.ProxyType != nil {
			p.IsVPN = providers.Bool(*sec.ProxyType == "vpn")
		}
		switch sec.ThreatLevel {
		case "high":
			p.AbuseScore = providers.Int(80)
		case "medium":
			p.AbuseScore = providers.Int(40)
		case "low":
			p.AbuseScore = providers.Int(0)
		}
	}
	return p, nil
}
