package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const ipinfoBaseURL = "https://ipinfo.io"

type ipinfoPrivacy struct {
	VPN     bool   `json:"vpn"`
	Proxy   bool   `json:"proxy"`
	Tor     bool   `json:"tor"`
	Relay   bool   `json:"relay"`
	Hosting bool   `json:"hosting"`
	Service string `json:"service"`
}

type ipinfoResponse struct {
	City     string         `json:"city"`
	Region   string         `json:"region"`
	Country  string         `json:"country"`
	Loc      string         `json:"loc"` // "lat,lon"
	Org      string         `json:"org"` // "AS13335 Cloudflare, Inc."
	Timezone string         `json:"timezone"`
	Bogon    bool           `json:"bogon"`
	Privacy  *ipinfoPrivacy `json:"privacy"`
}

type ipinfo struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newIPInfo(client *http.Client, apiKey, baseURL string) *ipinfo {
	return &ipinfo{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, ipinfoBaseURL)}
}

func (f *ipinfo) Name() string { return "ipinfo" }

func (f *ipinfo) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/%s/json", f.baseURL, ip)
	headers := map[string]string{"Authorization": "Bearer " + f.apiKey}

	var resp ipinfoResponse
	if err := providers.GetJSON(ctx, f.client, url, headers, &resp); err != nil {
		return nil, err
	}
	if resp.Bogon {
		return nil, fmt.Errorf("ipinfo: bogon address")
	}

	p := &providers.Partial{
		ASN:      asnText(resp.Org),
		Org:      asnTrailer(resp.Org),
		Country:  providers.StringOrNil(resp.Country),
		Region:   providers.StringOrNil(resp.Region),
		City:     providers.StringOrNil(resp.City),
		Timezone: providers.StringOrNil(resp.Timezone),
		Raw:      resp,
	}

	if lat, lon, ok := splitLoc(resp.Loc); ok {
		p.Latitude, p.Longitude = lat, lon
	}

	// The privacy block ships on paid plans only.
	if pr := resp.Privacy; pr != nil {
		p.IsVPN = providers.Bool(pr.VPN)
		p.IsProxy = providers.Bool(pr.Proxy)
		p.IsTor = providers.Bool(pr.Tor)
		p.IsHosting = providers.Bool(pr.Hosting)
		p.VPNProvider = providers.StringOrNil(pr.Service)
	}

	return p, nil
}

// splitLoc parses ipinfo's combined "34.0522,-118.2437" coordinate field.
func splitLoc(loc string) (*float64, *float64, bool) {
	parts := strings.SplitN(loc, ",", 2)
	if len(parts) != 2 {
		return nil, nil, false
	}
	lat := floatText(parts[0])
	lon := floatText(parts[1])
	if lat == nil || lon == nil {
		return nil, nil, false
	}
	return lat, lon, true
}
