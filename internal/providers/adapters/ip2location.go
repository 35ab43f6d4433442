package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const ip2locationBaseURL = "https://api.ip2location.io"

type ip2locationProxy struct {
	ProxyType     string `json:"proxy_type"` // VPN | TOR | DCH | PUB | WEB | RES
	Provider      string `json:"provider"`
	IsVPN         bool   `json:"is_vpn"`
	IsTor         bool   `json:"is_tor"`
	IsDataCenter  bool   `json:"is_data_center"`
	IsPublicProxy bool   `json:"is_public_proxy"`
	IsWebProxy    bool   `json:"is_web_proxy"`
	IsSpammer     bool   `json:"is_spammer"`
	IsScanner     bool   `json:"is_scanner"`
	IsBotnet      bool   `json:"is_botnet"`
}

type ip2locationResponse struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	RegionName  string  `json:"region_name"`
	CityName    string  `json:"city_name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ASN         string  `json:"asn"` // bare number, no AS prefix
	AS          string  `json:"as"`
	// time_zone carries a UTC offset, not an IANA name; not usable here.
	TimeZone string            `json:"time_zone"`
	IsProxy  bool              `json:"is_proxy"`
	Proxy    *ip2locationProxy `json:"proxy"`
}

type ip2location struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newIP2Location(client *http.Client, apiKey, baseURL string) *ip2location {
	return &ip2location{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, ip2locationBaseURL)}
}

func (f *ip2location) Name() string { return "ip2location" }

func (f *ip2location) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/?key=%s&ip=%s", f.baseURL, f.apiKey, ip)

	var resp ip2locationResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}

	lat, lon := coords(resp.Latitude, resp.Longitude)

	p := &providers.Partial{
		ASN:       asnText(resp.ASN),
		Org:       providers.StringOrNil(resp.AS),
		Country:   providers.StringOrNil(resp.CountryCode),
		Region:    providers.StringOrNil(resp.RegionName),
		City:      providers.StringOrNil(resp.CityName),
		Latitude:  lat,
		Longitude: lon,
		IsProxy:   providers.Bool(resp.IsProxy),
		Raw:       resp,
	}
	if px := resp.Proxy; px != nil {
		p.IsVPN = providers.Bool(px.IsVPN || px.ProxyType == "VPN")
		p.IsTor = providers.Bool(px.IsTor || px.ProxyType == "TOR")
		p.IsHosting = providers.Bool(px.IsDataCenter || px.ProxyType == "DCH")
		p.VPNProvider = providers.StringOrNil(px.Provider)
	}
	return p, nil
}
