package adapters

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const ipapiisBaseURL = "https://api.ipapi.is"

type ipapiisResponse struct {
	IP           string `json:"ip"`
	IsBogon      bool   `json:"is_bogon"`
	IsMobile     bool   `json:"is_mobile"`
	IsDatacenter bool   `json:"is_datacenter"`
	IsTor        bool   `json:"is_tor"`
	IsProxy      bool   `json:"is_proxy"`
	IsVPN        bool   `json:"is_vpn"`
	IsAbuser     bool   `json:"is_abuser"`
	Company      struct {
		Name        string `json:"name"`
		AbuserScore string `json:"abuser_score"` // "0.0029 (Low)"
		Type        string `json:"type"`
	} `json:"company"`
	ASN struct {
		ASN int    `json:"asn"`
		Org string `json:"org"`
	} `json:"asn"`
	VPN *struct {
		Service string `json:"service"`
	} `json:"vpn"`
	Location struct {
		CountryCode string  `json:"country_code"`
		State       string  `json:"state"`
		City        string  `json:"city"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		Timezone    string  `json:"timezone"`
	} `json:"location"`
}

type ipapiis struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newIPAPIIs(client *http.Client, apiKey, baseURL string) *ipapiis {
	return &ipapiis{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, ipapiisBaseURL)}
}

func (f *ipapiis) Name() string { return "ipapiis" }

// ipapiisAbuserScore parses strings like "0.0029 (Low)" into the 0-100 scale.
func ipapiisAbuserScore(s string) *int {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	val, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil
	}
	n := int(math.Round(val * 100))
	if n > 100 {
		n = 100
	}
	if n < 0 {
		n = 0
	}
	return providers.Int(n)
}

func (f *ipapiis) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/?q=%s&key=%s", f.baseURL, ip, f.apiKey)

	var resp ipapiisResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}
	if resp.IsBogon {
		return nil, fmt.Errorf("ipapi.is: bogon address %s", ip)
	}

	lat, lon := coords(resp.Location.Latitude, resp.Location.Longitude)

	p := &providers.Partial{
		ASN:        asnNumber(resp.ASN.ASN),
		Org:        providers.StringOrNil(firstNonEmpty(resp.Company.Name, resp.ASN.Org)),
		Country:    providers.StringOrNil(resp.Location.CountryCode),
		Region:     providers.StringOrNil(resp.Location.State),
		City:       providers.StringOrNil(resp.Location.City),
		Latitude:   lat,
		Longitude:  lon,
		Timezone:   providers.StringOrNil(resp.Location.Timezone),
		IsProxy:    providers.Bool(resp.IsProxy),
		IsVPN:      providers.Bool(resp.IsVPN),
		IsTor:      providers.Bool(resp.IsTor),
		IsHosting:  providers.Bool(resp.IsDatacenter),
		IsMobile:   providers.Bool(resp.IsMobile),
		AbuseScore: ipapiisAbuserScore(resp.Company.AbuserScore),
		Raw:        resp,
	}
	if resp.VPN != nil {
		p.VPNProvider = providers.StringOrNil(resp.VPN.Service)
	}
	return p, nil
}
