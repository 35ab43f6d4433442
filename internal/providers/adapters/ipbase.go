package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const ipbaseBaseURL = "https://api.ipbase.com"

type ipbaseSecurity struct {
	IsVPN        bool `json:"is_vpn"`
	IsProxy      bool `json:"is_proxy"`
	IsTor        bool `json:"is_tor"`
	IsDatacenter bool `json:"is_datacenter"`
	ThreatScore  int  `json:"threat_score"`
}

type ipbaseData struct {
	IP         string `json:"ip"`
	Connection struct {
		ASN          int    `json:"asn"`
		Organization string `json:"organization"`
		ISP          string `json:"isp"`
	} `json:"connection"`
	Location struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Country   struct {
			Alpha2 string `json:"alpha2"`
		} `json:"country"`
		Region struct {
			Name string `json:"name"`
		} `json:"region"`
		City struct {
			Name string `json:"name"`
		} `json:"city"`
	} `json:"location"`
	Timezone struct {
		ID string `json:"id"`
	} `json:"timezone"`
	Security *ipbaseSecurity `json:"security"`
}

type ipbaseResponse struct {
	Data ipbaseData `json:"data"`
}

type ipbase struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newIPBase(client *http.Client, apiKey, baseURL string) *ipbase {
	return &ipbase{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, ipbaseBaseURL)}
}

func (f *ipbase) Name() string { return "ipbase" }

func (f *ipbase) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/v2/info?ip=%s&apikey=%s", f.baseURL, ip, f.apiKey)

	var resp ipbaseResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}

	data := resp.Data
	lat, lon := coords(data.Location.Latitude, data.Location.Longitude)

	p := &providers.Partial{
		ASN:       asnNumber(data.Connection.ASN),
		Org:       providers.StringOrNil(firstNonEmpty(data.Connection.Organization, data.Connection.ISP)),
		Country:   providers.StringOrNil(data.Location.Country.Alpha2),
		Region:    providers.StringOrNil(data.Location.Region.Name),
		City:      providers.StringOrNil(data.Location.City.Name),
		Latitude:  lat,
		Longitude: lon,
		Timezone:  providers.StringOrNil(data.Timezone.ID),
		Raw:       data,
	}
	if sec := data.Security; sec != nil {
		p.IsVPN = providers.Bool(sec.IsVPN)
		p.IsProxy = providers.Bool(sec.IsProxy)
		p.IsTor = providers.Bool(sec.IsTor)
		p.IsHosting = providers.Bool(sec.IsDatacenter)
		p.AbuseScore = providers.Int(sec.ThreatScore)
	}
	return p, nil
}
