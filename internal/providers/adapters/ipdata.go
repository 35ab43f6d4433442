package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const ipdataBaseURL = "https://api.ipdata.co"

type ipdataASN struct {
	ASN  string `json:"asn"`
	Name string `json:"name"`
	Type string `json:"type"` // isp | hosting | edu | gov | mil | business
}

type ipdataThreat struct {
	IsTor           bool `json:"is_tor"`
	IsVPN           bool `json:"is_vpn"`
	IsProxy         bool `json:"is_proxy"`
	IsAnonymous     bool `json:"is_anonymous"`
	IsKnownAttacker bool `json:"is_known_attacker"`
	IsKnownAbuser   bool `json:"is_known_abuser"`
	IsThreat        bool `json:"is_threat"`
}

type ipdataResponse struct {
	CountryCode string       `json:"country_code"`
	Region      string       `json:"region"`
	City        string       `json:"city"`
	Latitude    float64      `json:"latitude"`
	Longitude   float64      `json:"longitude"`
	TimeZone    struct {
		Name string `json:"name"`
	} `json:"time_zone"`
	ASN    ipdataASN    `json:"asn"`
	Threat ipdataThreat `json:"threat"`
}

type ipdata struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newIPData(client *http.Client, apiKey, baseURL string) *ipdata {
	return &ipdata{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, ipdataBaseURL)}
}

func (f *ipdata) Name() string { return "ipdata" }

func (f *ipdata) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/%s?api-key=%s", f.baseURL, ip, f.apiKey)

	var resp ipdataResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}

	lat, lon := coords(resp.Latitude, resp.Longitude)

	p := &providers.Partial{
		ASN:       asnText(resp.ASN.ASN),
		Org:       providers.StringOrNil(resp.ASN.Name),
		Country:   providers.StringOrNil(resp.CountryCode),
		Region:    providers.StringOrNil(resp.Region),
		City:      providers.StringOrNil(resp.City),
		Latitude:  lat,
		Longitude: lon,
		Timezone:  providers.StringOrNil(resp.TimeZone.Name),
		IsProxy:   providers.Bool(resp.Threat.IsProxy),
		IsVPN:     providers.Bool(resp.Threat.IsVPN),
		IsTor:     providers.Bool(resp.Threat.IsTor),
		Raw:       resp,
	}
	if resp.ASN.Type != "" {
		p.IsHosting = providers.Bool(resp.ASN.Type == "hosting")
	}
	return p, nil
}
