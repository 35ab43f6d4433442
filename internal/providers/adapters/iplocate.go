package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const iplocateBaseURL = "https://iplocate.io"

type iplocateResponse struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	Subdivision string  `json:"subdivision"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	TimeZone    string  `json:"time_zone"`
	ASN         struct {
		ASN  string `json:"asn"`
		Name string `json:"name"`
	} `json:"asn"`
	Privacy struct {
		IsVPN     bool `json:"is_vpn"`
		IsProxy   bool `json:"is_proxy"`
		IsTor     bool `json:"is_tor"`
		IsHosting bool `json:"is_hosting"`
		IsAbuser  bool `json:"is_abuser"`
	} `json:"privacy"`
}

type iplocate struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newIPLocate(client *http.Client, apiKey, baseURL string) *iplocate {
	return &iplocate{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, iplocateBaseURL)}
}

func (f *iplocate) Name() string { return "iplocate" }

func (f *iplocate) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/api/lookup/%s", f.baseURL, ip)
	headers := map[string]string{"X-API-Key": f.apiKey}

	var resp iplocateResponse
	if err := providers.GetJSON(ctx, f.client, url, headers, &resp); err != nil {
		return nil, err
	}

	lat, lon := coords(resp.Latitude, resp.Longitude)

	return &providers.Partial{
		ASN:       asnText(resp.ASN.ASN),
		Org:       providers.StringOrNil(resp.ASN.Name),
		Country:   providers.StringOrNil(resp.CountryCode),
		Region:    providers.StringOrNil(resp.Subdivision),
		City:      providers.StringOrNil(resp.City),
		Latitude:  lat,
		Longitude: lon,
		Timezone:  providers.StringOrNil(resp.TimeZone),
		IsVPN:     providers.Bool(resp.Privacy.IsVPN),
		IsProxy:   providers.Bool(resp.Privacy.IsProxy),
		IsTor:     providers.Bool(resp.Privacy.IsTor),
		IsHosting: providers.Bool(resp.Privacy.IsHosting),
		Raw:       resp,
	}, nil
}
