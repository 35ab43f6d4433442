package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const ipregistryBaseURL = "https://api.ipregistry.co"

type ipregistrySecurity struct {
	IsProxy         bool `json:"is_proxy"`
	IsVPN           bool `json:"is_vpn"`
	IsTor           bool `json:"is_tor"`
	IsTorExit       bool `json:"is_tor_exit"`
	IsCloudProvider bool `json:"is_cloud_provider"`
	IsAbuser        bool `json:"is_abuser"`
	IsAttacker      bool `json:"is_attacker"`
	IsThreat        bool `json:"is_threat"`
}

type ipregistryResponse struct {
	Location struct {
		Country struct {
			Code string `json:"code"`
		} `json:"country"`
		Region struct {
			Name string `json:"name"`
		} `json:"region"`
		City      string  `json:"city"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	TimeZone struct {
		ID string `json:"id"`
	} `json:"time_zone"`
	Connection struct {
		ASN          int    `json:"asn"`
		Organization string `json:"organization"`
		Type         string `json:"type"` // isp | hosting | business | education | government
	} `json:"connection"`
	Security ipregistrySecurity `json:"security"`
}

type ipregistry struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newIPRegistry(client *http.Client, apiKey, baseURL string) *ipregistry {
	return &ipregistry{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, ipregistryBaseURL)}
}

func (f *ipregistry) Name() string { return "ipregistry" }

func (f *ipregistry) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/%s?key=%s", f.baseURL, ip, f.apiKey)

	var resp ipregistryResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}

	lat, lon := coords(resp.Location.Latitude, resp.Location.Longitude)

	return &providers.Partial{
		ASN:       asnNumber(resp.Connection.ASN),
		Org:       providers.StringOrNil(resp.Connection.Organization),
		Country:   providers.StringOrNil(resp.Location.Country.Code),
		Region:    providers.StringOrNil(resp.Location.Region.Name),
		City:      providers.StringOrNil(resp.Location.City),
		Latitude:  lat,
		Longitude: lon,
		Timezone:  providers.StringOrNil(resp.TimeZone.ID),
		IsProxy:   providers.Bool(resp.Security.IsProxy),
		IsVPN:     providers.Bool(resp.Security.IsVPN),
		IsTor:     providers.Bool(resp.Security.IsTor || resp.Security.IsTorExit),
		IsHosting: providers.Bool(resp.Security.IsCloudProvider),
		Raw:       resp,
	}, nil
}
