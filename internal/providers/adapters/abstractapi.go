package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const abstractapiBaseURL = "https://ipgeolocation.abstractapi.com"

type abstractapiResponse struct {
	IPAddress   string  `json:"ip_address"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	CountryCode string  `json:"country_code"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    struct {
		Name string `json:"name"`
	} `json:"timezone"`
	Connection struct {
		ASNumber       int    `json:"autonomous_system_number"`
		ASOrganization string `json:"autonomous_system_organization"`
		ISPName        string `json:"isp_name"`
		ConnectionType string `json:"connection_type"` // Cellular | Corporate | ...
	} `json:"connection"`
	Security struct {
		IsVPN bool `json:"is_vpn"`
	} `json:"security"`
}

type abstractapi struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newAbstractAPI(client *http.Client, apiKey, baseURL string) *abstractapi {
	return &abstractapi{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, abstractapiBaseURL)}
}

func (f *abstractapi) Name() string { return "abstractapi" }

func (f *abstractapi) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/v1/?api_key=%s&ip_address=%s", f.baseURL, f.apiKey, ip)

	var resp abstractapiResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}

	lat, lon := coords(resp.Latitude, resp.Longitude)

	return &providers.Partial{
		ASN:       asnNumber(resp.Connection.ASNumber),
		Org:       providers.StringOrNil(firstNonEmpty(resp.Connection.ASOrganization, resp.Connection.ISPName)),
		Country:   providers.StringOrNil(resp.CountryCode),
		Region:    providers.StringOrNil(resp.Region),
		City:      providers.StringOrNil(resp.City),
		Latitude:  lat,
		Longitude: lon,
		Timezone:  providers.StringOrNil(resp.Timezone.Name),
		IsVPN:     providers.Bool(resp.Security.IsVPN),
		IsMobile:  providers.Bool(resp.Connection.ConnectionType == "Cellular"),
		Raw:       resp,
	}, nil
}
