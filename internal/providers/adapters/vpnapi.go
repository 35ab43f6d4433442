package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const vpnapiBaseURL = "https://vpnapi.io"

type vpnapiResponse struct {
	Message  string `json:"message"`
	Security struct {
		VPN   bool `json:"vpn"`
		Proxy bool `json:"proxy"`
		Tor   bool `json:"tor"`
		Relay bool `json:"relay"`
	} `json:"security"`
	Location struct {
		City        string `json:"city"`
		Region      string `json:"region"`
		CountryCode string `json:"country_code"`
		Latitude    string `json:"latitude"` // quoted by the upstream
		Longitude   string `json:"longitude"`
		TimeZone    string `json:"time_zone"`
	} `json:"location"`
	Network struct {
		ASN          string `json:"autonomous_system_number"`
		Organization string `json:"autonomous_system_organization"`
	} `json:"network"`
}

type vpnapi struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newVPNAPI(client *http.Client, apiKey, baseURL string) *vpnapi {
	return &vpnapi{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, vpnapiBaseURL)}
}

func (f *vpnapi) Name() string { return "vpnapi" }

func (f *vpnapi) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/api/%s?key=%s", f.baseURL, ip, f.apiKey)

	var resp vpnapiResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Message != "" {
		return nil, fmt.Errorf("vpnapi: %s", resp.Message)
	}

	return &providers.Partial{
		ASN:       asnText(resp.Network.ASN),
		Org:       providers.StringOrNil(resp.Network.Organization),
		Country:   providers.StringOrNil(resp.Location.CountryCode),
		Region:    providers.StringOrNil(resp.Location.Region),
		City:      providers.StringOrNil(resp.Location.City),
		Latitude:  floatText(resp.Location.Latitude),
		Longitude: floatText(resp.Location.Longitude),
		Timezone:  providers.StringOrNil(resp.Location.TimeZone),
		IsVPN:     providers.Bool(resp.Security.VPN),
		IsProxy:   providers.Bool(resp.Security.Proxy || resp.Security.Relay),
		IsTor:     providers.Bool(resp.Security.Tor),
		Raw:       resp,
	}, nil
}
