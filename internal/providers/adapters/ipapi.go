package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

// Free tier is HTTP only; HTTPS requires a paid plan.
const ipapiBaseURL = "http://ip-api.com"

type ipapiResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	CountryISO string  `json:"countryCode"`
	Region     string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Timezone   string  `json:"timezone"`
	ISP        string  `json:"isp"`
	Org        string  `json:"org"`
	AS         string  `json:"as"`
	Mobile     bool    `json:"mobile"`
	Proxy      bool    `json:"proxy"`
	Hosting    bool    `json:"hosting"`
}

type ipapi struct {
	client  *http.Client
	baseURL string
}

func newIPAPI(client *http.Client, baseURL string) *ipapi {
	return &ipapi{client: client, baseURL: orDefault(baseURL, ipapiBaseURL)}
}

func (f *ipapi) Name() string { return "ipapi" }

func (f *ipapi) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf(
		"%s/json/%s?fields=status,message,country,countryCode,regionName,city,lat,lon,timezone,isp,org,as,mobile,proxy,hosting",
		f.baseURL, ip,
	)

	var resp ipapiResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("ip-api: %s", resp.Message)
	}

	org := resp.Org
	if org == "" {
		org = resp.ISP
	}
	lat, lon := coords(resp.Lat, resp.Lon)

	return &providers.Partial{
		ASN:       asnText(resp.AS),
		Org:       providers.StringOrNil(org),
		Country:   providers.StringOrNil(resp.CountryISO),
		Region:    providers.StringOrNil(resp.Region),
		City:      providers.StringOrNil(resp.City),
		Latitude:  lat,
		Longitude: lon,
		Timezone:  providers.StringOrNil(resp.Timezone),
		IsProxy:   providers.Bool(resp.Proxy),
		IsHosting: providers.Bool(resp.Hosting),
		IsMobile:  providers.Bool(resp.Mobile),
		Raw:       resp,
	}, nil
}
