package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const ipapicoBaseURL = "https://ipapi.co"

type ipapicoResponse struct {
	IP          string  `json:"ip"`
	Error       bool    `json:"error"`
	Reason      string  `json:"reason"`
	CountryCode string  `json:"country_code"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone"`
	ASN         string  `json:"asn"` // "AS13335"
	Org         string  `json:"org"`
}

type ipapico struct {
	client  *http.Client
	baseURL string
}

func newIPAPICo(client *http.Client, baseURL string) *ipapico {
	return &ipapico{client: client, baseURL: orDefault(baseURL, ipapicoBaseURL)}
}

func (f *ipapico) Name() string { return "ipapico" }

func (f *ipapico) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/%s/json/", f.baseURL, ip)

	var resp ipapicoResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Error {
		return nil, fmt.Errorf("ipapi.co: %s", resp.Reason)
	}

	lat, lon := coords(resp.Latitude, resp.Longitude)

	return &providers.Partial{
		ASN:       asnText(resp.ASN),
		Org:       providers.StringOrNil(resp.Org),
		Country:   providers.StringOrNil(resp.CountryCode),
		Region:    providers.StringOrNil(resp.Region),
		City:      providers.StringOrNil(resp.City),
		Latitude:  lat,
		Longitude: lon,
		Timezone:  providers.StringOrNil(resp.Timezone),
		Raw:       resp,
	}, nil
}
