package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const ipwhoisBaseURL = "https://ipwho.is"

type ipwhoisResponse struct {
	IP          string  `json:"ip"`
	Success     bool    `json:"success"`
	Message     string  `json:"message"`
	CountryCode string  `json:"country_code"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Connection  struct {
		ASN int    `json:"asn"`
		Org string `json:"org"`
		ISP string `json:"isp"`
	} `json:"connection"`
	Timezone struct {
		ID string `json:"id"`
	} `json:"timezone"`
}

type ipwhois struct {
	client  *http.Client
	baseURL string
}

func newIPWhois(client *http.Client, baseURL string) *ipwhois {
	return &ipwhois{client: client, baseURL: orDefault(baseURL, ipwhoisBaseURL)}
}

func (f *ipwhois) Name() string { return "ipwhois" }

func (f *ipwhois) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/%s", f.baseURL, ip)

	var resp ipwhoisResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("ipwhois: %s", resp.Message)
	}

	lat, lon := coords(resp.Latitude, resp.Longitude)

	return &providers.Partial{
		ASN:       asnNumber(resp.Connection.ASN),
		Org:       providers.StringOrNil(firstNonEmpty(resp.Connection.Org, resp.Connection.ISP)),
		Country:   providers.StringOrNil(resp.CountryCode),
		Region:    providers.StringOrNil(resp.Region),
		City:      providers.StringOrNil(resp.City),
		Latitude:  lat,
		Longitude: lon,
		Timezone:  providers.StringOrNil(resp.Timezone.ID),
		Raw:       resp,
	}, nil
}
