package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const freeipapiBaseURL = "https://freeipapi.com"

type freeipapiResponse struct {
	IPAddress   string  `json:"ipAddress"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	CityName    string  `json:"cityName"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	// timeZone is a bare UTC offset, not an IANA name.
	TimeZone string `json:"timeZone"`
	IsProxy  bool   `json:"isProxy"`
}

type freeipapi struct {
	client  *http.Client
	baseURL string
}

func newFreeIPAPI(client *http.Client, baseURL string) *freeipapi {
	return &freeipapi{client: client, baseURL: orDefault(baseURL, freeipapiBaseURL)}
}

func (f *freeipapi) Name() string { return "freeipapi" }

func (f *freeipapi) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/api/json/%s", f.baseURL, ip)

	var resp freeipapiResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}

	lat, lon := coords(resp.Latitude, resp.Longitude)

	return &providers.Partial{
		Country:   providers.StringOrNil(resp.CountryCode),
		Region:    providers.StringOrNil(resp.RegionName),
		City:      providers.StringOrNil(resp.CityName),
		Latitude:  lat,
		Longitude: lon,
		IsProxy:   providers.Bool(resp.IsProxy),
		Raw:       resp,
	}, nil
}
