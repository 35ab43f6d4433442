package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const dbipBaseURL = "https://api.db-ip.com"

// dbipResponse is the free-tier payload; it stops at city granularity.
type dbipResponse struct {
	IPAddress   string `json:"ipAddress"`
	ErrorCode   string `json:"errorCode"`
	Error       string `json:"error"`
	CountryCode string `json:"countryCode"`
	StateProv   string `json:"stateProv"`
	City        string `json:"city"`
}

type dbip struct {
	client  *http.Client
	baseURL string
}

func newDBIP(client *http.Client, baseURL string) *dbip {
	return &dbip{client: client, baseURL: orDefault(baseURL, dbipBaseURL)}
}

func (f *dbip) Name() string { return "dbip" }

func (f *dbip) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/v2/free/%s", f.baseURL, ip)

	var resp dbipResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("db-ip: %s", resp.Error)
	}

	return &providers.Partial{
		Country: providers.StringOrNil(resp.CountryCode),
		Region:  providers.StringOrNil(resp.StateProv),
		City:    providers.StringOrNil(resp.City),
		Raw:     resp,
	}, nil
}
