package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const shodanBaseURL = "https://api.shodan.io"

type shodanResponse struct {
	IPStr       string   `json:"ip_str"`
	ASN         string   `json:"asn"`
	Org         string   `json:"org"`
	ISP         string   `json:"isp"`
	CountryCode string   `json:"country_code"`
	RegionCode  string   `json:"region_code"`
	City        string   `json:"city"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	LastUpdate  string   `json:"last_update"`
	Ports       []int    `json:"ports"`
	Tags        []string `json:"tags"`
}

type shodan struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newShodan(client *http.Client, apiKey, baseURL string) *shodan {
	return &shodan{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, shodanBaseURL)}
}

func (f *shodan) Name() string { return "shodan" }

func (f *shodan) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/shodan/host/%s?key=%s&minify=true", f.baseURL, ip, f.apiKey)

	var resp shodanResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		// Shodan answers 404 for hosts with no banner history; treat it
		// as an empty observation rather than an upstream failure.
		var httpErr *providers.HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound {
			return &providers.Partial{Raw: shodanResponse{IPStr: ip}}, nil
		}
		return nil, err
	}

	lat, lon := coords(resp.Latitude, resp.Longitude)

	p := &providers.Partial{
		ASN:       asnText(resp.ASN),
		Org:       providers.StringOrNil(firstNonEmpty(resp.Org, resp.ISP)),
		Country:   providers.StringOrNil(resp.CountryCode),
		Region:    providers.StringOrNil(resp.RegionCode),
		City:      providers.StringOrNil(resp.City),
		Latitude:  lat,
		Longitude: lon,
		Raw:       resp,
	}
	for _, tag := range resp.Tags {
		switch tag {
		case "vpn":
			p.IsVPN = providers.Bool(true)
		case "proxy":
			p.IsProxy = providers.Bool(true)
		case "tor":
			p.IsTor = providers.Bool(true)
		case "cloud", "hosting", "cdn":
			p.IsHosting = providers.Bool(true)
		}
	}
	// Timestamps come back without a zone suffix.
	if resp.LastUpdate != "" {
		if ts, err := time.Parse("2006-01-02T15:04:05.000000", resp.LastUpdate); err == nil {
			p.LastSeen = &ts
		}
	}
	return p, nil
}
