package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const criminalipBaseURL = "https://api.criminalip.io"

type criminalipResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Score   struct {
		Inbound  string `json:"inbound"`
		Outbound string `json:"outbound"`
	} `json:"score"`
	Issues struct {
		IsVPN          bool `json:"is_vpn"`
		IsAnonymousVPN bool `json:"is_anonymous_vpn"`
		IsProxy        bool `json:"is_proxy"`
		IsTor          bool `json:"is_tor"`
		IsCloud        bool `json:"is_cloud"`
		IsHosting      bool `json:"is_hosting"`
		IsMobile       bool `json:"is_mobile"`
		IsScanner      bool `json:"is_scanner"`
	} `json:"issues"`
	Whois struct {
		ASName         string  `json:"as_name"`
		ASNo           int     `json:"as_no"`
		City           string  `json:"city"`
		Region         string  `json:"region"`
		OrgCountryCode string  `json:"org_country_code"`
		OrgName        string  `json:"org_name"`
		Latitude       float64 `json:"latitude"`
		Longitude      float64 `json:"longitude"`
	} `json:"whois"`
}

type criminalip struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newCriminalIP(client *http.Client, apiKey, baseURL string) *criminalip {
	return &criminalip{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, criminalipBaseURL)}
}

func (f *criminalip) Name() string { return "criminalip" }

// criminalipScore turns the textual danger ladder into a 0-100 score.
func criminalipScore(level string) int {
	switch strings.ToLower(level) {
	case "critical":
		return 90
	case "dangerous":
		return 70
	case "moderate":
		return 40
	case "low":
		return 10
	default:
		return 0
	}
}

func (f *criminalip) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/v1/asset/ip/report/summary?ip=%s", f.baseURL, ip)
	headers := map[string]string{"x-api-key": f.apiKey}

	var resp criminalipResponse
	if err := providers.GetJSON(ctx, f.client, url, headers, &resp); err != nil {
		return nil, err
	}
	if resp.Status != 0 && resp.Status != http.StatusOK {
		return nil, fmt.Errorf("criminalip: status %d: %s", resp.Status, resp.Message)
	}

	lat, lon := coords(resp.Whois.Latitude, resp.Whois.Longitude)

	score := criminalipScore(resp.Score.Inbound)
	if out := criminalipScore(resp.Score.Outbound); out > score {
		score = out
	}

	return &providers.Partial{
		ASN:        asnNumber(resp.Whois.ASNo),
		Org:        providers.StringOrNil(firstNonEmpty(resp.Whois.OrgName, resp.Whois.ASName)),
		Country:    providers.StringOrNil(strings.ToUpper(resp.Whois.OrgCountryCode)),
		Region:     providers.StringOrNil(resp.Whois.Region),
		City:       providers.StringOrNil(resp.Whois.City),
		Latitude:   lat,
		Longitude:  lon,
		IsVPN:      providers.Bool(resp.Issues.IsVPN || resp.Issues.IsAnonymousVPN),
		IsProxy:    providers.Bool(resp.Issues.IsProxy),
		IsTor:      providers.Bool(resp.Issues.IsTor),
		IsHosting:  providers.Bool(resp.Issues.IsCloud || resp.Issues.IsHosting),
		IsMobile:   providers.Bool(resp.Issues.IsMobile),
		AbuseScore: providers.Int(score),
		Raw:        resp,
	}, nil
}
