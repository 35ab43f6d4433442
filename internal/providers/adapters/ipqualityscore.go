package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const ipqualityscoreBaseURL = "https://www.ipqualityscore.com"

type ipqualityscoreResponse struct {
	Success      bool    `json:"success"`
	Message      string  `json:"message"`
	FraudScore   int     `json:"fraud_score"`
	CountryCode  string  `json:"country_code"`
	Region       string  `json:"region"`
	City         string  `json:"city"`
	ISP          string  `json:"ISP"`
	ASN          int     `json:"ASN"`
	Organization string  `json:"organization"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Timezone     string  `json:"timezone"`
	Mobile       bool    `json:"mobile"`
	Host         string  `json:"host"`
	Proxy        bool    `json:"proxy"`
	VPN          bool    `json:"vpn"`
	ActiveVPN    bool    `json:"active_vpn"`
	Tor          bool    `json:"tor"`
	ActiveTor    bool    `json:"active_tor"`
	RecentAbuse  bool    `json:"recent_abuse"`
	BotStatus    bool    `json:"bot_status"`
}

type ipqualityscore struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newIPQualityScore(client *http.Client, apiKey, baseURL string) *ipqualityscore {
	return &ipqualityscore{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, ipqualityscoreBaseURL)}
}

func (f *ipqualityscore) Name() string { return "ipqualityscore" }

func (f *ipqualityscore) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/api/json/ip/%s/%s?strictness=1", f.baseURL, f.apiKey, ip)

	var resp ipqualityscoreResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("ipqualityscore: %s", resp.Message)
	}

	lat, lon := coords(resp.Latitude, resp.Longitude)

	return &providers.Partial{
		ASN:        asnNumber(resp.ASN),
		Org:        providers.StringOrNil(firstNonEmpty(resp.Organization, resp.ISP)),
		Country:    providers.StringOrNil(resp.CountryCode),
		Region:     providers.StringOrNil(resp.Region),
		City:       providers.StringOrNil(resp.City),
		Latitude:   lat,
		Longitude:  lon,
		Timezone:   providers.StringOrNil(resp.Timezone),
		IsProxy:    providers.Bool(resp.Proxy),
		IsVPN:      providers.Bool(resp.VPN || resp.ActiveVPN),
		IsTor:      providers.Bool(resp.Tor || resp.ActiveTor),
		IsMobile:   providers.Bool(resp.Mobile),
		AbuseScore: providers.Int(resp.FraudScore),
		Raw:        resp,
	}, nil
}
