package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const abuseipdbBaseURL = "https://api.abuseipdb.com"

type abuseipdbData struct {
	IPAddress            string  `json:"ipAddress"`
	AbuseConfidenceScore int     `json:"abuseConfidenceScore"`
	CountryCode          string  `json:"countryCode"`
	UsageType            string  `json:"usageType"`
	ISP                  string  `json:"isp"`
	Domain               string  `json:"domain"`
	IsTor                bool    `json:"isTor"`
	TotalReports         int     `json:"totalReports"`
	LastReportedAt       *string `json:"lastReportedAt"`
}

type abuseipdbResponse struct {
	Data abuseipdbData `json:"data"`
}

type abuseipdb struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newAbuseIPDB(client *http.Client, apiKey, baseURL string) *abuseipdb {
	return &abuseipdb{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, abuseipdbBaseURL)}
}

func (f *abuseipdb) Name() string { return "abuseipdb" }

func (f *abuseipdb) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/api/v2/check?ipAddress=%s&maxAgeInDays=90", f.baseURL, ip)
	headers := map[string]string{
		"Key":    f.apiKey,
		"Accept": "application/json",
	}

	var resp abuseipdbResponse
	if err := providers.GetJSON(ctx, f.client, url, headers, &resp); err != nil {
		return nil, err
	}

	p := &providers.Partial{
		Org:        providers.StringOrNil(resp.Data.ISP),
		Country:    providers.StringOrNil(resp.Data.CountryCode),
		AbuseScore: providers.Int(resp.Data.AbuseConfidenceScore),
		IsTor:      providers.Bool(resp.Data.IsTor),
		Raw:        resp.Data,
	}
	if resp.Data.UsageType != "" {
		usage := strings.ToLower(resp.Data.UsageType)
		p.IsHosting = providers.Bool(strings.Contains(usage, "data center") || strings.Contains(usage, "hosting"))
		p.IsMobile = providers.Bool(strings.Contains(usage, "mobile"))
	}
	if resp.Data.LastReportedAt != nil {
		if ts, err := time.Parse(time.RFC3339, *resp.Data.LastReportedAt); err == nil {
			p.LastSeen = &ts
		}
	}
	return p, nil
}
