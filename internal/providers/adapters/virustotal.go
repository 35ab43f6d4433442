package adapters

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const virustotalBaseURL = "https://www.virustotal.com"

type virustotalStats struct {
	Harmless   int `json:"harmless"`
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Undetected int `json:"undetected"`
}

type virustotalAttributes struct {
	ASN                  int             `json:"asn"`
	ASOwner              string          `json:"as_owner"`
	Country              string          `json:"country"`
	Reputation           int             `json:"reputation"`
	LastAnalysisStats    virustotalStats `json:"last_analysis_stats"`
	LastModificationDate int64           `json:"last_modification_date"`
}

type virustotalResponse struct {
	Data struct {
		Attributes virustotalAttributes `json:"attributes"`
	} `json:"data"`
}

type virustotal struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newVirusTotal(client *http.Client, apiKey, baseURL string) *virustotal {
	return &virustotal{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, virustotalBaseURL)}
}

func (f *virustotal) Name() string { return "virustotal" }

func (f *virustotal) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/api/v3/ip_addresses/%s", f.baseURL, ip)
	headers := map[string]string{"x-apikey": f.apiKey}

	var resp virustotalResponse
	if err := providers.GetJSON(ctx, f.client, url, headers, &resp); err != nil {
		return nil, err
	}

	attr := resp.Data.Attributes
	p := &providers.Partial{
		ASN:     asnNumber(attr.ASN),
		Org:     providers.StringOrNil(attr.ASOwner),
		Country: providers.StringOrNil(attr.Country),
		Raw:     attr,
	}
	stats := attr.LastAnalysisStats
	if total := stats.Harmless + stats.Malicious + stats.Suspicious + stats.Undetected; total > 0 {
		p.AbuseScore = providers.Int(100 * stats.Malicious / total)
	}
	if attr.LastModificationDate > 0 {
		ts := time.Unix(attr.LastModificationDate, 0).UTC()
		p.LastSeen = &ts
	}
	return p, nil
}
