package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const proxycheckBaseURL = "https://proxycheck.io"

type proxycheckOperator struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// proxycheckEntry is the per-address object; the envelope keys it by the
// queried IP rather than under a fixed field.
type proxycheckEntry struct {
	ASN          string              `json:"asn"`
	Provider     string              `json:"provider"`
	Organisation string              `json:"organisation"`
	Isocode      string              `json:"isocode"`
	Region       string              `json:"region"`
	City         string              `json:"city"`
	Latitude     float64             `json:"latitude"`
	Longitude    float64             `json:"longitude"`
	Timezone     string              `json:"timezone"`
	Proxy        string              `json:"proxy"` // yes | no
	Type         string              `json:"type"`  // VPN | TOR | SOCKS | Hosting | ...
	Risk         int                 `json:"risk"`
	Operator     *proxycheckOperator `json:"operator"`
}

type proxycheck struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newProxyCheck(client *http.Client, apiKey, baseURL string) *proxycheck {
	return &proxycheck{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, proxycheckBaseURL)}
}

func (f *proxycheck) Name() string { return "proxycheck" }

func (f *proxycheck) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/v2/%s?key=%s&vpn=3&asn=1&risk=1", f.baseURL, ip, f.apiKey)

	var envelope map[string]json.RawMessage
	if err := providers.GetJSON(ctx, f.client, url, nil, &envelope); err != nil {
		return nil, err
	}

	var status string
	if raw, ok := envelope["status"]; ok {
		_ = json.Unmarshal(raw, &status)
	}
	if status != "ok" && status != "warning" {
		var msg string
		if raw, ok := envelope["message"]; ok {
			_ = json.Unmarshal(raw, &msg)
		}
		return nil, fmt.Errorf("proxycheck: status %q: %s", status, msg)
	}

	raw, ok := envelope[ip]
	if !ok {
		return nil, fmt.Errorf("proxycheck: no entry for %s", ip)
	}
	var entry proxycheckEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("proxycheck: decode entry: %w", err)
	}

	lat, lon := coords(entry.Latitude, entry.Longitude)
	kind := strings.ToUpper(entry.Type)

	p := &providers.Partial{
		ASN:        asnText(entry.ASN),
		Org:        providers.StringOrNil(firstNonEmpty(entry.Organisation, entry.Provider)),
		Country:    providers.StringOrNil(entry.Isocode),
		Region:     providers.StringOrNil(entry.Region),
		City:       providers.StringOrNil(entry.City),
		Latitude:   lat,
		Longitude:  lon,
		Timezone:   providers.StringOrNil(entry.Timezone),
		IsProxy:    providers.Bool(entry.Proxy == "yes"),
		IsVPN:      providers.Bool(kind == "VPN" || kind == "OPENVPN"),
		IsTor:      providers.Bool(kind == "TOR"),
		IsHosting:  providers.Bool(kind == "HOSTING"),
		AbuseScore: providers.Int(entry.Risk),
		Raw:        entry,
	}
	if entry.Operator != nil {
		p.VPNProvider = providers.StringOrNil(entry.Operator.Name)
	}
	return p, nil
}
