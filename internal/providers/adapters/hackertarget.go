package adapters

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const hackertargetBaseURL = "https://api.hackertarget.com"

// hackertargetRecord is the parsed aslookup CSV row.
type hackertargetRecord struct {
	IP          string `json:"ip"`
	ASN         string `json:"asn"`
	Range       string `json:"range"`
	Description string `json:"description"`
}

type hackertarget struct {
	client  *http.Client
	baseURL string
}

func newHackerTarget(client *http.Client, baseURL string) *hackertarget {
	return &hackertarget{client: client, baseURL: orDefault(baseURL, hackertargetBaseURL)}
}

func (f *hackertarget) Name() string { return "hackertarget" }

func (f *hackertarget) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/aslookup/?q=%s", f.baseURL, ip)

	body, err := providers.GetText(ctx, f.client, url)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	// Quota and input errors come back as 200 with a plain-text message.
	if strings.HasPrefix(body, "error") || strings.Contains(body, "API count exceeded") {
		return nil, fmt.Errorf("hackertarget: %s", body)
	}

	// Row format: "1.1.1.1","13335","1.1.1.0/24","CLOUDFLARENET, US".
	// The description field carries commas, so this needs a real CSV parse.
	row, err := csv.NewReader(strings.NewReader(body)).Read()
	if err != nil {
		return nil, fmt.Errorf("hackertarget: parse response: %w", err)
	}
	if len(row) < 4 {
		return nil, fmt.Errorf("hackertarget: short response: %s", body)
	}

	rec := hackertargetRecord{
		IP:          strings.TrimSpace(row[0]),
		ASN:         strings.TrimSpace(row[1]),
		Range:       strings.TrimSpace(row[2]),
		Description: strings.TrimSpace(row[3]),
	}

	p := &providers.Partial{
		ASN: asnText(rec.ASN),
		Raw: rec,
	}
	// Descriptions end in ", CC"; the trailer doubles as a country vote.
	if idx := strings.LastIndex(rec.Description, ","); idx >= 0 {
		p.Org = providers.StringOrNil(strings.TrimSpace(rec.Description[:idx]))
		if cc := strings.TrimSpace(rec.Description[idx+1:]); len(cc) == 2 {
			p.Country = providers.String(strings.ToUpper(cc))
		}
	} else {
		p.Org = providers.StringOrNil(rec.Description)
	}
	return p, nil
}
