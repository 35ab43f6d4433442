package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const greynoiseBaseURL = "https://api.greynoise.io"

type greynoiseResponse struct {
	IP             string `json:"ip"`
	Noise          bool   `json:"noise"`
	Riot           bool   `json:"riot"`
	Classification string `json:"classification"` // benign | malicious | unknown
	Name           string `json:"name"`
	LastSeen       string `json:"last_seen"`
	Message        string `json:"message"`
}

type greynoise struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newGreyNoise(client *http.Client, apiKey, baseURL string) *greynoise {
	return &greynoise{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, greynoiseBaseURL)}
}

func (f *greynoise) Name() string { return "greynoise" }

func (f *greynoise) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/v3/community/%s", f.baseURL, ip)
	headers := map[string]string{"key": f.apiKey}

	var resp greynoiseResponse
	if err := providers.GetJSON(ctx, f.client, url, headers, &resp); err != nil {
		// 404 means the address has never been observed scanning; that is
		// a valid answer, not a failure.
		var httpErr *providers.HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound {
			return &providers.Partial{Raw: greynoiseResponse{IP: ip, Message: "not observed"}}, nil
		}
		return nil, err
	}

	p := &providers.Partial{Raw: resp}
	switch resp.Classification {
	case "malicious":
		p.AbuseScore = providers.Int(75)
	case "benign":
		p.AbuseScore = providers.Int(0)
	}
	if resp.LastSeen != "" {
		if ts, err := time.Parse("2006-01-02", resp.LastSeen); err == nil {
			p.LastSeen = &ts
		}
	}
	return p, nil
}
