package adapters

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

const bigdatacloudBaseURL = "https://api.bigdatacloud.net"

type bigdatacloudHazard struct {
	IsKnownAsTorServer bool `json:"isKnownAsTorServer"`
	IsKnownAsVpn       bool `json:"isKnownAsVpn"`
	IsKnownAsProxy     bool `json:"isKnownAsProxy"`
	IsCellular         bool `json:"isCellular"`
	HostingLikelihood  int  `json:"hostingLikelihood"` // 0-10
}

type bigdatacloudResponse struct {
	IP      string `json:"ip"`
	Country struct {
		ISOAlpha2 string `json:"isoAlpha2"`
	} `json:"country"`
	Location struct {
		IsoPrincipalSubdivision string  `json:"isoPrincipalSubdivision"`
		City                    string  `json:"city"`
		Latitude                float64 `json:"latitude"`
		Longitude               float64 `json:"longitude"`
		TimeZone                struct {
			IanaTimeID string `json:"ianaTimeId"`
		} `json:"timeZone"`
	} `json:"location"`
	Network struct {
		Organisation string `json:"organisation"`
		Carriers     []struct {
			ASNNumeric   int    `json:"asnNumeric"`
			Organisation string `json:"organisation"`
		} `json:"carriers"`
	} `json:"network"`
	Hazard *bigdatacloudHazard `json:"hazardReport"`
}

type bigdatacloud struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func newBigDataCloud(client *http.Client, apiKey, baseURL string) *bigdatacloud {
	return &bigdatacloud{client: client, apiKey: apiKey, baseURL: orDefault(baseURL, bigdatacloudBaseURL)}
}

func (f *bigdatacloud) Name() string { return "bigdatacloud" }

func (f *bigdatacloud) Fetch(ctx context.Context, ip string) (*providers.Partial, error) {
	url := fmt.Sprintf("%s/data/ip-geolocation-full?ip=%s&key=%s", f.baseURL, ip, f.apiKey)

	var resp bigdatacloudResponse
	if err := providers.GetJSON(ctx, f.client, url, nil, &resp); err != nil {
		return nil, err
	}

	lat, lon := coords(resp.Location.Latitude, resp.Location.Longitude)

	p := &providers.Partial{
		Org:       providers.StringOrNil(resp.Network.Organisation),
		Country:   providers.StringOrNil(resp.Country.ISOAlpha2),
		Region:    providers.StringOrNil(resp.Location.IsoPrincipalSubdivision),
		City:      providers.StringOrNil(resp.Location.City),
		Latitude:  lat,
		Longitude: lon,
		Timezone:  providers.StringOrNil(resp.Location.TimeZone.IanaTimeID),
		Raw:       resp,
	}
	if len(resp.Network.Carriers) > 0 {
		carrier := resp.Network.Carriers[0]
		p.ASN = asnNumber(carrier.ASNNumeric)
		if p.Org == nil {
			p.Org = providers.StringOrNil(carrier.Organisation)
		}
	}
	if hz := resp.Hazard; hz != nil {
		p.IsTor = providers.Bool(hz.IsKnownAsTorServer)
		p.IsVPN = providers.Bool(hz.IsKnownAsVpn)
		p.IsProxy = providers.Bool(hz.IsKnownAsProxy)
		p.IsMobile = providers.Bool(hz.IsCellular)
		p.IsHosting = providers.Bool(hz.HostingLikelihood >= 5)
	}
	return p, nil
}
