package adapters

import "testing"

func TestVPNProviderFromRaw(t *testing.T) {
	cases := []struct {
		name     string
		provider string
		raw      any
		want     string
		ok       bool
	}{
		{
			name:     "proxycheck operator",
			provider: "proxycheck",
			raw:      proxycheckEntry{Type: "VPN", Operator: &proxycheckOperator{Name: "NordVPN"}},
			want:     "NordVPN",
			ok:       true,
		},
		{
			name:     "proxycheck falls back to the carrier on VPN hits",
			provider: "proxycheck",
			raw:      proxycheckEntry{Type: "VPN", Provider: "M247 Ltd"},
			want:     "M247 Ltd",
			ok:       true,
		},
		{
			name:     "proxycheck residential address names nobody",
			provider: "proxycheck",
			raw:      proxycheckEntry{Type: "Residential", Provider: "Comcast"},
		},
		{
			name:     "ipqualityscore names the org only when flagged",
			provider: "ipqualityscore",
			raw:      ipqualityscoreResponse{VPN: true, Organization: "Mullvad VPN AB"},
			want:     "Mullvad VPN AB",
			ok:       true,
		},
		{
			name:     "ipqualityscore unflagged",
			provider: "ipqualityscore",
			raw:      ipqualityscoreResponse{Organization: "Comcast"},
		},
		{
			name:     "ipdata names the AS on VPN hits",
			provider: "ipdata",
			raw: ipdataResponse{
				ASN:    ipdataASN{Name: "Datacamp Limited"},
				Threat: ipdataThreat{IsVPN: true},
			},
			want: "Datacamp Limited",
			ok:   true,
		},
		{
			name:     "ipregistry names the connection org",
			provider: "ipregistry",
			raw: func() ipregistryResponse {
				var r ipregistryResponse
				r.Security.IsVPN = true
				r.Connection.Organization = "Private Internet Access"
				return r
			}(),
			want: "Private Internet Access",
			ok:   true,
		},
		{
			name:     "mismatched payload type",
			provider: "proxycheck",
			raw:      "not a typed payload",
		},
		{
			name:     "provider without an extractor",
			provider: "shodan",
			raw:      shodanResponse{Org: "DigitalOcean"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := VPNProviderFromRaw(tc.provider, tc.raw)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("VPNProviderFromRaw(%q) = (%q, %v), want (%q, %v)", tc.provider, got, ok, tc.want, tc.ok)
			}
		})
	}
}
