package intel

import "strings"

// vpnOperator fingerprints a commercial VPN service by the ASNs it announces
// from and by substrings of the org names its egress ranges are registered
// under. The table is a fallback for IPs that flag as VPN without any
// provider naming the operator; it trades completeness for zero upstream
// cost.
type vpnOperator struct {
	name string
	asns []string // normalized "AS123" form
	orgs []string // lowercase substrings
}

var vpnOperators = []vpnOperator{
	{name: "NordVPN", asns: []string{"AS136787"}, orgs: []string{"nordvpn", "tefincom"}},
	{name: "ExpressVPN", orgs: []string{"expressvpn", "express vpn"}},
	{name: "Surfshark", orgs: []string{"surfshark"}},
	{name: "Private Internet Access", orgs: []string{"private internet access", "pia vpn", "london trust media"}},
	{name: "ProtonVPN", asns: []string{"AS62371"}, orgs: []string{"protonvpn", "proton ag", "proton technologies"}},
	{name: "Mullvad", asns: []string{"AS39351"}, orgs: []string{"mullvad", "31173 services"}},
	{name: "CyberGhost", orgs: []string{"cyberghost"}},
	{name: "IPVanish", orgs: []string{"ipvanish", "highwinds"}},
	{name: "Windscribe", orgs: []string{"windscribe"}},
	{name: "TunnelBear", orgs: []string{"tunnelbear"}},
	{name: "Hotspot Shield", orgs: []string{"hotspot shield", "anchorfree", "pango"}},
	{name: "hide.me", orgs: []string{"hide.me", "eventure"}},
}

// vpnOperatorFor matches the fused ASN and org against the static table.
// Returns "" when nothing matches.
func vpnOperatorFor(asn, org string) string {
	lowOrg := strings.ToLower(org)
	for _, op := range vpnOperators {
		for _, a := range op.asns {
			if asn != "" && strings.EqualFold(asn, a) {
				return op.name
			}
		}
		if lowOrg == "" {
			continue
		}
		for _, frag := range op.orgs {
			if strings.Contains(lowOrg, frag) {
				return op.name
			}
		}
	}
	return ""
}
