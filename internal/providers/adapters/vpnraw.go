package adapters

// VPNProviderFromRaw digs an operator name out of a provider's typed raw
// payload. Most upstreams only flag VPN use; the ones handled here also name
// the service, which the correlator surfaces as the canonical vpnProvider.
func VPNProviderFromRaw(provider string, raw any) (string, bool) {
	switch provider {
	case "proxycheck":
		entry, ok := raw.(proxycheckEntry)
		if !ok {
			return "", false
		}
		if entry.Operator != nil && entry.Operator.Name != "" {
			return entry.Operator.Name, true
		}
		if entry.Type == "VPN" && entry.Provider != "" {
			return entry.Provider, true
		}
	case "ipqualityscore":
		resp, ok := raw.(ipqualityscoreResponse)
		if !ok {
			return "", false
		}
		if (resp.VPN || resp.ActiveVPN) && resp.Organization != "" {
			return resp.Organization, true
		}
	case "ipdata":
		resp, ok := raw.(ipdataResponse)
		if !ok {
			return "", false
		}
		if resp.Threat.IsVPN && resp.ASN.Name != "" {
			return resp.ASN.Name, true
		}
	case "ipregistry":
		resp, ok := raw.(ipregistryResponse)
		if !ok {
			return "", false
		}
		if resp.Security.IsVPN && resp.Connection.Organization != "" {
			return resp.Connection.Organization, true
		}
	}
	return "", false
}
