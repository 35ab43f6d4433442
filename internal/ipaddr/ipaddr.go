// Package ipaddr normalizes and classifies lookup inputs.
//
// Every IP that reaches the cache, the database or a provider goes through
// Normalize first: trimmed, parsed, unmapped (4-in-6), rendered in canonical
// form (lowercase compressed for IPv6), and rejected if it is private,
// reserved, loopback or multicast. Hostname inputs are resolved through a
// single A-record query before normalization.
package ipaddr

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Validation error codes. These are the codes the API surfaces verbatim.
const (
	CodeInvalidFormat       = "INVALID_FORMAT"
	CodePrivateIP           = "PRIVATE_IP"
	CodeReservedIP          = "RESERVED_IP"
	CodeDNSResolutionFailed = "DNS_RESOLUTION_FAILED"
	CodeInvalidCIDR         = "INVALID_CIDR"
)

// Error is a validation failure with a machine-readable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Resolution records the DNS step taken for a hostname input.
type Resolution struct {
	Hostname   string `json:"hostname"`
	ResolvedIP string `json:"resolvedIp"`
}

// Resolver resolves hostnames to IP addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// reservedPrefixes covers ranges that are neither private nor caught by the
// netip classification methods: documentation, benchmarking, protocol
// assignments, class E and the v4 broadcast address.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("192.88.99.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("100::/64"),
}

// cgnat is RFC 6598 shared address space, treated as private.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// Normalize canonicalizes the textual IP and rejects addresses that carry no
// public intelligence. The returned string is the form used as the cache and
// database key.
func Normalize(input string) (string, *Error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", &Error{Code: CodeInvalidFormat, Message: "empty IP address"}
	}

	addr, err := netip.ParseAddr(s)
	if err != nil || addr.Zone() != "" {
		return "", &Error{Code: CodeInvalidFormat, Message: fmt.Sprintf("%q is not a valid IP address", s)}
	}
	addr = addr.Unmap()

	if derr := classify(addr); derr != nil {
		return "", derr
	}
	return addr.String(), nil
}

func classify(addr netip.Addr) *Error {
	ip := addr.String()
	switch {
	case addr.IsPrivate(), cgnat.Contains(addr):
		return &Error{Code: CodePrivateIP, Message: fmt.Sprintf("%s is a private address", ip)}
	case addr.IsLoopback():
		return &Error{Code: CodeReservedIP, Message: fmt.Sprintf("%s is a loopback address", ip)}
	case addr.IsMulticast():
		return &Error{Code: CodeReservedIP, Message: fmt.Sprintf("%s is a multicast address", ip)}
	case addr.IsLinkLocalUnicast(), addr.IsUnspecified():
		return &Error{Code: CodeReservedIP, Message: fmt.Sprintf("%s is a reserved address", ip)}
	}
	if addr.Is4() && addr == netip.MustParseAddr("255.255.255.255") {
		return &Error{Code: CodeReservedIP, Message: "255.255.255.255 is a reserved address"}
	}
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return &Error{Code: CodeReservedIP, Message: fmt.Sprintf("%s is a reserved address", ip)}
		}
	}
	return nil
}

// NormalizeOrResolve normalizes input, falling back to a single A-record
// lookup when the input looks like a hostname rather than an IP. The first
// resolved address is used; the Resolution describes the DNS step taken.
func NormalizeOrResolve(ctx context.Context, r Resolver, input string) (string, *Resolution, *Error) {
	s := strings.TrimSpace(input)
	if _, err := netip.ParseAddr(s); err == nil {
		ip, derr := Normalize(s)
		return ip, nil, derr
	}
	if !hostnameLike(s) {
		return "", nil, &Error{Code: CodeInvalidFormat, Message: fmt.Sprintf("%q is not a valid IP address", s)}
	}

	addrs, err := r.LookupIP(ctx, "ip4", s)
	if err != nil || len(addrs) == 0 {
		return "", nil, &Error{Code: CodeDNSResolutionFailed, Message: fmt.Sprintf("could not resolve hostname %q", s)}
	}

	ip, derr := Normalize(addrs[0].String())
	if derr != nil {
		return "", nil, derr
	}
	return ip, &Resolution{Hostname: s, ResolvedIP: ip}, nil
}

// hostnameLike reports whether s could plausibly be a DNS name: hostname
// charset, at least one letter. All-numeric dotted strings are malformed IPs,
// not hostnames.
func hostnameLike(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	hasAlpha := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			hasAlpha = true
		case r >= '0' && r <= '9', r == '.', r == '-':
		default:
			return false
		}
	}
	return hasAlpha
}

// Expansion is the host list of a CIDR block.
type Expansion struct {
	Input        string   `json:"input"`
	Network      string   `json:"network"`
	PrefixLength int      `json:"prefixLength"`
	Hosts        []string `json:"-"`
}

// ExpandCIDR expands a CIDR block into its host addresses in ascending
// order. Network and broadcast addresses are included. Blocks wider than
// maxHosts are rejected.
func ExpandCIDR(input string, maxHosts int) (*Expansion, *Error) {
	s := strings.TrimSpace(input)
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return nil, &Error{Code: CodeInvalidCIDR, Message: fmt.Sprintf("%q is not valid CIDR notation", s)}
	}
	prefix = prefix.Masked()

	span := prefix.Addr().BitLen() - prefix.Bits()
	if span > 30 || 1<<span > maxHosts {
		return nil, &Error{
			Code:    CodeInvalidCIDR,
			Message: fmt.Sprintf("CIDR %s expands beyond the limit of %d addresses", s, maxHosts),
		}
	}

	total := 1 << span
	hosts := make([]string, 0, total)
	addr := prefix.Addr().Unmap()
	for i := 0; i < total; i++ {
		hosts = append(hosts, addr.String())
		addr = addr.Next()
	}

	return &Expansion{
		Input:        s,
		Network:      prefix.Addr().Unmap().String(),
		PrefixLength: prefix.Bits(),
		Hosts:        hosts,
	}, nil
}
