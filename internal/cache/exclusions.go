package cache

import (
	"fmt"
	"net/netip"
)

// ExclusionList decides whether an address is kept out of the fast
// tier. Excluded addresses get a live lookup every time and only the
// durable tier keeps their history. Two rule kinds are supported:
//
//   - Exact match: the normalized address equals the rule.
//   - CIDR match: the address falls inside a listed network.
//
// A nil *ExclusionList is safe to call, Matches always returns false.
type ExclusionList struct {
	exact    map[string]struct{}
	networks []netip.Prefix
}

// NewExclusionList parses the given addresses and CIDR networks into an
// ExclusionList. Returns an error on the first rule that does not parse
// so that misconfiguration is caught at startup.
func NewExclusionList(exact, cidrs []string) (*ExclusionList, error) {
	el := &ExclusionList{
		exact: make(map[string]struct{}, len(exact)),
	}

	for _, e := range exact {
		if e == "" {
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("cache exclusion: invalid address %q: %w", e, err)
		}
		el.exact[addr.String()] = struct{}{}
	}

	for _, c := range cidrs {
		if c == "" {
			continue
		}
		pfx, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("cache exclusion: invalid network %q: %w", c, err)
		}
		el.networks = append(el.networks, pfx.Masked())
	}

	return el, nil
}

// Matches reports whether ip is excluded from caching. Exact rules are
// checked first (O(1)), then the networks in order.
func (el *ExclusionList) Matches(ip string) bool {
	if el == nil {
		return false
	}
	if _, ok := el.exact[ip]; ok {
		return true
	}
	if len(el.networks) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, pfx := range el.networks {
		if pfx.Contains(addr) {
			return true
		}
	}
	return false
}

// Len returns the total number of exclusion rules configured.
func (el *ExclusionList) Len() int {
	if el == nil {
		return 0
	}
	return len(el.exact) + len(el.networks)
}
