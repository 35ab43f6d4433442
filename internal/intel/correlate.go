package intel

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/providers"
)

// authorityTrust is the effective rank of the VPN-authority provider when it
// names an operator, regardless of its configured rank.
const authorityTrust = 10

// Option tunes a Correlator.
type Option func(*Correlator)

// WithVPNExtractor installs the provider-specific raw-payload extractor used
// to pull VPN operator names out of payloads the common Partial cannot carry.
func WithVPNExtractor(fn func(provider string, raw any) (string, bool)) Option {
	return func(c *Correlator) { c.vpnFromRaw = fn }
}

// WithVPNAuthority overrides which provider's operator naming wins outright.
func WithVPNAuthority(name string) Option {
	return func(c *Correlator) { c.vpnAuthority = name }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// Correlator fuses per-provider answers into one Record. Fusion is
// deterministic: for the same set of results it always produces the same
// values, whatever order the providers settled in.
type Correlator struct {
	trust        map[string]int
	vpnFromRaw   func(provider string, raw any) (string, bool)
	vpnAuthority string
	now          func() time.Time
}

// NewCorrelator builds a correlator over the configured trust ranks.
// Providers missing from the map weigh in at the default rank.
func NewCorrelator(trust map[string]int, opts ...Option) *Correlator {
	c := &Correlator{
		trust:        trust,
		vpnAuthority: "proxycheck",
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Correlator) trustOf(provider string) int {
	if t, ok := c.trust[provider]; ok && t > 0 {
		return t
	}
	return providers.DefaultTrustRank
}

// Correlate fuses results into a Record valid for ttl. The results slice is
// expected in registration order and may mix successes and failures; every
// failure becomes a warning, never an error.
func (c *Correlator) Correlate(ip string, results []providers.Result, source Source, ttl time.Duration) *Record {
	now := c.now().UTC()

	rec := &Record{IP: ip}
	md := &rec.Metadata

	md.Providers = make([]string, 0, len(results))
	succeeded := make([]providers.Result, 0, len(results))
	for _, r := range results {
		md.Providers = append(md.Providers, r.Provider)
		if r.Success && r.Data != nil {
			succeeded = append(succeeded, r)
			continue
		}
		md.Warnings = append(md.Warnings, fmt.Sprintf("Provider '%s' failed: %s", r.Provider, r.Error))
	}

	md.ProvidersQueried = len(results)
	md.ProvidersSucceeded = len(succeeded)
	md.PartialData = len(md.Warnings) > 0
	md.Source = source
	md.CreatedAt = now
	md.UpdatedAt = now
	md.ExpiresAt = now.Add(ttl)
	md.TTLSeconds = int64(ttl / time.Second)

	var conflicts []ConflictReport

	rec.ASN = c.fuseString("asn", succeeded, func(p *providers.Partial) *string { return p.ASN }, &conflicts)
	rec.Org = c.fuseString("org", succeeded, func(p *providers.Partial) *string { return p.Org }, &conflicts)
	rec.Location.Country = c.fuseString("country", succeeded, func(p *providers.Partial) *string { return p.Country }, &conflicts)
	rec.Location.Region = c.fuseString("region", succeeded, func(p *providers.Partial) *string { return p.Region }, &conflicts)
	rec.Location.City = c.fuseString("city", succeeded, func(p *providers.Partial) *string { return p.City }, &conflicts)
	rec.Location.Timezone = c.fuseString("timezone", succeeded, func(p *providers.Partial) *string { return p.Timezone }, &conflicts)
	rec.Location.Coordinates = meanCoordinates(succeeded)
	rec.Location.Accuracy = accuracyOf(rec.Location)

	rec.Flags.IsProxy = orFlag(succeeded, func(p *providers.Partial) *bool { return p.IsProxy })
	rec.Flags.IsVPN = orFlag(succeeded, func(p *providers.Partial) *bool { return p.IsVPN })
	rec.Flags.IsTor = orFlag(succeeded, func(p *providers.Partial) *bool { return p.IsTor })
	rec.Flags.IsHosting = orFlag(succeeded, func(p *providers.Partial) *bool { return p.IsHosting })
	rec.Flags.IsMobile = orFlag(succeeded, func(p *providers.Partial) *bool { return p.IsMobile })
	rec.Flags.Confidence = confidence(len(succeeded))
	rec.Flags.VPNProvider = c.fuseVPNProvider(rec, succeeded, &conflicts)

	rec.Threat.AbuseScore = maxAbuse(succeeded)
	rec.Threat.RiskLevel = riskLevel(rec.Flags, rec.Threat.AbuseScore)

	md.Conflicts = conflicts
	return rec
}

type valueGroup struct {
	value     string
	providers []string
	trustSum  int
}

func (g *valueGroup) count() int { return len(g.providers) }

func (g *valueGroup) avgTrust() float64 {
	if len(g.providers) == 0 {
		return 0
	}
	return float64(g.trustSum) / float64(len(g.providers))
}

// fuseString majority-votes one string field. Ties on count fall to the
// group with the higher average trust; a surviving tie keeps the group
// encountered first, which is stable because results arrive in registration
// order. Disagreement between two or more distinct values emits a
// ConflictReport.
func (c *Correlator) fuseString(field string, results []providers.Result, get func(*providers.Partial) *string, conflicts *[]ConflictReport) *string {
	var groups []*valueGroup
	byValue := make(map[string]*valueGroup)

	for _, r := range results {
		v := get(r.Data)
		if v == nil || *v == "" {
			continue
		}
		g, ok := byValue[*v]
		if !ok {
			g = &valueGroup{value: *v}
			byValue[*v] = g
			groups = append(groups, g)
		}
		g.providers = append(g.providers, r.Provider)
		g.trustSum += c.trustOf(r.Provider)
	}

	switch len(groups) {
	case 0:
		return nil
	case 1:
		v := groups[0].value
		return &v
	}

	winner := groups[0]
	uniqueMax := true
	for _, g := range groups[1:] {
		switch {
		case g.count() > winner.count():
			winner = g
			uniqueMax = true
		case g.count() == winner.count():
			uniqueMax = false
			if g.avgTrust() > winner.avgTrust() {
				winner = g
			}
		}
	}

	vals := make([]ConflictValue, 0, len(groups))
	for _, g := range groups {
		vals = append(vals, ConflictValue{
			Value:      g.value,
			Providers:  g.providers,
			TrustScore: g.avgTrust(),
			Count:      g.count(),
		})
	}
	sort.SliceStable(vals, func(i, j int) bool {
		if vals[i].Count != vals[j].Count {
			return vals[i].Count > vals[j].Count
		}
		return vals[i].TrustScore > vals[j].TrustScore
	})

	reason := "majority vote"
	if !uniqueMax {
		reason = "highest trust"
	}
	*conflicts = append(*conflicts, ConflictReport{
		Field:    field,
		Values:   vals,
		Resolved: winner.value,
		Reason:   reason,
	})

	v := winner.value
	return &v
}

type vpnGroup struct {
	value     string
	providers []string
	trustSum  int
	maxTrust  int
}

// fuseVPNProvider resolves the operator name in three steps: structured
// fields from any provider, then provider-specific raw extraction, then the
// static fingerprint table when the IP flags as VPN but nobody named the
// operator. The authority provider outranks everyone else.
func (c *Correlator) fuseVPNProvider(rec *Record, results []providers.Result, conflicts *[]ConflictReport) *string {
	var groups []*vpnGroup
	byValue := make(map[string]*vpnGroup)

	add := func(provider, value string) {
		trust := c.trustOf(provider)
		if provider == c.vpnAuthority {
			trust = authorityTrust
		}
		g, ok := byValue[value]
		if !ok {
			g = &vpnGroup{value: value}
			byValue[value] = g
			groups = append(groups, g)
		}
		g.providers = append(g.providers, provider)
		g.trustSum += trust
		if trust > g.maxTrust {
			g.maxTrust = trust
		}
	}

	for _, r := range results {
		if v := r.Data.VPNProvider; v != nil && *v != "" {
			add(r.Provider, *v)
			continue
		}
		if c.vpnFromRaw != nil {
			if name, ok := c.vpnFromRaw(r.Provider, r.Data.Raw); ok && name != "" {
				add(r.Provider, name)
			}
		}
	}

	if len(groups) == 0 {
		if isTrue(rec.Flags.IsVPN) {
			if name := vpnOperatorFor(deref(rec.ASN), deref(rec.Org)); name != "" {
				return &name
			}
		}
		return nil
	}

	winner := groups[0]
	for _, g := range groups[1:] {
		if g.maxTrust > winner.maxTrust {
			winner = g
		}
	}

	if len(groups) > 1 {
		vals := make([]ConflictValue, 0, len(groups))
		for _, g := range groups {
			vals = append(vals, ConflictValue{
				Value:      g.value,
				Providers:  g.providers,
				TrustScore: float64(g.maxTrust),
				Count:      len(g.providers),
			})
		}
		sort.SliceStable(vals, func(i, j int) bool {
			return vals[i].TrustScore > vals[j].TrustScore
		})
		*conflicts = append(*conflicts, ConflictReport{
			Field:    "vpnProvider",
			Values:   vals,
			Resolved: winner.value,
			Reason:   "highest trust",
		})
	}

	v := winner.value
	return &v
}

func meanCoordinates(results []providers.Result) *Coordinates {
	var lat, lon float64
	var n int
	for _, r := range results {
		if r.Data.Latitude == nil || r.Data.Longitude == nil {
			continue
		}
		lat += *r.Data.Latitude
		lon += *r.Data.Longitude
		n++
	}
	if n == 0 {
		return nil
	}
	return &Coordinates{Lat: lat / float64(n), Lon: lon / float64(n)}
}

// orFlag ORs a boolean across providers. Nil when nobody reported it; a
// single "false" vote still yields false, not nil.
func orFlag(results []providers.Result, get func(*providers.Partial) *bool) *bool {
	var out *bool
	for _, r := range results {
		v := get(r.Data)
		if v == nil {
			continue
		}
		if out == nil {
			b := false
			out = &b
		}
		if *v {
			*out = true
		}
	}
	return out
}

func maxAbuse(results []providers.Result) *int {
	var out *int
	for _, r := range results {
		v := r.Data.AbuseScore
		if v == nil {
			continue
		}
		if out == nil || *v > *out {
			n := *v
			out = &n
		}
	}
	return out
}

func confidence(succeeded int) int {
	f := float64(succeeded) / 10
	if f > 1 {
		f = 1
	}
	return int(math.Round(f * 100))
}

func accuracyOf(loc Location) Accuracy {
	switch {
	case loc.City != nil:
		return AccuracyCity
	case loc.Region != nil:
		return AccuracyRegion
	case loc.Country != nil:
		return AccuracyCountry
	}
	return ""
}

// riskLevel applies the verdict ladder: tor or abuse >= 70 is high, any
// anonymizer or abuse >= 30 is medium, any signal at all is low, and no
// signal leaves it empty.
func riskLevel(f Flags, abuse *int) RiskLevel {
	score, hasScore := 0, abuse != nil
	if hasScore {
		score = *abuse
	}

	switch {
	case isTrue(f.IsTor) || (hasScore && score >= 70):
		return RiskHigh
	case isTrue(f.IsProxy) || isTrue(f.IsVPN) || (hasScore && score >= 30):
		return RiskMedium
	}

	if hasScore || f.IsProxy != nil || f.IsVPN != nil || f.IsTor != nil || f.IsHosting != nil || f.IsMobile != nil {
		return RiskLow
	}
	return ""
}

func isTrue(b *bool) bool { return b != nil && *b }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
