// Package intel defines the canonical intelligence record and the
// correlation engine that fuses per-provider answers into it.
package intel

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Source tells where a served record came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceDB    Source = "db"
	SourceLive  Source = "live"
)

// Accuracy is the finest location granularity any provider reported.
type Accuracy string

const (
	AccuracyCity    Accuracy = "city"
	AccuracyRegion  Accuracy = "region"
	AccuracyCountry Accuracy = "country"
)

// RiskLevel is the coarse verdict derived from fused threat signals.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Coordinates is a WGS84 point, averaged across reporting providers.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is the fused geolocation block.
type Location struct {
	Country     *string      `json:"country,omitempty"`
	Region      *string      `json:"region,omitempty"`
	City        *string      `json:"city,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Timezone    *string      `json:"timezone,omitempty"`
	Accuracy    Accuracy     `json:"accuracy,omitempty"`
}

// Flags holds the fused anonymity and network-type booleans. A nil field
// means no provider reported it either way.
type Flags struct {
	IsProxy     *bool   `json:"isProxy,omitempty"`
	IsVPN       *bool   `json:"isVpn,omitempty"`
	IsTor       *bool   `json:"isTor,omitempty"`
	IsHosting   *bool   `json:"isHosting,omitempty"`
	IsMobile    *bool   `json:"isMobile,omitempty"`
	VPNProvider *string `json:"vpnProvider,omitempty"`

	// Confidence scales with how many providers answered: 10 successes or
	// more pins it at 100.
	Confidence int `json:"confidence"`
}

// Threat is the fused threat block.
type Threat struct {
	AbuseScore *int      `json:"abuseScore,omitempty"`
	RiskLevel  RiskLevel `json:"riskLevel,omitempty"`
}

// ConflictValue is one contested value inside a ConflictReport.
type ConflictValue struct {
	Value      string   `json:"value"`
	Providers  []string `json:"providers"`
	TrustScore float64  `json:"trustScore"`
	Count      int      `json:"count"`
}

// ConflictReport records a field where providers disagreed and how the
// disagreement was settled.
type ConflictReport struct {
	Field    string          `json:"field"`
	Values   []ConflictValue `json:"values"`
	Resolved string          `json:"resolved"`
	Reason   string          `json:"reason"` // "majority vote" | "highest trust"
}

// Triage verdicts an analysis can carry.
const (
	VerdictBlock       = "BLOCK"
	VerdictInvestigate = "INVESTIGATE"
	VerdictMonitor     = "MONITOR"
	VerdictAllow       = "ALLOW"
)

// Severity levels an analysis can carry.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeveritySafe     = "safe"
)

// LLMAnalysis is the optional model-written assessment attached to a record.
type LLMAnalysis struct {
	Summary          string    `json:"summary"`
	RiskAssessment   string    `json:"riskAssessment"`
	Recommendations  []string  `json:"recommendations,omitempty"`
	ThreatIndicators []string  `json:"threatIndicators,omitempty"`
	Confidence       int       `json:"confidence"`
	Verdict          string    `json:"verdict"`       // BLOCK | INVESTIGATE | MONITOR | ALLOW
	SeverityLevel    string    `json:"severityLevel"` // critical | high | medium | low | safe
	ExecutiveSummary string    `json:"executiveSummary,omitempty"`
	TechnicalDetails string    `json:"technicalDetails,omitempty"`
	Model            string    `json:"model,omitempty"`
	AnalyzedAt       time.Time `json:"analyzedAt"`
}

// Metadata carries provenance: who answered, what they disagreed on, where
// the record was served from and how long it stays valid.
type Metadata struct {
	Providers          []string         `json:"providers"`
	Conflicts          []ConflictReport `json:"conflicts,omitempty"`
	Source             Source           `json:"source"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
	ExpiresAt          time.Time        `json:"expiresAt"`
	TTLSeconds         int64            `json:"ttlSeconds"`
	Warnings           []string         `json:"warnings,omitempty"`
	PartialData        bool             `json:"partialData"`
	ProvidersQueried   int              `json:"providersQueried"`
	ProvidersSucceeded int              `json:"providersSucceeded"`
	LLMAnalysis        *LLMAnalysis     `json:"llmAnalysis,omitempty"`
}

// Record is the canonical fused answer for one IP.
type Record struct {
	IP       string   `json:"ip"`
	ASN      *string  `json:"asn,omitempty"`
	Org      *string  `json:"org,omitempty"`
	Location Location `json:"location"`
	Flags    Flags    `json:"flags"`
	Threat   Threat   `json:"threat"`
	Metadata Metadata `json:"metadata"`
}

// Hash returns a stable digest of the intelligence content, ignoring
// provenance so that a refresh with identical findings writes nothing new.
// Confidence is excluded because it tracks provider availability, not the
// IP itself.
func (r *Record) Hash() string {
	flags := r.Flags
	flags.Confidence = 0

	payload := struct {
		IP       string   `json:"ip"`
		ASN      *string  `json:"asn"`
		Org      *string  `json:"org"`
		Location Location `json:"location"`
		Flags    Flags    `json:"flags"`
		Threat   Threat   `json:"threat"`
	}{r.IP, r.ASN, r.Org, r.Location, flags, r.Threat}

	raw, err := json.Marshal(payload)
	if err != nil {
		// Only unmarshalable types can fail here, and the payload has none.
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
