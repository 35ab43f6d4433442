package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/intel"
)

// systemPrompt frames every analysis request.
const systemPrompt = `You are a network security analyst reviewing IP address intelligence
aggregated from multiple reputation and geolocation services. Assess the
evidence and produce a triage-ready threat report for a security operations
team. Respond with a single JSON object and nothing else.`

// responseContract is appended to every prompt. Field names mirror the
// LLMAnalysis JSON encoding exactly so the reply can be unmarshaled as-is.
const responseContract = `Respond with a single JSON object with exactly these fields:
{
  "summary": "one paragraph describing what this IP is and who operates it",
  "riskAssessment": "reasoning about the risk this IP poses, citing the evidence",
  "recommendations": ["actionable next steps for an analyst"],
  "threatIndicators": ["specific indicators observed; empty if none"],
  "confidence": <integer 0-100>,
  "verdict": "BLOCK" | "INVESTIGATE" | "MONITOR" | "ALLOW",
  "severityLevel": "critical" | "high" | "medium" | "low" | "safe",
  "executiveSummary": "two sentences for a non-technical reader",
  "technicalDetails": "notable technical specifics (ASN, infrastructure, exposure)"
}
Do not wrap the JSON in markdown fences.`

// buildPrompt renders the record as indented JSON followed by the response
// contract.
func buildPrompt(rec *intel.Record) (string, error) {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("llm: marshal record: %w", err)
	}

	var b strings.Builder
	b.WriteString("Analyze the following IP intelligence record:\n\n")
	b.Write(raw)
	b.WriteString("\n\n")
	b.WriteString(responseContract)
	return b.String(), nil
}

// parseAnalysis decodes a model reply. Models occasionally wrap the JSON in
// markdown fences or lead with prose despite instructions, so the parser
// extracts the outermost object before decoding. Verdict and severity are
// normalized onto their closed vocabularies; confidence is clamped to
// [0,100].
func parseAnalysis(reply, model string, now time.Time) (*intel.LLMAnalysis, error) {
	body := extractJSON(reply)
	if body == "" {
		return nil, fmt.Errorf("llm: no JSON object in model reply")
	}

	var a intel.LLMAnalysis
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return nil, fmt.Errorf("llm: decode model reply: %w", err)
	}
	if strings.TrimSpace(a.Summary) == "" {
		return nil, fmt.Errorf("llm: model reply has no summary")
	}

	a.Verdict = normalizeVerdict(a.Verdict)
	a.SeverityLevel = normalizeSeverity(a.SeverityLevel)
	if a.Confidence < 0 {
		a.Confidence = 0
	}
	if a.Confidence > 100 {
		a.Confidence = 100
	}
	a.Model = model
	a.AnalyzedAt = now.UTC()
	return &a, nil
}

// extractJSON returns the outermost JSON object in reply, tolerating
// markdown fences and surrounding prose.
func extractJSON(reply string) string {
	s := strings.TrimSpace(reply)

	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// normalizeVerdict maps the model's verdict onto the four triage verdicts.
// Unrecognized values land on INVESTIGATE.
func normalizeVerdict(v string) string {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case intel.VerdictBlock:
		return intel.VerdictBlock
	case intel.VerdictMonitor:
		return intel.VerdictMonitor
	case intel.VerdictAllow:
		return intel.VerdictAllow
	default:
		return intel.VerdictInvestigate
	}
}

// normalizeSeverity maps the model's severity onto the closed vocabulary.
// Unrecognized values land on medium.
func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case intel.SeverityCritical:
		return intel.SeverityCritical
	case intel.SeverityHigh:
		return intel.SeverityHigh
	case intel.SeverityLow:
		return intel.SeverityLow
	case intel.SeveritySafe:
		return intel.SeveritySafe
	default:
		return intel.SeverityMedium
	}
}
