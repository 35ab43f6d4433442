// Package llm turns a canonical IP record into a structured threat
// assessment written by a language model.
//
// Three backends are supported (anthropic, openai, gemini), selected by
// configuration. All of them share one prompt and one strict-JSON response
// contract, so swapping the backend never changes the shape of the
// analysis. Callers treat enrichment as best effort: an Analyze error
// means the record ships without analysis, never that the lookup fails.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PureCypher/IPChecker-sub000/internal/intel"
)

const (
	defaultTimeout = 30 * time.Second

	// analysisMaxTokens bounds the model reply. The response contract fits
	// comfortably; anything longer is the model ignoring instructions.
	analysisMaxTokens = 2048

	// analysisTemperature keeps assessments reproducible across runs.
	analysisTemperature = 0.2
)

// Config selects and parameterizes the analysis backend.
type Config struct {
	// Provider is one of: anthropic, openai, gemini, none.
	Provider string

	// APIKey is the backend credential.
	APIKey string

	// Model overrides the backend's default model.
	Model string

	// BaseURL overrides the backend endpoint (useful for testing).
	BaseURL string

	// Timeout is the per-analysis deadline. Default: 30s.
	Timeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

// Health is the backend status exposed by the health endpoint.
type Health struct {
	Available bool   `json:"available"`
	Model     string `json:"model"`
	LatencyMS int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Analyzer produces a threat assessment for one canonical record.
type Analyzer interface {
	// Name identifies the backend: anthropic, openai or gemini.
	Name() string

	// Model is the model identifier used for analysis.
	Model() string

	// Analyze asks the model to assess rec. It honors the configured
	// deadline and returns an error on transport failures, timeouts and
	// replies that do not satisfy the response contract.
	Analyze(ctx context.Context, rec *intel.Record) (*intel.LLMAnalysis, error)

	// HealthCheck probes the backend and reports availability.
	HealthCheck(ctx context.Context) Health
}

// New builds the analyzer selected by cfg.Provider. A "none" or empty
// provider returns (nil, nil): enrichment disabled.
func New(ctx context.Context, cfg Config) (Analyzer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil
	case "anthropic":
		return newAnthropic(cfg), nil
	case "openai":
		return newOpenAI(cfg), nil
	case "gemini":
		return newGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// measureHealth times one backend probe.
func measureHealth(ctx context.Context, model string, ping func(context.Context) error) Health {
	start := time.Now()
	err := ping(ctx)

	h := Health{
		Available: err == nil,
		Model:     model,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}
