package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/PureCypher/IPChecker-sub000/internal/intel"
)

const geminiDefaultModel = "gemini-2.0-flash"

// geminiAnalyzer talks to the Google Gemini API through the official
// GenAI SDK.
type geminiAnalyzer struct {
	model   string
	timeout time.Duration
	client  *genai.Client
}

func newGemini(ctx context.Context, cfg Config) (*geminiAnalyzer, error) {
	model := cfg.Model
	if model == "" {
		model = geminiDefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.timeout()},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("llm: gemini: client: %w", err)
	}

	return &geminiAnalyzer{
		model:   model,
		timeout: cfg.timeout(),
		client:  client,
	}, nil
}

func (a *geminiAnalyzer) Name() string  { return "gemini" }
func (a *geminiAnalyzer) Model() string { return a.model }

func (a *geminiAnalyzer) Analyze(ctx context.Context, rec *intel.Record) (*intel.LLMAnalysis, error) {
	prompt, err := buildPrompt(rec)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
		Temperature:     genai.Ptr[float32](float32(analysisTemperature)),
		MaxOutputTokens: int32(analysisMaxTokens),
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("llm: gemini: %w", describeGeminiErr(err))
	}

	reply := ""
	if resp != nil {
		reply = resp.Text()
	}

	return parseAnalysis(reply, a.model, time.Now())
}

func (a *geminiAnalyzer) HealthCheck(ctx context.Context) Health {
	return measureHealth(ctx, a.model, a.ping)
}

func (a *geminiAnalyzer) ping(ctx context.Context) error {
	_, err := a.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1})
	if err != nil {
		return describeGeminiErr(err)
	}
	return nil
}

// describeGeminiErr surfaces the HTTP status of SDK errors so swallowed
// failures stay diagnosable from logs.
func describeGeminiErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("status %d: %s", apiErr.Code, apiErr.Message)
	}
	return err
}
