package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/PureCypher/IPChecker-sub000/internal/intel"
)

const anthropicDefaultModel = "claude-sonnet-4-20250514"

// anthropicAnalyzer talks to the Anthropic Messages API.
type anthropicAnalyzer struct {
	model   string
	timeout time.Duration
	client  anthropic.Client
}

func newAnthropic(cfg Config) *anthropicAnalyzer {
	model := cfg.Model
	if model == "" {
		model = anthropicDefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout()}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicAnalyzer{
		model:   model,
		timeout: cfg.timeout(),
		client:  anthropic.NewClient(opts...),
	}
}

func (a *anthropicAnalyzer) Name() string  { return "anthropic" }
func (a *anthropicAnalyzer) Model() string { return a.model }

func (a *anthropicAnalyzer) Analyze(ctx context.Context, rec *intel.Record) (*intel.LLMAnalysis, error) {
	prompt, err := buildPrompt(rec)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   analysisMaxTokens,
		Temperature: anthropic.Float(analysisTemperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					{OfText: &anthropic.TextBlockParam{Text: prompt}},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: anthropic: %w", describeAnthropicErr(err))
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		switch v := b.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case *anthropic.TextBlock:
			sb.WriteString(v.Text)
		}
	}

	return parseAnalysis(sb.String(), a.model, time.Now())
}

func (a *anthropicAnalyzer) HealthCheck(ctx context.Context) Health {
	return measureHealth(ctx, a.model, a.ping)
}

func (a *anthropicAnalyzer) ping(ctx context.Context) error {
	_, err := a.client.Models.List(ctx, anthropic.ModelListParams{
		Limit: anthropic.Int(1),
	})
	if err != nil {
		return describeAnthropicErr(err)
	}
	return nil
}

// describeAnthropicErr surfaces the HTTP status of SDK errors so swallowed
// failures stay diagnosable from logs.
func describeAnthropicErr(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return fmt.Errorf("status %d: %s", apierr.StatusCode, apierr.Error())
	}
	return err
}
