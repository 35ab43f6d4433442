package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/PureCypher/IPChecker-sub000/internal/intel"
)

const openaiDefaultModel = "gpt-4o-mini"

// openaiAnalyzer talks to the OpenAI chat completions API.
type openaiAnalyzer struct {
	model   string
	timeout time.Duration
	client  openaiSDK.Client
}

func newOpenAI(cfg Config) *openaiAnalyzer {
	model := cfg.Model
	if model == "" {
		model = openaiDefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout()}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &openaiAnalyzer{
		model:   model,
		timeout: cfg.timeout(),
		client:  openaiSDK.NewClient(opts...),
	}
}

func (a *openaiAnalyzer) Name() string  { return "openai" }
func (a *openaiAnalyzer) Model() string { return a.model }

func (a *openaiAnalyzer) Analyze(ctx context.Context, rec *intel.Record) (*intel.LLMAnalysis, error) {
	prompt, err := buildPrompt(rec)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Chat.Completions.New(ctx, openaiSDK.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openaiSDK.ChatCompletionMessageParamUnion{
			openaiSDK.SystemMessage(systemPrompt),
			openaiSDK.UserMessage(prompt),
		},
		Temperature:         openaiSDK.Float(analysisTemperature),
		MaxCompletionTokens: openaiSDK.Int(int64(analysisMaxTokens)),
	})
	if err != nil {
		return nil, fmt.Errorf("llm: openai: %w", describeOpenAIErr(err))
	}

	reply := ""
	if len(resp.Choices) > 0 {
		reply = resp.Choices[0].Message.Content
	}

	return parseAnalysis(reply, a.model, time.Now())
}

func (a *openaiAnalyzer) HealthCheck(ctx context.Context) Health {
	return measureHealth(ctx, a.model, a.ping)
}

func (a *openaiAnalyzer) ping(ctx context.Context) error {
	_, err := a.client.Models.List(ctx)
	if err != nil {
		return describeOpenAIErr(err)
	}
	return nil
}

// describeOpenAIErr surfaces the HTTP status of SDK errors so swallowed
// failures stay diagnosable from logs.
func describeOpenAIErr(err error) error {
	var apierr *openaiSDK.Error
	if errors.As(err, &apierr) {
		return fmt.Errorf("status %d: %s", apierr.StatusCode, apierr.Error())
	}
	return err
}
