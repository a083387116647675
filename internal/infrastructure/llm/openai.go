package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"ReviewInsights/internal/analysis"
	"ReviewInsights/internal/config"
	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/ports"
)

const defaultSystemPrompt = "You are a review analyzer."

// OpenAIAnalyzer implements ports.Analyzer against any OpenAI-compatible
// chat completions endpoint (OpenAI, GitHub Models, Azure AI inference).
type OpenAIAnalyzer struct {
	client           openai.Client
	model            string
	systemPrompt     string
	seed             int64
	structuredOutput bool
}

var _ ports.Analyzer = (*OpenAIAnalyzer)(nil)

// NewOpenAIAnalyzer builds a client from configuration. The SDK's own retries are
// disabled: rate limits surface to the pipeline instead of being retried here.
func NewOpenAIAnalyzer(cfg config.AnalysisConfig, httpClient *http.Client) *OpenAIAnalyzer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(baseURL(cfg.Endpoint)))
	}

	return &OpenAIAnalyzer{
		client:           openai.NewClient(opts...),
		model:            cfg.Model,
		systemPrompt:     safePrompt(cfg.SystemPrompt),
		seed:             cfg.Seed,
		structuredOutput: cfg.StructuredOutput,
	}
}

// Analyze sends the rendered batch prompt and returns the model's raw text.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, texts []string) (string, error) {
	if a == nil {
		return "", fmt.Errorf("openai analyzer is nil")
	}
	if a.model == "" {
		return "", fmt.Errorf("openai analyzer misconfigured: model is empty")
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(a.systemPrompt),
			openai.UserMessage(analysis.RenderPrompt(texts)),
		},
		Temperature: openai.Float(0),
		Seed:        openai.Int(a.seed),
	}
	if a.structuredOutput {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "review_sentiment",
					Description: openai.String("Sentiment breakdown with top praise and top issue"),
					Schema:      sentimentSchema,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps SDK failures onto the capability error kinds.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &domain.CapabilityError{
			Kind:       domain.ClassifyStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Err:        err,
		}
	}
	return &domain.CapabilityError{Kind: domain.ErrTransient, Err: err}
}

func baseURL(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	endpoint = strings.TrimSuffix(endpoint, "/chat/completions")
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return endpoint
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return defaultSystemPrompt
	}
	return prompt
}
