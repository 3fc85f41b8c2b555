package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	APIKey string
	Model  string
	// Azure settings; Endpoint switches the client to Azure mode.
	Endpoint   string
	APIVersion string
	Deployment string
	// BaseURL overrides the OpenAI endpoint (OpenAI-compatible gateways, tests).
	BaseURL  string
	TokenCap int
}

// OpenAIClient serves both OpenAI and Azure OpenAI chat completions.
type OpenAIClient struct {
	cli      *openai.Client
	model    string
	azure    bool
	tokenCap int
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	var oc openai.ClientConfig
	azure := strings.TrimSpace(cfg.Endpoint) != ""
	if azure {
		oc = openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
		if cfg.APIVersion != "" {
			oc.APIVersion = cfg.APIVersion
		}
		if dep := strings.TrimSpace(cfg.Deployment); dep != "" {
			oc.AzureModelMapperFunc = func(string) string { return dep }
			if cfg.Model == "" {
				cfg.Model = dep
			}
		}
	} else {
		oc = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.TokenCap <= 0 {
		cfg.TokenCap = 128000
	}
	return &OpenAIClient{cli: openai.NewClientWithConfig(oc), model: cfg.Model, azure: azure, tokenCap: cfg.TokenCap}, nil
}

func (c *OpenAIClient) Name() string {
	if c.azure {
		return "AzureOpenAI:" + c.model
	}
	return "OpenAI:" + c.model
}
func (c *OpenAIClient) Close() error                { return nil }
func (c *OpenAIClient) CountTokens(text string) int { return CountTokens(text) }
func (c *OpenAIClient) TokenCapacity() int          { return c.tokenCap }

// GenerateJSON sends prompt as the system message and input as the user message.
// A schema on ctx selects json_schema output, otherwise json_object.
func (c *OpenAIClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	user := renderInput(input)
	if user == "" {
		user = "{}"
	}
	format := &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	if s, ok := SchemaFrom(ctx); ok {
		format = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   s.Name,
				Schema: s.Schema,
				Strict: false,
			},
		}
	}
	resp, err := c.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: "[INPUT JSON]\n" + user},
		},
		Temperature:    TemperatureFrom(ctx),
		ResponseFormat: format,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	ReportUsage(ctx, c.Name(), Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	})
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrInvalidJSON
	}
	return ExtractJSON(resp.Choices[0].Message.Content)
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped := fmt.Errorf("openai: status %d: %w", apiErr.HTTPStatusCode, err)
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized, apiErr.HTTPStatusCode == http.StatusForbidden:
			return NewPermanentError(wrapped)
		case apiErr.HTTPStatusCode == http.StatusBadRequest && fmt.Sprint(apiErr.Code) == "context_length_exceeded":
			return NewPermanentError(wrapped)
		}
		return wrapped
	}
	return fmt.Errorf("openai: %w", err)
}
