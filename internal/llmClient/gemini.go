package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiClient is a thin wrapper around the official genai client.
// Cross-cutting concerns (retries, logging, hooks) are applied via middleware.
type GeminiClient struct {
	cli      *genai.Client
	model    string
	tokenCap int
}

func NewGeminiClient(ctx context.Context, apiKey, model string, tokenCap int) (*GeminiClient, error) {
	if strings.TrimSpace(model) == "" {
		model = "gemini-2.5-flash"
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	if tokenCap <= 0 {
		tokenCap = 32000
	}
	return &GeminiClient{cli: cli, model: model, tokenCap: tokenCap}, nil
}

func (g *GeminiClient) Name() string                { return "Gemini:" + g.model }
func (g *GeminiClient) Close() error                { return nil }
func (g *GeminiClient) CountTokens(text string) int { return CountTokens(text) }
func (g *GeminiClient) TokenCapacity() int          { return g.tokenCap }

// GenerateJSON concatenates prompt and input and asks for application/json.
func (g *GeminiClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	full := prompt
	if in := renderInput(input); in != "" {
		full += "\n\n[INPUT JSON]\n" + in
	}
	temp := TemperatureFrom(ctx)
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: full}}}},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json", Temperature: &temp},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrInvalidJSON
	}
	if md := resp.UsageMetadata; md != nil {
		ReportUsage(ctx, g.Name(), Usage{
			PromptTokens:     int(md.PromptTokenCount),
			CompletionTokens: int(md.CandidatesTokenCount),
			TotalTokens:      int(md.TotalTokenCount),
		})
	}
	return ExtractJSON(resp.Candidates[0].Content.Parts[0].Text)
}
