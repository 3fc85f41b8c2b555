package llmclient

import (
	"context"
	"fmt"
	"strings"
)

const (
	ProviderGemini    = "gemini"
	ProviderAzure     = "azure"
	ProviderOpenAI    = "openai"
	ProviderGroq      = "groq"
	ProviderHeuristic = "heuristic"
)

type ProviderConfig struct {
	Provider string
	Model    string
	TokenCap int

	GeminiAPIKey string
	OpenAIAPIKey string
	GroqAPIKey   string

	AzureAPIKey     string
	AzureEndpoint   string
	AzureAPIVersion string
	AzureDeployment string
}

// ErrNoProvider is returned for the heuristic provider: the caller runs without a model.
var ErrNoProvider = fmt.Errorf("no llm provider configured")

// New builds the provider client named by cfg.Provider.
func New(ctx context.Context, cfg ProviderConfig) (LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGemini:
		return NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.Model, cfg.TokenCap)
	case ProviderAzure:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:     cfg.AzureAPIKey,
			Endpoint:   cfg.AzureEndpoint,
			APIVersion: cfg.AzureAPIVersion,
			Deployment: cfg.AzureDeployment,
			Model:      cfg.Model,
			TokenCap:   cfg.TokenCap,
		})
	case ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.Model, TokenCap: cfg.TokenCap})
	case ProviderGroq:
		return NewGroqClient(cfg.GroqAPIKey, cfg.Model, cfg.TokenCap)
	case ProviderHeuristic, "", "none":
		return nil, ErrNoProvider
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
