package llm

import (
	"context"
	"encoding/json"

	llmclient "smartplanning/internal/llmClient"
)

// PromptHook observes every exchange with the model.
type PromptHook interface {
	Before(ctx context.Context, phase, prompt string, input any)
	After(ctx context.Context, phase string, raw json.RawMessage, err error)
}

type ctxKeyPhase struct{}

// WithHook calls hook around every GenerateJSON.
func WithHook(hook PromptHook) Middleware {
	if hook == nil {
		return nil
	}
	return func(next llmclient.LLMClient) llmclient.LLMClient {
		return &hooked{passthrough: passthrough{next}, hook: hook}
	}
}

type hooked struct {
	passthrough
	hook PromptHook
}

func (h *hooked) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	phase := PhaseFrom(ctx)
	h.hook.Before(ctx, phase, prompt, input)
	raw, err := h.next.GenerateJSON(ctx, prompt, input)
	h.hook.After(ctx, phase, raw, err)
	return raw, err
}

// WithPhase labels calls made with ctx ("identify", "correction", "route", ...).
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, ctxKeyPhase{}, phase)
}

// PhaseFrom returns the phase string stored in the context.
func PhaseFrom(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKeyPhase{}).(string); ok && s != "" {
		return s
	}
	return "unknown"
}
