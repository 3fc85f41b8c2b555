package llmclient

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrInvalidJSON = errors.New("invalid json from LLM")

// PermanentError indicates an error that will not resolve with retries.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// LLMClient produces one JSON object per request.
type LLMClient interface {
	Name() string
	Close() error
	CountTokens(text string) int
	TokenCapacity() int
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
}

// Usage is the token accounting a provider reports for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// UsageRecorder receives the usage of every call made with a context carrying it.
type UsageRecorder func(model string, u Usage)

type ctxKeyUsage struct{}
type ctxKeySchema struct{}
type ctxKeyTemperature struct{}

func WithUsageRecorder(ctx context.Context, rec UsageRecorder) context.Context {
	if prev, ok := ctx.Value(ctxKeyUsage{}).(UsageRecorder); ok && prev != nil {
		inner := rec
		rec = func(model string, u Usage) {
			inner(model, u)
			prev(model, u)
		}
	}
	return context.WithValue(ctx, ctxKeyUsage{}, rec)
}

// ReportUsage is called by providers after a successful call.
func ReportUsage(ctx context.Context, model string, u Usage) {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	if rec, ok := ctx.Value(ctxKeyUsage{}).(UsageRecorder); ok && rec != nil {
		rec(model, u)
	}
}

// Schema describes the JSON object a caller expects. Providers that support
// structured output pass it on; the others fall back to plain JSON mode.
type Schema struct {
	Name   string
	Schema json.RawMessage
}

func WithSchema(ctx context.Context, s Schema) context.Context {
	return context.WithValue(ctx, ctxKeySchema{}, s)
}

func SchemaFrom(ctx context.Context) (Schema, bool) {
	s, ok := ctx.Value(ctxKeySchema{}).(Schema)
	return s, ok && len(s.Schema) > 0
}

func WithTemperature(ctx context.Context, t float32) context.Context {
	return context.WithValue(ctx, ctxKeyTemperature{}, t)
}

// TemperatureFrom returns the requested sampling temperature, 0 when unset.
func TemperatureFrom(ctx context.Context) float32 {
	t, _ := ctx.Value(ctxKeyTemperature{}).(float32)
	return t
}
