package llm

import (
	llmclient "smartplanning/internal/llmClient"
)

// Middleware decorates an LLMClient with a cross-cutting concern.
type Middleware func(llmclient.LLMClient) llmclient.LLMClient

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner llmclient.LLMClient, mws ...Middleware) llmclient.LLMClient {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			out = mws[i](out)
		}
	}
	return out
}

// passthrough implements the non-generating methods for decorators.
type passthrough struct {
	next llmclient.LLMClient
}

func (p passthrough) Name() string                { return p.next.Name() }
func (p passthrough) Close() error                { return p.next.Close() }
func (p passthrough) CountTokens(text string) int { return p.next.CountTokens(text) }
func (p passthrough) TokenCapacity() int          { return p.next.TokenCapacity() }
