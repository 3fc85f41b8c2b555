package llm

import (
	"context"
	"encoding/json"

	"golang.org/x/time/rate"

	llmclient "smartplanning/internal/llmClient"
)

// RateLimit throttles calls to rps with the given burst. rps <= 0 disables it.
func RateLimit(rps float64, burst int) Middleware {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next llmclient.LLMClient) llmclient.LLMClient {
		return &rateLimited{passthrough: passthrough{next}, lim: lim}
	}
}

type rateLimited struct {
	passthrough
	lim *rate.Limiter
}

func (c *rateLimited) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	if err := c.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.GenerateJSON(ctx, prompt, input)
}
