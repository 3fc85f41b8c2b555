package llm

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	llmclient "smartplanning/internal/llmClient"
)

// WithLogging logs request size, phase, latency and errors.
func WithLogging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next llmclient.LLMClient) llmclient.LLMClient {
		return &logging{passthrough: passthrough{next}, log: logger}
	}
}

type logging struct {
	passthrough
	log *zap.Logger
}

func (l *logging) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	in, _ := json.Marshal(input)
	fields := []zap.Field{
		zap.String("model", l.next.Name()),
		zap.String("phase", PhaseFrom(ctx)),
		zap.Int("bytes", len(prompt)+len(in)),
	}
	l.log.Debug("llm request", fields...)
	start := time.Now()
	raw, err := l.next.GenerateJSON(ctx, prompt, input)
	fields = append(fields, zap.Duration("latency", time.Since(start)))
	if err != nil {
		l.log.Warn("llm error", append(fields, zap.Error(err))...)
		return raw, err
	}
	l.log.Debug("llm response", append(fields, zap.Int("response_bytes", len(raw)))...)
	return raw, nil
}
