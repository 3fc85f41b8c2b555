package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	llmclient "smartplanning/internal/llmClient"
)

// Call is one request observed by ScriptedClient.
type Call struct {
	Phase  string
	Prompt string
	Input  any
}

// ScriptedClient replays canned replies per phase, for tests and offline runs.
// A phase with no replies left falls back to Default; with no Default it fails.
type ScriptedClient struct {
	mu      sync.Mutex
	replies map[string][]Reply
	Default *Reply
	calls   []Call
	Usage   llmclient.Usage
}

type Reply struct {
	JSON string
	Err  error
}

func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{replies: map[string][]Reply{}}
}

// On queues replies for phase.
func (s *ScriptedClient) On(phase string, replies ...Reply) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[phase] = append(s.replies[phase], replies...)
	return s
}

// OnJSON queues values that are marshalled as replies.
func (s *ScriptedClient) OnJSON(phase string, values ...any) *ScriptedClient {
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		s.On(phase, Reply{JSON: string(b)})
	}
	return s
}

func (s *ScriptedClient) Name() string                { return "Scripted" }
func (s *ScriptedClient) Close() error                { return nil }
func (s *ScriptedClient) CountTokens(text string) int { return llmclient.CountTokens(text) }
func (s *ScriptedClient) TokenCapacity() int          { return 1 << 20 }

func (s *ScriptedClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	phase := PhaseFrom(ctx)
	s.mu.Lock()
	s.calls = append(s.calls, Call{Phase: phase, Prompt: prompt, Input: input})
	var r Reply
	if q := s.replies[phase]; len(q) > 0 {
		r = q[0]
		s.replies[phase] = q[1:]
	} else if s.Default != nil {
		r = *s.Default
	} else {
		s.mu.Unlock()
		return nil, fmt.Errorf("scripted: no reply for phase %q", phase)
	}
	usage := s.Usage
	s.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	if usage.TotalTokens > 0 || usage.PromptTokens > 0 {
		llmclient.ReportUsage(ctx, s.Name(), usage)
	}
	return llmclient.ExtractJSON(r.JSON)
}

// Calls returns the observed requests, optionally only those of one phase.
func (s *ScriptedClient) Calls(phase string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, 0, len(s.calls))
	for _, c := range s.calls {
		if phase == "" || c.Phase == phase {
			out = append(out, c)
		}
	}
	return out
}
