// Package agent routes chat messages to the chat, knowledge and
// Smart Planning agents.
package agent

import (
	"context"
	"time"
)

// Name identifies an agent or a routing target.
type Name string

const (
	NameChat    Name = "chat"
	NameRAG     Name = "rag"
	NameSP      Name = "sp"
	NameClarify Name = "clarify"
)

// LLM phases, used for middleware tagging and scripted test replies.
const (
	PhaseRoute     = "agent_route"
	PhaseClarify   = "agent_clarify"
	PhaseChat      = "agent_chat"
	PhaseRAG       = "agent_rag"
	PhaseSPIntent  = "agent_sp_intent"
	PhaseSPResult  = "agent_sp_result"
	maxMessageRune = 1000
)

// Turn is one message of a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is one user message with its conversation state.
type Request struct {
	Message string
	History []Turn
	// SnapshotID is the snapshot the conversation last acted on.
	SnapshotID string
}

// Response is an agent's answer. SnapshotID is set when the answer concerns
// a snapshot, so later messages can refer to "it".
type Response struct {
	Answer     string         `json:"response"`
	Agent      Name           `json:"agent"`
	Sources    []string       `json:"sources,omitempty"`
	SnapshotID string         `json:"snapshot_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Agent answers a request.
type Agent interface {
	Name() Name
	Handle(ctx context.Context, req Request) (Response, error)
}

// Config tunes the agents. Zero values are replaced by DefaultConfig.
type Config struct {
	RouterTemperature  float32 `yaml:"router_temperature"`
	ClarifyTemperature float32 `yaml:"clarify_temperature"`
	ChatTemperature    float32 `yaml:"chat_temperature"`
	RAGTemperature     float32 `yaml:"rag_temperature"`
	IntentTemperature  float32 `yaml:"sp_intent_temperature"`
	ResultTemperature  float32 `yaml:"sp_result_temperature"`

	ChatHistoryPairs int     `yaml:"chat_history_pairs"`
	RAGHistoryPairs  int     `yaml:"rag_history_pairs"`
	TopK             int     `yaml:"rag_top_k"`
	MinScore         float64 `yaml:"rag_min_score"`

	StepRetries int           `yaml:"sp_step_retries"`
	RetryDelay  time.Duration `yaml:"sp_retry_delay"`
}

func DefaultConfig() Config {
	return Config{
		RouterTemperature:  0,
		ClarifyTemperature: 0.7,
		ChatTemperature:    0.7,
		RAGTemperature:     0.3,
		IntentTemperature:  0.2,
		ResultTemperature:  0.7,
		ChatHistoryPairs:   5,
		RAGHistoryPairs:    2,
		TopK:               8,
		MinScore:           0.5,
		StepRetries:        2,
		RetryDelay:         time.Second,
	}
}

// withDefaults fills unset counts. Temperatures are taken as given since 0 is
// a meaningful setting.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChatHistoryPairs <= 0 {
		c.ChatHistoryPairs = d.ChatHistoryPairs
	}
	if c.RAGHistoryPairs <= 0 {
		c.RAGHistoryPairs = d.RAGHistoryPairs
	}
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.MinScore <= 0 {
		c.MinScore = d.MinScore
	}
	if c.StepRetries < 0 {
		c.StepRetries = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}
