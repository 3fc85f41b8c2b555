package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	llmclient "smartplanning/internal/llmClient"
	"smartplanning/internal/llmtool"
)

var chatPrompt = llmtool.MustRender(llmtool.StructuredPromptSpec{
	Purpose: "Answer the user's message as the assistant of a production-planning team.",
	Background: "The team plans production with Smart Planning snapshots: demands, articles, work plans, " +
		"equipment, worker qualifications and packaging. Other assistants handle document lookups and snapshot operations.",
	OutputFields: []llmtool.PromptField{answerField},
	Rules: []string{
		"Use history for context; the current message is in message.",
		"When snapshot is present, answer questions about it from those facts.",
		"Be concise unless the user asks for detail.",
	},
	Constraints:  []string{"Do not claim to have run snapshot operations."},
	OutputFormat: `{"answer": "..."}`,
	Language:     "The language of the user's message.",
})

// Chat is the general conversation agent.
type Chat struct {
	client llmclient.LLMClient
	cfg    Config
	log    *zap.Logger
}

func NewChat(client llmclient.LLMClient, cfg Config, log *zap.Logger) *Chat {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chat{client: client, cfg: cfg.withDefaults(), log: log}
}

func (c *Chat) Name() Name { return NameChat }

type chatInput struct {
	Message  string `json:"message"`
	History  []Turn `json:"history,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`
}

func (c *Chat) Handle(ctx context.Context, req Request) (Response, error) {
	in := chatInput{Message: req.Message, Snapshot: req.SnapshotID}
	for _, t := range Recent(req.History, c.cfg.ChatHistoryPairs) {
		in.History = append(in.History, Turn{Role: t.Role, Content: Truncate(t.Content, maxMessageRune)})
	}
	text, err := askText(ctx, c.client, PhaseChat, c.cfg.ChatTemperature, chatPrompt, in)
	if err != nil {
		return Response{}, fmt.Errorf("chat: %w", err)
	}
	c.log.Info("chat answer", zap.Int("chars", len(text)), zap.Int("history", len(in.History)))
	return Response{
		Answer: text,
		Agent:  NameChat,
		Metadata: map[string]any{
			"temperature":   c.cfg.ChatTemperature,
			"history_pairs": c.cfg.ChatHistoryPairs,
		},
	}, nil
}
