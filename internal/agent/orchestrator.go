package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	llmclient "smartplanning/internal/llmClient"
	"smartplanning/internal/llmtool"
)

var routePrompt = llmtool.MustRender(llmtool.StructuredPromptSpec{
	Purpose: "Decide which assistant handles the user's message.",
	Background: "chat: general conversation and explanations. rag: questions about internal documents, guidelines, " +
		"technical specifications and processes. sp: Smart Planning snapshot operations (create, fetch, validate, " +
		"correct, upload, rename, delete, audit report) and questions about a snapshot's state. " +
		"clarify: the message cannot be understood even with history.",
	OutputFields: []llmtool.PromptField{
		{Name: "agent", Type: "string", Required: true, Enum: []string{"chat", "rag", "sp", "clarify"}},
		{Name: "reason", Type: "string", Required: true, Description: "short justification"},
		{Name: "search_query", Type: "string", Description: "an optimised search query, only for rag"},
	},
	Rules: []string{
		"Pronouns without a referent in history (\"that\", \"it\") mean clarify.",
		"Follow-ups to a snapshot operation (\"upload it\", \"what are the 4 warnings?\") go to sp.",
		"Clear questions go to chat or rag.",
	},
	OutputFormat: `{"agent": "rag", "reason": "...", "search_query": "..."}`,
})

var clarifyPrompt = llmtool.MustRender(llmtool.StructuredPromptSpec{
	Purpose:      "The user's message is unclear. Ask one or two polite, precise questions that would clarify it.",
	OutputFields: []llmtool.PromptField{answerField},
	OutputFormat: `{"answer": "..."}`,
	Language:     "The language of the user's message.",
})

const clarifyFallback = "Sorry, I did not quite understand your request. Could you say a bit more about what you need?"

// Route is the orchestrator's routing decision.
type Route struct {
	Agent       Name   `json:"agent"`
	Reason      string `json:"reason"`
	SearchQuery string `json:"search_query,omitempty"`
}

type routeInput struct {
	Message string `json:"message"`
	History string `json:"history"`
}

// Orchestrator routes each message to one agent and answers unclear ones
// itself.
type Orchestrator struct {
	client llmclient.LLMClient
	agents map[Name]Agent
	cfg    Config
	log    *zap.Logger
}

func NewOrchestrator(client llmclient.LLMClient, cfg Config, log *zap.Logger, agents ...Agent) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{client: client, agents: map[Name]Agent{}, cfg: cfg.withDefaults(), log: log}
	for _, a := range agents {
		if a != nil {
			o.agents[a.Name()] = a
		}
	}
	return o
}

// Route asks the model for a routing decision. Failures and targets without
// an agent fall back to chat.
func (o *Orchestrator) Route(ctx context.Context, req Request) Route {
	var r Route
	err := ask(ctx, o.client, PhaseRoute, o.cfg.RouterTemperature, routePrompt, routeInput{
		Message: req.Message,
		History: transcript(Recent(req.History, 2), 300),
	}, &r)
	r.Agent = Name(strings.ToLower(strings.TrimSpace(string(r.Agent))))
	switch {
	case err != nil:
		o.log.Warn("routing failed, falling back to chat", zap.Error(err))
		return Route{Agent: NameChat, Reason: "routing failed: " + err.Error()}
	case r.Agent == NameClarify:
		return r
	case o.agents[r.Agent] == nil:
		o.log.Warn("routing chose an unavailable agent", zap.String("agent", string(r.Agent)))
		return Route{Agent: NameChat, Reason: fmt.Sprintf("agent %q unavailable; %s", r.Agent, r.Reason)}
	}
	return r
}

// Handle routes req and returns the chosen agent's answer. Agent failures are
// answered with an apology rather than returned.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	route := o.Route(ctx, req)
	o.log.Info("routed", zap.String("agent", string(route.Agent)), zap.String("reason", route.Reason))

	var resp Response
	if route.Agent == NameClarify {
		resp = o.clarify(ctx, req)
	} else {
		sub := req
		if route.Agent == NameRAG && strings.TrimSpace(route.SearchQuery) != "" {
			sub.Message = route.SearchQuery
		}
		a := o.agents[route.Agent]
		if a == nil {
			return Response{}, fmt.Errorf("agent: no %s agent registered", route.Agent)
		}
		var err error
		resp, err = a.Handle(ctx, sub)
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			o.log.Error("agent failed", zap.String("agent", string(route.Agent)), zap.Error(err))
			resp = Response{
				Answer:   "Sorry, something went wrong while handling your request: " + err.Error(),
				Agent:    route.Agent,
				Metadata: map[string]any{"error": err.Error()},
			}
		}
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	resp.Metadata["route"] = route
	if resp.SnapshotID == "" {
		resp.SnapshotID = req.SnapshotID
	}
	return resp, nil
}

func (o *Orchestrator) clarify(ctx context.Context, req Request) Response {
	text, err := askText(ctx, o.client, PhaseClarify, o.cfg.ClarifyTemperature, clarifyPrompt, chatInput{
		Message: req.Message,
		History: Recent(req.History, 2),
	})
	if err != nil {
		o.log.Warn("clarify failed", zap.Error(err))
		text = clarifyFallback
	}
	return Response{Answer: text, Agent: NameClarify}
}
