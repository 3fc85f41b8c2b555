package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	llmclient "smartplanning/internal/llmClient"
	"smartplanning/internal/llmtool"
	"smartplanning/internal/mcp"
)

// ToolRunner is the tool table as the SP agent drives it.
type ToolRunner interface {
	Specs() []mcp.ToolSpec
	Call(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error)
}

var intentPrompt = llmtool.MustRender(llmtool.StructuredPromptSpec{
	Purpose: "Choose the Smart Planning operation that serves the user's message.",
	Background: "tools lists the single operations with their input; pipelines lists complete workflows. " +
		"snapshot_id is the snapshot the conversation is about, empty when unknown.",
	OutputFields: []llmtool.PromptField{
		{Name: "action", Type: "string", Required: true, Enum: []string{"tool", "pipeline", "final"},
			Description: "run one tool, run one pipeline, or answer directly (only to ask for a missing snapshot)"},
		{Name: "tool_name", Type: "string", Description: "name of the tool when action is tool"},
		{Name: "tool_input", Type: "object", Description: "tool input following the tool's input schema"},
		{Name: "pipeline", Type: "string", Description: "name of the pipeline when action is pipeline"},
		{Name: "final", Type: "string", Description: "the answer when action is final"},
		{Name: "reasoning", Type: "string", Required: true, Description: "one sentence why"},
	},
	Rules: []string{
		"Prefer a single tool; choose a pipeline only when the user explicitly wants the complete workflow.",
		"Questions about a snapshot (its name, status, errors, warnings) use validate_snapshot, never rename_snapshot or generate_audit_report.",
		"rename_snapshot only on an explicit rename request; copy new_name exactly as the user wrote it.",
		"Correcting a snapshot that was just validated uses correction_from_validation; otherwise full_correction.",
		"A snapshot id in the message wins; \"it\" or \"the snapshot\" refers to snapshot_id; a snapshot name goes into identifier.",
		"Uploading without correction uses update_snapshot.",
	},
	OutputFormat: `{"action": "tool", "tool_name": "validate_snapshot", "tool_input": {"snapshot_id": "..."}, "reasoning": "..."}`,
	Examples: []llmtool.PromptExample{
		{InputJSON: `{"message": "fetch snapshot Production Plan"}`,
			OutputJSON: `{"action": "tool", "tool_name": "download_snapshot", "tool_input": {"identifier": "Production Plan"}, "reasoning": "fetch by name"}`},
		{InputJSON: `{"message": "fix the errors", "snapshot_id": "0f8e..."}`,
			OutputJSON: `{"action": "pipeline", "pipeline": "correction_from_validation", "reasoning": "already validated"}`},
	},
})

var resultPrompt = llmtool.MustRender(llmtool.StructuredPromptSpec{
	Purpose: "Tell the user the result of the Smart Planning operation that was run for their message.",
	Background: "outcome holds the operation, every step with its output, and on failure the failed step with a " +
		"recovery suggestion. A snapshot is valid when it has no errors; warnings do not make it invalid.",
	OutputFields: []llmtool.PromptField{answerField},
	Rules: []string{
		"Answer directly as the expert; do not say \"the agent reports\".",
		"After create_snapshot mention name, id and isSuccessfullyValidated.",
		"On failure explain what went wrong and offer the recovery suggestion.",
		"List errors and warnings only when asked or when they are critical.",
		"When the user asks for raw data, return the output unchanged in a json code block.",
	},
	OutputFormat: `{"answer": "..."}`,
	Language:     "The language of the user's message.",
})

// SP runs Smart Planning tools and pipelines chosen by the model.
type SP struct {
	client llmclient.LLMClient
	tools  ToolRunner
	cfg    Config
	log    *zap.Logger
}

func NewSP(client llmclient.LLMClient, tools ToolRunner, cfg Config, log *zap.Logger) *SP {
	if log == nil {
		log = zap.NewNop()
	}
	return &SP{client: client, tools: tools, cfg: cfg.withDefaults(), log: log}
}

func (s *SP) Name() Name { return NameSP }

type intentInput struct {
	Message    string          `json:"message"`
	History    string          `json:"history"`
	SnapshotID string          `json:"snapshot_id"`
	Tools      json.RawMessage `json:"tools"`
	Pipelines  []PipelineDef   `json:"pipelines"`
}

type resultInput struct {
	Message string  `json:"message"`
	History string  `json:"history"`
	Outcome Outcome `json:"outcome"`
}

func (s *SP) Handle(ctx context.Context, req Request) (Response, error) {
	snapshotID := SnapshotIDFrom(req.Message, req.History, req.SnapshotID)
	var intent llmtool.ActionEnvelope
	var raw json.RawMessage
	err := ask(ctx, s.client, PhaseSPIntent, s.cfg.IntentTemperature, intentPrompt, intentInput{
		Message:    req.Message,
		History:    transcript(Recent(req.History, 3), 300),
		SnapshotID: snapshotID,
		Tools:      formatSpecs(s.tools.Specs()),
		Pipelines:  Pipelines,
	}, &raw)
	if err == nil {
		intent, err = llmtool.ParseAction(raw)
	}
	if err != nil {
		return Response{}, fmt.Errorf("sp intent: %w", err)
	}
	s.log.Info("sp intent", zap.String("action", intent.Action), zap.String("tool", intent.ToolName),
		zap.String("pipeline", intent.Pipeline), zap.String("snapshot_id", snapshotID), zap.String("reasoning", intent.Reasoning))

	var out Outcome
	switch intent.Action {
	case "final":
		return Response{Answer: finalText(intent.Final), Agent: NameSP, SnapshotID: snapshotID}, nil
	case "pipeline":
		p, ok := pipelineByName(intent.Pipeline)
		if !ok {
			return Response{}, fmt.Errorf("sp intent: unknown pipeline %q", intent.Pipeline)
		}
		if snapshotID == "" {
			return s.needSnapshot(p.Name), nil
		}
		out = s.runPipeline(ctx, p, snapshotID)
	case "tool":
		out = s.runTool(ctx, intent.ToolName, intent.ToolInput, snapshotID)
	}

	text, err := askText(ctx, s.client, PhaseSPResult, s.cfg.ResultTemperature, resultPrompt, resultInput{
		Message: req.Message,
		History: transcript(Recent(req.History, 2), 300),
		Outcome: out,
	})
	if err != nil {
		s.log.Warn("sp result interpretation failed", zap.Error(err))
		text = out.Summary()
	}
	return Response{
		Answer:     text,
		Agent:      NameSP,
		SnapshotID: out.SnapshotID,
		Metadata:   map[string]any{"outcome": out, "reasoning": intent.Reasoning},
	}, nil
}

func (s *SP) needSnapshot(action string) Response {
	return Response{
		Answer:   fmt.Sprintf("Which snapshot should I use for %s? Give me its id or name.", action),
		Agent:    NameSP,
		Metadata: map[string]any{"missing": "snapshot_id"},
	}
}

func (s *SP) runTool(ctx context.Context, tool string, input json.RawMessage, snapshotID string) Outcome {
	input = withSnapshot(input, snapshotID, s.acceptsSnapshot(tool))
	out := Outcome{ActionType: "tool", ActionName: tool, SnapshotID: snapshotID}
	res, err := s.callStep(ctx, tool, input, 0)
	out.Steps = []StepResult{res}
	if err != nil {
		rec := SuggestRecovery(tool, err)
		out.FailedAt = tool
		out.Error = err.Error()
		out.Recovery = &rec
		return out
	}
	out.Success = true
	if id := outputSnapshotID(res.Output); id != "" {
		out.SnapshotID = id
	}
	return out
}

func (s *SP) acceptsSnapshot(tool string) bool {
	for _, spec := range s.tools.Specs() {
		if spec.Name == tool {
			return bytes.Contains(spec.InputSchema, []byte(`"snapshot_id"`))
		}
	}
	return false
}

// withSnapshot sets snapshot_id on input unless it already names a snapshot.
func withSnapshot(input json.RawMessage, snapshotID string, accepts bool) json.RawMessage {
	fields := map[string]any{}
	if len(bytes.TrimSpace(input)) > 0 {
		if err := json.Unmarshal(input, &fields); err != nil {
			return input
		}
	}
	if accepts && snapshotID != "" && fields["snapshot_id"] == nil && fields["identifier"] == nil {
		fields["snapshot_id"] = snapshotID
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return input
	}
	return b
}

func outputSnapshotID(out json.RawMessage) string {
	var v struct {
		SnapshotID string `json:"snapshot_id"`
		ID         string `json:"id"`
	}
	if json.Unmarshal(out, &v) != nil {
		return ""
	}
	if v.SnapshotID != "" {
		return v.SnapshotID
	}
	return v.ID
}

func finalText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// formatSpecs renders tool specs as compact JSON for a prompt.
func formatSpecs(specs []mcp.ToolSpec) json.RawMessage {
	if specs == nil {
		specs = []mcp.ToolSpec{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(specs)
	return bytes.TrimSpace(buf.Bytes())
}

// Summary describes the outcome without a model.
func (o Outcome) Summary() string {
	var b strings.Builder
	if o.Success {
		fmt.Fprintf(&b, "%s %s finished", o.ActionName, o.ActionType)
	} else {
		fmt.Fprintf(&b, "%s %s failed at %s: %s", o.ActionName, o.ActionType, o.FailedAt, o.Error)
	}
	if o.SnapshotID != "" {
		fmt.Fprintf(&b, " (snapshot %s)", o.SnapshotID)
	}
	b.WriteString(".")
	if o.Recovery != nil && o.Recovery.Suggestion != "" {
		b.WriteString(" Suggestion: ")
		b.WriteString(o.Recovery.Suggestion)
		b.WriteString(".")
	}
	return b.String()
}
