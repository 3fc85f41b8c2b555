package correction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"smartplanning/internal/extract"
	"smartplanning/internal/llm"
	llmclient "smartplanning/internal/llmClient"
	"smartplanning/internal/llmtool"
	"smartplanning/internal/snapshot"
)

const (
	PhaseCorrection  = "correction"
	PhaseSchemaRetry = "schema_retry"
)

// Request is the input of one generation.
type Request struct {
	SnapshotID string
	Iteration  int
	Message    snapshot.Message
	Context    *extract.Context
}

// Analysis summarises the request's context for the proposal envelope.
func (r Request) Analysis() ErrorAnalyzed {
	if r.Context == nil {
		return ErrorAnalyzed{}
	}
	a := ErrorAnalyzed{
		SearchMode:   string(r.Context.SearchMode),
		SearchValue:  r.Context.SearchValue,
		ErrorType:    string(r.Context.Kind),
		ResultsCount: r.Context.ResultsCount,
	}
	// Both lists are already capped by the extractor.
	for _, res := range r.Context.Results {
		a.ResultPaths = append(a.ResultPaths, res.Path)
	}
	for _, c := range r.Context.Hints.Candidates {
		a.Candidates = append(a.Candidates, c.Value)
	}
	return a
}

// Generation is one raw answer. Call is nil for generators that do not use a model.
type Generation struct {
	Raw  json.RawMessage
	Call *extract.LLMCall
}

// Generator proposes corrections. Its output is untrusted until validated.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (Generation, error)
	// Repair asks again after previous was rejected for problems.
	Repair(ctx context.Context, req Request, previous json.RawMessage, problems []string) (Generation, error)
}

// LLMGenerator asks a model for a proposal constrained to the proposal schema.
type LLMGenerator struct {
	client      llmclient.LLMClient
	rules       *Rules
	temperature float32
	log         *zap.Logger
}

func NewLLMGenerator(client llmclient.LLMClient, rules *Rules, log *zap.Logger) *LLMGenerator {
	if log == nil {
		log = zap.NewNop()
	}
	if rules == nil {
		rules = StaticRules(defaultRules)
	}
	return &LLMGenerator{client: client, rules: rules, temperature: 0.3, log: log}
}

func (g *LLMGenerator) Name() string { return "llm:" + g.client.Name() }

var proposalSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "action": {"type": "string", "enum": ["update_field", "add_to_array", "remove_from_array", "manual_intervention_required"]},
    "target_path": {"type": "string"},
    "current_value": {},
    "new_value": {},
    "reasoning": {"type": "string"},
    "additional_updates": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "target_path": {"type": "string"},
          "current_value": {},
          "new_value": {}
        },
        "required": ["target_path", "new_value"]
      }
    }
  },
  "required": ["action", "target_path", "current_value", "new_value", "reasoning"]
}`)

var proposalFields = []llmtool.PromptField{
	{Name: "action", Type: "string", Required: true,
		Enum:        []string{string(ActionUpdateField), string(ActionAddToArray), string(ActionRemoveFromArray), string(ActionManualIntervention)},
		Description: "the single edit to perform"},
	{Name: "target_path", Type: "string", Required: true,
		Description: "collection, collection[i], collection[i].field or collection[i].field[j], taken from a search result path"},
	{Name: "current_value", Type: "any", Required: true, Description: "the value found at target_path; the match filter for remove_from_array on a collection"},
	{Name: "new_value", Type: "any", Required: true, Description: "the corrected value, a full entity for add_to_array, USE_REFERENCE_DATA for the reference fallback, null for manual intervention"},
	{Name: "reasoning", Type: "string", Required: true, Description: "why this edit fixes the error, or why no automated fix exists"},
	{Name: "additional_updates", Type: "array", Description: "update_field edits that propagate the main edit, each {target_path, current_value, new_value}"},
}

var decisionRules = []string{
	"Fix root causes (empty or missing fields) before their symptoms (dangling references) when the error names both.",
	"Keep error_analysis.search_mode: value means a concrete or invalid-but-present value is wrong, empty_field means a field has no value. Treat the error in that mode and use the search_results it produced; never switch modes.",
	"Copy target_path from the path of a search result; append or replace only the field name. Never use an identifier value as an array index.",
	"If search_results.manual_intervention_required is true, answer manual_intervention_required and quote the reason.",
	"If search_results.fallback_solution is reference_data, answer update_field on the bare collection with new_value USE_REFERENCE_DATA and say that manual verification is recommended.",
	"Duplicate identifiers: rename a later occurrence with the next free _2, _3 suffix and update the references that belong to it in additional_updates.",
	"Empty identifiers: continue the sequence shown in format_patterns (hints.next_id).",
	"Dangling references: use the closest existing identifier (hints.candidates); never create the referenced entity; keep its exact spelling.",
	"Nested arrays: replace a placeholder element in place, otherwise extend the array with a value from the most similar entity.",
	"Never introduce a value that already occurs elsewhere in the same array; prefer the candidate whose category matches the rest of the array.",
}

func (g *LLMGenerator) prompt(feedback string) string {
	return llmtool.MustRender(llmtool.StructuredPromptSpec{
		Purpose: "Propose one correction that removes a validation error from a production-planning snapshot.",
		Background: "The input holds the original validation error, the error analysis, and search_results: the located entities " +
			"with enriched_context (field_examples, format_patterns, related_entities, all_valid_ids), similar_entities, " +
			"array_context, available_targets and deterministic hints. reference_data_* fields are present only when a " +
			"reference snapshot may be used.",
		Reference:    g.rules.Text(),
		OutputFields: proposalFields,
		Rules:        decisionRules,
		Constraints:  []string{"Answer with exactly one proposal.", "Do not wrap the answer in prose or code fences."},
		OutputFormat: "A single JSON object with the output fields.",
		Feedback:     feedback,
	})
}

func (g *LLMGenerator) input(req Request) map[string]any {
	return map[string]any{
		"original_error": req.Message,
		"error_analysis": req.Analysis(),
		"search_results": req.Context,
	}
}

func (g *LLMGenerator) Generate(ctx context.Context, req Request) (Generation, error) {
	return g.call(ctx, PhaseCorrection, g.prompt(""), g.input(req))
}

func (g *LLMGenerator) Repair(ctx context.Context, req Request, previous json.RawMessage, problems []string) (Generation, error) {
	feedback := "Your previous answer was rejected:\n- " + strings.Join(problems, "\n- ") +
		"\nReturn a corrected proposal that fixes every listed problem."
	in := g.input(req)
	in["previous_response"] = string(previous)
	in["validation_errors"] = problems
	return g.call(ctx, PhaseSchemaRetry, g.prompt(feedback), in)
}

func (g *LLMGenerator) call(ctx context.Context, phase, prompt string, input any) (Generation, error) {
	var (
		mu    sync.Mutex
		usage llmclient.Usage
		model string
	)
	ctx = llm.WithPhase(ctx, phase)
	ctx = llmclient.WithTemperature(ctx, g.temperature)
	ctx = llmclient.WithSchema(ctx, llmclient.Schema{Name: "correction_proposal", Schema: proposalSchema})
	ctx = llmclient.WithUsageRecorder(ctx, func(m string, u llmclient.Usage) {
		mu.Lock()
		defer mu.Unlock()
		usage = usage.Add(u)
		model = m
	})

	call := &extract.LLMCall{Phase: phase, Model: g.client.Name(), Temperature: g.temperature, Prompt: prompt, Input: input}
	raw, err := g.client.GenerateJSON(ctx, prompt, input)
	mu.Lock()
	call.Usage = usage
	if model != "" {
		call.Model = model
	}
	mu.Unlock()
	if err != nil {
		call.Error = err.Error()
		g.log.Warn("correction generation failed", zap.String("phase", phase), zap.Error(err))
		if errors.Is(err, llmclient.ErrInvalidJSON) {
			return Generation{Call: call}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Generation{Call: call}, fmt.Errorf("generate correction: %w", err)
	}
	call.Response = raw
	g.log.Debug("correction generated", zap.String("phase", phase), zap.Int("total_tokens", call.Usage.TotalTokens))
	return Generation{Raw: raw, Call: call}, nil
}
