package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"smartplanning/internal/llm"
	llmclient "smartplanning/internal/llmClient"
	"smartplanning/internal/llmtool"
	"smartplanning/internal/snapshot"
)

// PhaseIdentify labels the model call that analyses an unclassified message.
const PhaseIdentify = "identify"

// LLMCall is the persisted record of one model exchange.
type LLMCall struct {
	Phase       string          `json:"phase"`
	Model       string          `json:"model"`
	Temperature float32         `json:"temperature"`
	Prompt      string          `json:"prompt"`
	Input       any             `json:"input"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	Usage       llmclient.Usage `json:"usage"`
}

// Identifier turns a validation message into an Identification, with rules
// first and the model as a fallback.
type Identifier struct {
	client llmclient.LLMClient
	log    *zap.Logger
}

// NewIdentifier builds an identifier. client may be nil; unclassified messages
// are then reported as not investigable.
func NewIdentifier(client llmclient.LLMClient, log *zap.Logger) *Identifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Identifier{client: client, log: log}
}

type identifyAnswer struct {
	SearchMode        string `json:"search_mode"`
	SearchValue       any    `json:"search_value"`
	ErrorType         string `json:"error_type"`
	ShouldInvestigate bool   `json:"should_investigate"`
}

var identifySchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "search_mode": {"type": "string", "enum": ["value", "empty_field"]},
    "search_value": {"type": "string"},
    "error_type": {"type": "string"},
    "should_investigate": {"type": "boolean"}
  },
  "required": ["search_mode", "search_value", "error_type", "should_investigate"]
}`)

var identifyPrompt = llmtool.MustRender(llmtool.StructuredPromptSpec{
	Purpose:    "Analyse one validation error of a production-planning snapshot and decide what to search for.",
	Background: "Messages come from the planning API validator. They usually start with the validator name in brackets.",
	OutputFields: []llmtool.PromptField{
		{Name: "search_mode", Type: "string", Required: true, Enum: []string{"value", "empty_field"},
			Description: "value when the error names a concrete identifier or invalid value; empty_field when a field has no value"},
		{Name: "search_value", Type: "string", Required: true,
			Description: "the identifier to search for (value mode) or the field name (empty_field mode)"},
		{Name: "error_type", Type: "string", Required: true, Description: "short description of the error"},
		{Name: "should_investigate", Type: "boolean", Required: true,
			Description: "false when the message names nothing that can be located in the data"},
	},
	Rules: []string{
		"Never invent identifiers that are not in the message.",
		"Use the exact spelling of the identifier, including case and underscores.",
	},
	OutputFormat: "A single JSON object.",
	Examples: []llmtool.PromptExample{
		{InputJSON: `{"message":"Duplicate demand IDs found: D830081_005"}`,
			OutputJSON: `{"search_mode":"value","search_value":"D830081_005","error_type":"duplicate demand id","should_investigate":true}`},
		{InputJSON: `{"message":"Demand IDs must not be empty"}`,
			OutputJSON: `{"search_mode":"empty_field","search_value":"demandId","error_type":"empty demand id","should_investigate":true}`},
	},
})

// Identify classifies msg. The returned call is nil when the rules sufficed.
func (i *Identifier) Identify(ctx context.Context, msg snapshot.Message) (Identification, *LLMCall, error) {
	if id, ok := Classify(msg); ok {
		return id, nil, nil
	}
	id := Identification{Message: msg, Validator: msg.Validator(), Kind: KindUnknown, SearchMode: ModeValue, Source: "rules"}
	if i.client == nil {
		i.log.Info("message not classified and no model configured", zap.String("message", msg.Message))
		return id, nil, nil
	}

	const temperature = 0.3
	var (
		mu    sync.Mutex
		usage llmclient.Usage
		model string
	)
	ctx = llm.WithPhase(ctx, PhaseIdentify)
	ctx = llmclient.WithTemperature(ctx, temperature)
	ctx = llmclient.WithSchema(ctx, llmclient.Schema{Name: "error_identification", Schema: identifySchema})
	ctx = llmclient.WithUsageRecorder(ctx, func(m string, u llmclient.Usage) {
		mu.Lock()
		defer mu.Unlock()
		usage = usage.Add(u)
		model = m
	})

	input := map[string]any{"level": string(msg.Level), "message": msg.Message}
	call := &LLMCall{Phase: PhaseIdentify, Model: i.client.Name(), Temperature: temperature, Prompt: identifyPrompt, Input: input}
	raw, err := i.client.GenerateJSON(ctx, identifyPrompt, input)
	mu.Lock()
	call.Usage = usage
	if model != "" {
		call.Model = model
	}
	mu.Unlock()
	if err != nil {
		call.Error = err.Error()
		return id, call, fmt.Errorf("identify error: %w", err)
	}
	call.Response = raw

	var ans identifyAnswer
	if err := llmtool.Decode(raw, &ans); err != nil {
		call.Error = err.Error()
		return id, call, fmt.Errorf("identify error: %w", err)
	}
	id.Source = "llm"
	id.SearchValue = strings.TrimSpace(snapshot.Scalar(ans.SearchValue))
	if Mode(ans.SearchMode) == ModeEmptyField {
		id.SearchMode = ModeEmptyField
		if c, ok := snapshot.CollectionForIDField(id.SearchValue); ok {
			id.Collection = c.Name
			id.Field = c.IDField
			id.Kind = KindEmptyID
		}
	}
	id.ShouldInvestigate = ans.ShouldInvestigate && id.SearchValue != ""
	i.log.Debug("message identified by model",
		zap.String("search_mode", string(id.SearchMode)),
		zap.String("search_value", id.SearchValue),
		zap.String("error_type", ans.ErrorType),
		zap.Bool("should_investigate", id.ShouldInvestigate),
	)
	return id, call, nil
}
