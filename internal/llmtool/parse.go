package llmtool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ActionEnvelope is a model's choice between calling a tool, running a pipeline, or answering.
type ActionEnvelope struct {
	Action    string          `json:"action,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Pipeline  string          `json:"pipeline,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	Final     json.RawMessage `json:"final,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
}

// ParseAction parses the LLM response into an action envelope.
// A reply with none of the envelope fields is treated as the final answer.
func ParseAction(raw json.RawMessage) (ActionEnvelope, error) {
	var env ActionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ActionEnvelope{}, err
	}
	env.Action = strings.ToLower(strings.TrimSpace(env.Action))
	if env.Action == "" && env.ToolName == "" && env.Pipeline == "" && len(env.Final) == 0 {
		env.Action = "final"
		env.Final = raw
	}
	if env.Action == "" {
		switch {
		case len(env.Final) > 0:
			env.Action = "final"
		case env.Pipeline != "":
			env.Action = "pipeline"
		case env.ToolName != "" || len(env.ToolInput) > 0:
			env.Action = "tool"
		}
	}
	switch env.Action {
	case "final", "tool", "pipeline":
		return env, nil
	default:
		return ActionEnvelope{}, fmt.Errorf("llmtool: invalid action %q", env.Action)
	}
}

// Decode unmarshals raw into out, keeping numbers as json.Number for generic targets.
func Decode(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("llmtool: decode response: %w", err)
	}
	return nil
}
