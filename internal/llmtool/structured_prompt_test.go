package llmtool

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRenderSectionsInOrder(t *testing.T) {
	spec := StructuredPromptSpec{
		Purpose:   "Propose one correction.",
		Reference: "## Fix rules\n- keep formatting",
		OutputFields: []PromptField{
			{Name: "action", Type: "string", Required: true, Enum: []string{"update_field", "add_to_array"}},
			{Name: "reasoning", Type: "string"},
		},
		Rules:    []string{"One error at a time.", " "},
		Feedback: "target_path is required",
		Examples: []PromptExample{{InputJSON: `{"error":"x"}`, OutputJSON: `{"action":"update_field"}`}},
	}
	out, err := Render(spec)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	order := []string{"[PURPOSE]", "[REFERENCE]", "[OUTPUT]", "[RULES]", "[EXAMPLES]", "[PREVIOUS_ANSWER_REJECTED]"}
	last := -1
	for _, s := range order {
		i := strings.Index(out, s)
		if i < 0 || i < last {
			t.Fatalf("section %s missing or out of order:\n%s", s, out)
		}
		last = i
	}
	if strings.Contains(out, "[BACKGROUND]") || strings.Contains(out, "[ASSUMPTIONS]") {
		t.Fatalf("empty sections must be skipped:\n%s", out)
	}
	if !strings.Contains(out, "- action (string, required): One of: update_field, add_to_array.") {
		t.Fatalf("enum not rendered:\n%s", out)
	}
}

func TestRenderRejectsIncompleteSpec(t *testing.T) {
	if _, err := Render(StructuredPromptSpec{Purpose: "x"}); err == nil {
		t.Fatalf("expected error without output fields")
	}
	if _, err := Render(StructuredPromptSpec{OutputFields: []PromptField{{Name: "a"}}}); err == nil {
		t.Fatalf("expected error without purpose")
	}
}

func TestParseAction(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"action":"tool","tool_name":"validate"}`, "tool"},
		{`{"pipeline":"full_correction"}`, "pipeline"},
		{`{"tool_name":"download"}`, "tool"},
		{`{"answer":"hi"}`, "final"},
	}
	for _, c := range cases {
		env, err := ParseAction(json.RawMessage(c.in))
		if err != nil || env.Action != c.want {
			t.Fatalf("ParseAction(%s) = %+v, %v", c.in, env, err)
		}
	}
	if _, err := ParseAction(json.RawMessage(`{"action":"dance"}`)); err == nil {
		t.Fatalf("expected invalid action error")
	}
}
