package agent

import (
	"context"
	"fmt"
	"strings"

	"smartplanning/internal/llm"
	llmclient "smartplanning/internal/llmClient"
	"smartplanning/internal/llmtool"
)

// answer is the reply shape of every free-text prompt.
type answer struct {
	Answer string `json:"answer"`
}

var answerField = llmtool.PromptField{Name: "answer", Type: "string", Required: true, Description: "the reply to the user, plain text or Markdown"}

func ask(ctx context.Context, client llmclient.LLMClient, phase string, temperature float32, prompt string, input, out any) error {
	ctx = llm.WithPhase(ctx, phase)
	ctx = llmclient.WithTemperature(ctx, temperature)
	raw, err := client.GenerateJSON(ctx, prompt, input)
	if err != nil {
		return err
	}
	return llmtool.Decode(raw, out)
}

func askText(ctx context.Context, client llmclient.LLMClient, phase string, temperature float32, prompt string, input any) (string, error) {
	var a answer
	if err := ask(ctx, client, phase, temperature, prompt, input, &a); err != nil {
		return "", err
	}
	text := strings.TrimSpace(a.Answer)
	if text == "" {
		return "", fmt.Errorf("%s: empty answer", phase)
	}
	return text, nil
}
