package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const groqDefaultURL = "https://api.groq.com/openai/v1/chat/completions"

// GroqClient calls the Groq Chat Completions API (OpenAI-compatible) and asks for JSON.
type GroqClient struct {
	http     *http.Client
	apiKey   string
	model    string
	baseURL  string
	tokenCap int
}

// NewGroqClient falls back to GROQ_API_KEY when apiKey is empty.
func NewGroqClient(apiKey, model string, tokenCap int) (*GroqClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	if tokenCap <= 0 {
		tokenCap = 6000
	}
	return &GroqClient{
		http:     &http.Client{Timeout: 90 * time.Second},
		apiKey:   apiKey,
		model:    model,
		baseURL:  groqDefaultURL,
		tokenCap: tokenCap,
	}, nil
}

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func (g *GroqClient) WithBaseURL(u string) *GroqClient {
	g.baseURL = u
	return g
}

func (g *GroqClient) Name() string                { return "Groq:" + g.model }
func (g *GroqClient) Close() error                { return nil }
func (g *GroqClient) CountTokens(text string) int { return CountTokens(text) }
func (g *GroqClient) TokenCapacity() int          { return g.tokenCap }

type groqChatReq struct {
	Model          string            `json:"model"`
	Messages       []groqMessage     `json:"messages"`
	Temperature    float32           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}
type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
type groqChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func (g *GroqClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	reqBody := groqChatReq{
		Model: g.model,
		Messages: []groqMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: "[INPUT JSON]\n" + renderInput(input)},
		},
		Temperature:    TemperatureFrom(ctx),
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	b, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("groq: unexpected status %s: %s", resp.Status, string(body))
		if resp.StatusCode == http.StatusUnauthorized ||
			(resp.StatusCode == http.StatusBadRequest && strings.Contains(string(body), `"code":"context_length_exceeded"`)) {
			return nil, NewPermanentError(err)
		}
		return nil, err
	}
	var out groqChatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return nil, ErrInvalidJSON
	}
	ReportUsage(ctx, g.Name(), out.Usage)
	return ExtractJSON(out.Choices[0].Message.Content)
}
