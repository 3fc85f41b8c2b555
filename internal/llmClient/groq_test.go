package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGroqGenerateJSONReportsUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req groqChatReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.ResponseFormat["type"] != "json_object" || len(req.Messages) != 2 {
			t.Errorf("unexpected request: %+v", req)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing auth header")
		}
		content, _ := json.Marshal("```json\n{\"action\":\"update_field\"}\n```")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":`+string(content)+`}}],`+
			`"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	}))
	defer srv.Close()

	cli, _ := NewGroqClient("k", "m", 0)
	cli.WithBaseURL(srv.URL)

	var got Usage
	ctx := WithUsageRecorder(context.Background(), func(_ string, u Usage) { got = got.Add(u) })
	raw, err := cli.GenerateJSON(ctx, "system", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(raw) != `{"action":"update_field"}` {
		t.Fatalf("unexpected body %s", raw)
	}
	if got.TotalTokens != 15 || got.PromptTokens != 10 {
		t.Fatalf("unexpected usage %+v", got)
	}
}

func TestGroqContextLengthIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":"context_length_exceeded"}}`)
	}))
	defer srv.Close()

	cli, _ := NewGroqClient("k", "m", 0)
	cli.WithBaseURL(srv.URL)
	_, err := cli.GenerateJSON(context.Background(), "p", nil)
	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                        `{"a":1}`,
		"```json\n{\"a\":1}\n```":        `{"a":1}`,
		"Here you go: {\"a\":1} thanks.": `{"a":1}`,
		"[1,2]":                          `[1,2]`,
	}
	for in, want := range cases {
		got, err := ExtractJSON(in)
		if err != nil || string(got) != want {
			t.Fatalf("ExtractJSON(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ExtractJSON("no json here"); !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestUsageRecordersChain(t *testing.T) {
	var a, b int
	ctx := WithUsageRecorder(context.Background(), func(string, Usage) { a++ })
	ctx = WithUsageRecorder(ctx, func(string, Usage) { b++ })
	ReportUsage(ctx, "m", Usage{PromptTokens: 1})
	if a != 1 || b != 1 {
		t.Fatalf("expected both recorders called, got %d %d", a, b)
	}
}

func TestFactoryHeuristic(t *testing.T) {
	_, err := New(context.Background(), ProviderConfig{Provider: "heuristic"})
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
	if _, err := New(context.Background(), ProviderConfig{Provider: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
