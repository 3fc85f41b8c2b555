package llm

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	llmclient "smartplanning/internal/llmClient"
)

// UsageLedger aggregates daily LLM usage into a JSON file.
type UsageLedger struct {
	mu   sync.Mutex
	path string
}

type usageLedgerFile struct {
	UpdatedAt string              `json:"updated_at"`
	Days      map[string]usageDay `json:"days"`
}

type usageDay struct {
	Requests int64                `json:"requests"`
	Tokens   int64                `json:"tokens"`
	Errors   int64                `json:"errors"`
	Models   map[string]usageStat `json:"models"`
}

type usageStat struct {
	Requests         int64 `json:"requests"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	Tokens           int64 `json:"tokens"`
	Errors           int64 `json:"errors"`
}

func NewUsageLedger(path string) *UsageLedger {
	return &UsageLedger{path: path}
}

// WithUsageLedger records provider-reported usage, or an estimate when the provider reports none.
func WithUsageLedger(path string) Middleware {
	if path == "" {
		return nil
	}
	ledger := NewUsageLedger(path)
	return func(next llmclient.LLMClient) llmclient.LLMClient {
		return &usageLedgerClient{passthrough: passthrough{next}, ledger: ledger}
	}
}

type usageLedgerClient struct {
	passthrough
	ledger *UsageLedger
}

func (u *usageLedgerClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	var (
		mu       sync.Mutex
		reported llmclient.Usage
		seen     bool
	)
	ctx = llmclient.WithUsageRecorder(ctx, func(_ string, usage llmclient.Usage) {
		mu.Lock()
		reported = reported.Add(usage)
		seen = true
		mu.Unlock()
	})
	out, err := u.next.GenerateJSON(ctx, prompt, input)
	mu.Lock()
	usage := reported
	if !seen {
		in, _ := json.Marshal(input)
		est := u.next.CountTokens(prompt + "\n" + string(in))
		usage = llmclient.Usage{PromptTokens: est, TotalTokens: est}
	}
	mu.Unlock()
	u.ledger.Record(u.next.Name(), usage, err != nil)
	return out, err
}

// Record adds one request to today's totals. Write failures are ignored.
func (l *UsageLedger) Record(model string, usage llmclient.Usage, hasErr bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dayKey := time.Now().UTC().Format("2006-01-02")
	f := usageLedgerFile{Days: map[string]usageDay{}}
	if b, err := os.ReadFile(l.path); err == nil {
		_ = json.Unmarshal(b, &f)
		if f.Days == nil {
			f.Days = map[string]usageDay{}
		}
	}

	d := f.Days[dayKey]
	if d.Models == nil {
		d.Models = map[string]usageStat{}
	}
	d.Requests++
	d.Tokens += int64(usage.TotalTokens)
	m := d.Models[model]
	m.Requests++
	m.PromptTokens += int64(usage.PromptTokens)
	m.CompletionTokens += int64(usage.CompletionTokens)
	m.Tokens += int64(usage.TotalTokens)
	if hasErr {
		d.Errors++
		m.Errors++
	}
	d.Models[model] = m
	f.Days[dayKey] = d
	f.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, l.path)
}
