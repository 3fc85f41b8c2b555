package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"smartplanning/internal/workspace"
)

// TraceEvent is one line of a snapshot's trace.jsonl.
type TraceEvent struct {
	Timestamp  string         `json:"timestamp"`
	SnapshotID string         `json:"snapshot_id"`
	RunID      string         `json:"run_id,omitempty"`
	Source     string         `json:"source"`
	Stage      string         `json:"stage"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// TraceLogger appends events to the snapshot's trace.jsonl in the workspace.
// Write failures are dropped; the trace never fails a run.
type TraceLogger struct {
	store TextStore
	mu    sync.Mutex
	now   func() time.Time
}

func NewTraceLogger(store TextStore) *TraceLogger {
	return &TraceLogger{store: store, now: time.Now}
}

// Append writes one trace line for the snapshot.
func (l *TraceLogger) Append(ctx context.Context, snapshotID, runID, source, stage string, fields map[string]any) {
	if l == nil || strings.TrimSpace(snapshotID) == "" {
		return
	}
	event := TraceEvent{
		Timestamp:  l.now().UTC().Format(time.RFC3339Nano),
		SnapshotID: strings.TrimSpace(snapshotID),
		RunID:      strings.TrimSpace(runID),
		Source:     strings.TrimSpace(source),
		Stage:      strings.TrimSpace(stage),
	}
	if len(fields) > 0 {
		event.Fields = fields
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	raw = append(raw, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.store.AppendText(ctx, event.SnapshotID, workspace.FileTrace, string(raw))
}

// Read returns the persisted events of a snapshot, optionally only one run's.
func (l *TraceLogger) Read(ctx context.Context, snapshotID, runID string) ([]TraceEvent, error) {
	if l == nil {
		return nil, nil
	}
	l.mu.Lock()
	raw, err := l.store.LoadBytes(ctx, snapshotID, workspace.FileTrace)
	l.mu.Unlock()
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			return []TraceEvent{}, nil
		}
		return nil, fmt.Errorf("read trace: %w", err)
	}

	out := make([]TraceEvent, 0, 64)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev TraceEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if runID != "" && ev.RunID != runID {
			continue
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan trace: %w", err)
	}
	return out, nil
}

type ctxKeyRun struct{}

type runRef struct{ snapshotID, runID string }

// WithRun tags ctx with the snapshot and run its LLM calls belong to.
func WithRun(ctx context.Context, snapshotID, runID string) context.Context {
	return context.WithValue(ctx, ctxKeyRun{}, runRef{snapshotID, runID})
}

// RunFrom returns the snapshot and run stored by WithRun.
func RunFrom(ctx context.Context) (snapshotID, runID string) {
	r, _ := ctx.Value(ctxKeyRun{}).(runRef)
	return r.snapshotID, r.runID
}

// Hook returns an llm.PromptHook that traces model exchanges of tagged contexts.
func (l *TraceLogger) Hook() *TraceHook { return &TraceHook{trace: l} }

// TraceHook writes llm.request and llm.response trace events.
type TraceHook struct {
	trace *TraceLogger
}

func (h *TraceHook) Before(ctx context.Context, phase, prompt string, input any) {
	snapshotID, runID := RunFrom(ctx)
	if snapshotID == "" {
		return
	}
	fields := map[string]any{"phase": phase, "prompt_chars": len(prompt)}
	if raw, err := json.Marshal(input); err == nil {
		fields["input_chars"] = len(raw)
	}
	h.trace.Append(ctx, snapshotID, runID, "llm", "llm.request", fields)
}

func (h *TraceHook) After(ctx context.Context, phase string, raw json.RawMessage, err error) {
	snapshotID, runID := RunFrom(ctx)
	if snapshotID == "" {
		return
	}
	fields := map[string]any{"phase": phase, "response_chars": len(raw)}
	if err != nil {
		fields["error"] = err.Error()
	}
	h.trace.Append(ctx, snapshotID, runID, "llm", "llm.response", fields)
}
