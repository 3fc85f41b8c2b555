package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartplanning/internal/correction"
	"smartplanning/internal/planning"
	"smartplanning/internal/snapshot"
	"smartplanning/internal/workspace"
)

// TextStore is the part of the storage accessor the audit log needs.
type TextStore interface {
	AppendText(ctx context.Context, snapshotID, path, text string) error
	SaveBytes(ctx context.Context, snapshotID, path string, content []byte) error
	LoadBytes(ctx context.Context, snapshotID, path string) ([]byte, error)
	SaveJSON(ctx context.Context, snapshotID, path string, v any) error
}

// Warnings longer than this are shortened to their first listed items.
const (
	longWarning     = 300
	keptWarnedItems = 5
)

// Log appends human-readable sections to a snapshot's metadata.txt.
type Log struct {
	store TextStore
	mu    sync.Mutex
	now   func() time.Time
	log   *zap.Logger
}

func NewLog(store TextStore, log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{store: store, now: time.Now, log: log}
}

// SnapshotInfo starts metadata.txt with the snapshot's service metadata.
// An existing file is replaced.
func (l *Log) SnapshotInfo(ctx context.Context, info planning.SnapshotInfo) error {
	var b strings.Builder
	b.WriteString("# SNAPSHOT INFORMATIONS\n\n")
	writeJSONBlock(&b, info)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.SaveBytes(ctx, info.ID, workspace.FileMetadata, []byte(b.String()))
}

// Validation appends a validation section. Iteration 0 is the initial run.
func (l *Log) Validation(ctx context.Context, snapshotID string, iteration int, msgs snapshot.Messages) error {
	var b strings.Builder
	if iteration <= 0 {
		b.WriteString("\n## INITIAL VALIDATION (First Run)\n\n")
	} else {
		fmt.Fprintf(&b, "\n## VALIDATION Iteration %d\n\n", iteration)
	}
	fmt.Fprintf(&b, "**Validated at:** %s\n", l.stamp())
	fmt.Fprintf(&b, "**Total messages:** %d\n", len(msgs))
	fmt.Fprintf(&b, "**Summary:** %s\n", Summary(msgs))
	if msgs.HasErrors() {
		b.WriteString("**Status:** Has Errors - Not Valid!\n\n")
	} else {
		b.WriteString("**Status:** Valid\n\n")
	}
	if len(msgs) > 0 {
		writeJSONBlock(&b, ShortenWarnings(msgs))
	}
	return l.append(ctx, snapshotID, b.String())
}

// Upload describes one upload of the corrected snapshot.
type Upload struct {
	Iteration       int
	Info            planning.SnapshotInfo
	ServerValidated bool
}

func (l *Log) Upload(ctx context.Context, u Upload) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\n## UPLOAD Iteration %d\n\n", u.Iteration)
	fmt.Fprintf(&b, "**Uploaded at:** %s\n", l.stamp())
	fmt.Fprintf(&b, "**Server validated:** %t\n", u.ServerValidated)
	if u.Info.DataModifiedAt != "" {
		fmt.Fprintf(&b, "**Modified at:** %s\n", u.Info.DataModifiedAt)
	}
	if u.Info.DataModifiedBy != "" {
		fmt.Fprintf(&b, "**Modified by:** %s\n", u.Info.DataModifiedBy)
	}
	if u.ServerValidated {
		b.WriteString("\nSNAPSHOT IS VALID\n")
	} else {
		b.WriteString("\nSNAPSHOT HAS ERRORS\n")
	}
	return l.append(ctx, u.Info.ID, b.String())
}

// RecordCorrection appends the entry of one applied correction.
func (l *Log) RecordCorrection(ctx context.Context, a correction.Applied) error {
	return l.append(ctx, a.SnapshotID, CorrectionEntry(a))
}

// CorrectionEntry renders the metadata section of an applied correction.
func CorrectionEntry(a correction.Applied) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n### LLM Correction Applied (Iteration %d)\n\n", a.Iteration)
	fmt.Fprintf(&b, "**Applied at:** %s\n", a.AppliedAt.UTC().Format(time.RFC3339))
	if a.Generator != "" {
		fmt.Fprintf(&b, "**Generator:** %s\n", a.Generator)
	}

	b.WriteString("\n**Original Error:**\n")
	fmt.Fprintf(&b, "- Level: %s\n- Message: %s\n", strings.ToUpper(string(a.OriginalError.Level)), a.OriginalError.Message)

	b.WriteString("\n**Error Analysis:**\n")
	fmt.Fprintf(&b, "- Error type: %s\n", orDash(a.ErrorAnalyzed.ErrorType))
	fmt.Fprintf(&b, "- Search mode: %s\n", orDash(a.ErrorAnalyzed.SearchMode))
	fmt.Fprintf(&b, "- Search value: %s\n", orDash(a.ErrorAnalyzed.SearchValue))
	fmt.Fprintf(&b, "- Results found: %d\n", a.ErrorAnalyzed.ResultsCount)
	if len(a.ErrorAnalyzed.ResultPaths) > 0 {
		fmt.Fprintf(&b, "- Located at: %s\n", strings.Join(a.ErrorAnalyzed.ResultPaths, ", "))
	}
	if len(a.ErrorAnalyzed.Candidates) > 0 {
		fmt.Fprintf(&b, "- Candidates considered: %s\n", strings.Join(a.ErrorAnalyzed.Candidates, ", "))
	}

	if a.ManualIntervention {
		b.WriteString("\n**MANUAL INTERVENTION REQUIRED**\n\n")
		b.WriteString("No automated fix was applied; the snapshot is unchanged.\n")
		fmt.Fprintf(&b, "- Target: %s\n", orDash(a.TargetPath))
		fmt.Fprintf(&b, "- Reason: %s\n", a.Reasoning)
	} else {
		b.WriteString("\n**Correction Applied:**\n")
		fmt.Fprintf(&b, "- Action: %s\n", a.Action)
		fmt.Fprintf(&b, "- Target path: %s\n", a.TargetPath)
		fmt.Fprintf(&b, "- Old value: %s\n", inline(a.OldValue))
		fmt.Fprintf(&b, "- New value: %s\n", inline(a.NewValue))
		fmt.Fprintf(&b, "- Reasoning: %s\n", a.Reasoning)
		if d := Diff(a.OldValue, a.NewValue); d != "" {
			b.WriteString("\n```diff\n")
			b.WriteString(d)
			b.WriteString("```\n")
		}
	}

	if a.ReferenceDataUsed {
		b.WriteString("\n**IMPORTANT: Reference Data Fallback Used**\n\n")
		fmt.Fprintf(&b, "%d entities were copied from the reference snapshot into %s. ", a.ReferenceCount, a.TargetPath)
		b.WriteString("They are not derived from this snapshot's data; manual verification is recommended.\n")
	}

	if len(a.Additional) > 0 {
		fmt.Fprintf(&b, "\n**Additional Updates (%d):**\n", len(a.Additional))
		for _, u := range a.Additional {
			fmt.Fprintf(&b, "- %s: %s -> %s\n", u.TargetPath, inline(u.OldValue), inline(u.NewValue))
		}
	}

	b.WriteString("\n**Original proposal:**\n\n")
	writeJSONBlock(&b, a.Proposal)
	return b.String()
}

// Summary renders "N ERROR, M WARNING" or the no-issue line.
func Summary(msgs snapshot.Messages) string {
	if len(msgs) == 0 {
		return "No validation issues found"
	}
	var parts []string
	for _, lvl := range []snapshot.Level{snapshot.LevelError, snapshot.LevelWarning, snapshot.LevelInfo} {
		if n := msgs.Count(lvl); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToUpper(string(lvl))))
		}
	}
	return strings.Join(parts, ", ")
}

// ShortenWarnings returns msgs with long listing warnings cut to their first items.
// A warning qualifies when it exceeds 300 characters, has a "prefix: " and lists
// more than five comma-separated items.
func ShortenWarnings(msgs snapshot.Messages) snapshot.Messages {
	out := make(snapshot.Messages, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.Level != snapshot.LevelWarning || len(m.Message) <= longWarning {
			continue
		}
		prefix, list, ok := strings.Cut(m.Message, ": ")
		if !ok {
			continue
		}
		items := strings.Split(list, ",")
		if len(items) <= keptWarnedItems {
			continue
		}
		kept := make([]string, keptWarnedItems)
		for j := range kept {
			kept[j] = strings.TrimSpace(items[j])
		}
		out[i].Message = fmt.Sprintf("%s: %s, ... and %d more", prefix, strings.Join(kept, ", "), len(items)-keptWarnedItems)
	}
	return out
}

func (l *Log) append(ctx context.Context, snapshotID, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.AppendText(ctx, snapshotID, workspace.FileMetadata, text); err != nil {
		l.log.Warn("metadata not written", zap.String("snapshot_id", snapshotID), zap.Error(err))
		return fmt.Errorf("append metadata: %w", err)
	}
	return nil
}

func (l *Log) stamp() string {
	return l.now().UTC().Format(time.RFC3339)
}

func writeJSONBlock(b *strings.Builder, v any) {
	raw, err := snapshot.EncodeJSON(v)
	if err != nil {
		raw = []byte(fmt.Sprintf("%q", fmt.Sprint(v)))
	}
	b.WriteString("```json\n")
	b.Write(bytes.TrimRight(raw, "\n"))
	b.WriteString("\n```\n")
}

func inline(v any) string {
	if v == nil {
		return "null"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
