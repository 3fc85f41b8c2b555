package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartplanning/internal/llm"
	llmclient "smartplanning/internal/llmClient"
	"smartplanning/internal/llmtool"
	"smartplanning/internal/workspace"
)

const PhaseAuditReport = "audit_report"

var ErrNoMetadata = errors.New("no metadata recorded for snapshot")

// Stats is written to audit-report-stats.json.
type Stats struct {
	GeneratedAt time.Time       `json:"generated_at"`
	SnapshotID  string          `json:"snapshot_id"`
	Generator   string          `json:"generator"`
	TokenUsage  llmclient.Usage `json:"token_usage"`
	ReportFile  string          `json:"report_file"`
}

// Reporter turns a snapshot's metadata.txt into audit-report.md.
// Without a client it writes a summary computed from the metadata alone.
type Reporter struct {
	client llmclient.LLMClient
	store  TextStore
	now    func() time.Time
	log    *zap.Logger
}

func NewReporter(client llmclient.LLMClient, store TextStore, log *zap.Logger) *Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{client: client, store: store, now: time.Now, log: log}
}

var reportPrompt = llmtool.MustRender(llmtool.StructuredPromptSpec{
	Purpose: "Write an audit report of an automated correction run on a production-planning snapshot.",
	Background: "metadata is the run's log: the snapshot information, every validation result, every applied " +
		"correction with its reasoning, and every upload.",
	OutputFields: []llmtool.PromptField{
		{Name: "report_markdown", Type: "string", Required: true, Description: "the complete report in Markdown"},
	},
	Rules: []string{
		"Start with an executive summary: initial and final error counts and whether the snapshot is valid.",
		"List every correction with its iteration, target, old and new value and the reasoning.",
		"Give manual interventions and reference data fallbacks their own section; they need human review.",
		"End with recommendations for the remaining errors.",
	},
	Constraints:  []string{"Use only facts present in metadata.", "Do not invent identifiers or counts."},
	OutputFormat: `{"report_markdown": "..."}`,
	Language:     "English",
})

// Generate writes audit-report.md and audit-report-stats.json for the snapshot.
func (r *Reporter) Generate(ctx context.Context, snapshotID string) (Stats, error) {
	raw, err := r.store.LoadBytes(ctx, snapshotID, workspace.FileMetadata)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			return Stats{}, fmt.Errorf("%w: %s", ErrNoMetadata, snapshotID)
		}
		return Stats{}, err
	}
	metadata := string(raw)

	stats := Stats{SnapshotID: snapshotID, ReportFile: workspace.FileAuditReport, Generator: "summary"}
	var report string
	if r.client != nil {
		report, stats.TokenUsage, err = r.ask(ctx, snapshotID, metadata)
		if err != nil {
			return Stats{}, err
		}
		stats.Generator = "llm:" + r.client.Name()
	} else {
		report = Summarize(snapshotID, metadata)
	}

	if err := r.store.SaveBytes(ctx, snapshotID, workspace.FileAuditReport, []byte(report)); err != nil {
		return Stats{}, err
	}
	stats.GeneratedAt = r.now().UTC()
	if err := r.store.SaveJSON(ctx, snapshotID, workspace.FileAuditStats, stats); err != nil {
		return Stats{}, err
	}
	r.log.Info("audit report generated",
		zap.String("snapshot_id", snapshotID),
		zap.String("generator", stats.Generator),
		zap.Int("total_tokens", stats.TokenUsage.TotalTokens),
	)
	return stats, nil
}

func (r *Reporter) ask(ctx context.Context, snapshotID, metadata string) (string, llmclient.Usage, error) {
	var (
		mu    sync.Mutex
		usage llmclient.Usage
	)
	ctx = llm.WithPhase(ctx, PhaseAuditReport)
	ctx = llmclient.WithTemperature(ctx, 0.3)
	ctx = llmclient.WithUsageRecorder(ctx, func(_ string, u llmclient.Usage) {
		mu.Lock()
		defer mu.Unlock()
		usage = usage.Add(u)
	})
	raw, err := r.client.GenerateJSON(ctx, reportPrompt, map[string]any{
		"snapshot_id": snapshotID,
		"metadata":    metadata,
	})
	if err != nil {
		return "", usage, fmt.Errorf("generate audit report: %w", err)
	}
	var out struct {
		Report string `json:"report_markdown"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", usage, fmt.Errorf("decode audit report: %w", err)
	}
	if strings.TrimSpace(out.Report) == "" {
		return "", usage, fmt.Errorf("generate audit report: empty report")
	}
	mu.Lock()
	defer mu.Unlock()
	return strings.TrimSpace(out.Report) + "\n", usage, nil
}

var (
	correctionHeading = regexp.MustCompile(`(?m)^### LLM Correction Applied \(Iteration (\d+)\)`)
	summaryLine       = regexp.MustCompile(`(?m)^\*\*Summary:\*\* (.+)$`)
	statusLine        = regexp.MustCompile(`(?m)^\*\*Status:\*\* (.+)$`)
	actionLine        = regexp.MustCompile(`(?m)^- (Action|Target path|Reasoning): (.+)$`)
)

// Summarize builds a report from the metadata text without a model.
func Summarize(snapshotID, metadata string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Audit Report: %s\n\n", snapshotID)

	summaries := summaryLine.FindAllStringSubmatch(metadata, -1)
	statuses := statusLine.FindAllStringSubmatch(metadata, -1)
	b.WriteString("## Executive Summary\n\n")
	if len(summaries) > 0 {
		fmt.Fprintf(&b, "- Initial validation: %s\n", summaries[0][1])
		fmt.Fprintf(&b, "- Final validation: %s\n", summaries[len(summaries)-1][1])
	}
	if len(statuses) > 0 {
		fmt.Fprintf(&b, "- Final status: %s\n", statuses[len(statuses)-1][1])
	}

	sections := correctionHeading.FindAllStringSubmatchIndex(metadata, -1)
	manual := strings.Count(metadata, "**MANUAL INTERVENTION REQUIRED**")
	reference := strings.Count(metadata, "**IMPORTANT: Reference Data Fallback Used**")
	fmt.Fprintf(&b, "- Corrections recorded: %d\n", len(sections))
	fmt.Fprintf(&b, "- Manual interventions: %d\n", manual)
	fmt.Fprintf(&b, "- Reference data fallbacks: %d\n", reference)

	if len(sections) > 0 {
		b.WriteString("\n## Corrections\n\n")
	}
	for i, loc := range sections {
		end := len(metadata)
		if i+1 < len(sections) {
			end = sections[i+1][0]
		}
		body := metadata[loc[0]:end]
		fmt.Fprintf(&b, "### Iteration %s\n\n", metadata[loc[2]:loc[3]])
		if strings.Contains(body, "**MANUAL INTERVENTION REQUIRED**") {
			b.WriteString("- Manual intervention required\n")
		}
		for _, m := range actionLine.FindAllStringSubmatch(body, -1) {
			fmt.Fprintf(&b, "- %s: %s\n", m[1], m[2])
		}
		if strings.Contains(body, "Reference Data Fallback Used") {
			b.WriteString("- Reference data was copied in; verify it manually\n")
		}
		b.WriteString("\n")
	}
	if manual > 0 || reference > 0 {
		b.WriteString("## Needs Review\n\n")
		b.WriteString("Manual interventions and reference data fallbacks above were not derived from the snapshot itself.\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
