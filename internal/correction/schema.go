package correction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"smartplanning/internal/extract"
	"smartplanning/internal/snapshot"
	"smartplanning/internal/workspace"
)

// MaxSchemaRetries bounds the re-prompts after the first rejected answer.
const MaxSchemaRetries = 5

// ArtifactWriter persists iteration files.
type ArtifactWriter interface {
	SaveJSON(ctx context.Context, snapshotID, path string, v any) error
}

// Attempt is the outcome of one answer, the first one included.
type Attempt struct {
	Attempt     int             `json:"attempt"`
	Valid       bool            `json:"valid"`
	Errors      []string        `json:"errors,omitempty"`
	Raw         json.RawMessage `json:"response,omitempty"`
	TotalTokens *int            `json:"total_tokens,omitempty"`
}

// SchemaReport is written to schema-validation.json.
type SchemaReport struct {
	SnapshotID  string    `json:"snapshot_id"`
	Iteration   int       `json:"iteration"`
	Valid       bool      `json:"valid"`
	Status      string    `json:"status"`
	Retries     int       `json:"retries"`
	MaxRetries  int       `json:"max_retries"`
	Attempts    []Attempt `json:"attempts"`
	ValidatedAt time.Time `json:"validated_at"`
}

const (
	StatusValid               = "valid"
	StatusInvalidAfterRetries = "invalid-after-retries"
)

// Validated is an accepted proposal with the calls it took to get there.
type Validated struct {
	Proposal Proposal
	Plan     Plan
	Raw      json.RawMessage
	Report   SchemaReport
	Calls    []*extract.LLMCall
}

// SchemaValidator checks answers and re-prompts the generator on failure.
type SchemaValidator struct {
	gen        Generator
	writer     ArtifactWriter
	opts       CheckOptions
	maxRetries int
	now        func() time.Time
	log        *zap.Logger
}

func NewSchemaValidator(gen Generator, writer ArtifactWriter, opts CheckOptions, log *zap.Logger) *SchemaValidator {
	if log == nil {
		log = zap.NewNop()
	}
	return &SchemaValidator{gen: gen, writer: writer, opts: opts, maxRetries: MaxSchemaRetries, now: time.Now, log: log}
}

// Validate checks first and, while it is rejected, asks the generator for a
// repaired answer at most MaxSchemaRetries times. The first rejected answer is
// stored as retry 0 and the k-th repair as retry k. After the budget is spent
// the error wraps ErrInvalidAfterRetries.
func (v *SchemaValidator) Validate(ctx context.Context, req Request, doc *snapshot.Document, first Generation) (Validated, error) {
	report := SchemaReport{SnapshotID: req.SnapshotID, Iteration: req.Iteration, MaxRetries: v.maxRetries}
	out := Validated{}
	if first.Call != nil {
		out.Calls = append(out.Calls, first.Call)
	}

	gen := first
	for attempt := 0; ; attempt++ {
		p, plan, problems := v.check(gen.Raw, doc)
		a := Attempt{Attempt: attempt, Valid: problems == nil, Errors: problems}
		if gen.Call != nil {
			tokens := gen.Call.Usage.TotalTokens
			a.TotalTokens = &tokens
		}
		if attempt > 0 {
			a.Raw = gen.Raw
			v.save(ctx, req, workspace.RetryFile(attempt), rawOrNull(gen.Raw))
		}
		report.Attempts = append(report.Attempts, a)

		if problems == nil {
			report.Valid, report.Status, report.Retries = true, StatusValid, attempt
			v.finish(ctx, req, &report)
			v.log.Info("correction proposal valid",
				zap.String("snapshot_id", req.SnapshotID),
				zap.Int("iteration", req.Iteration),
				zap.Int("retries", attempt),
			)
			out.Proposal, out.Plan, out.Raw, out.Report = p, plan, gen.Raw, report
			return out, nil
		}

		v.log.Warn("correction proposal rejected",
			zap.String("snapshot_id", req.SnapshotID),
			zap.Int("iteration", req.Iteration),
			zap.Int("attempt", attempt),
			zap.Strings("errors", problems),
		)
		if attempt == 0 {
			v.save(ctx, req, workspace.RetryFile(0), rawOrNull(gen.Raw))
		}
		if attempt >= v.maxRetries {
			report.Status, report.Retries = StatusInvalidAfterRetries, attempt
			v.finish(ctx, req, &report)
			out.Report = report
			return out, fmt.Errorf("%w: %d retries, last errors: %v", ErrInvalidAfterRetries, attempt, problems)
		}

		next, err := v.gen.Repair(ctx, req, gen.Raw, problems)
		if next.Call != nil {
			out.Calls = append(out.Calls, next.Call)
		}
		if err != nil && !errors.Is(err, ErrMalformed) {
			report.Status, report.Retries = "error", attempt
			v.finish(ctx, req, &report)
			out.Report = report
			return out, fmt.Errorf("schema retry %d: %w", attempt+1, err)
		}
		gen = next
	}
}

// ErrMalformed marks a generator answer that was not JSON at all; the
// validator treats it as a rejected answer instead of a failure.
var ErrMalformed = errors.New("malformed model answer")

func (v *SchemaValidator) check(raw json.RawMessage, doc *snapshot.Document) (Proposal, Plan, []string) {
	if len(raw) == 0 {
		return Proposal{}, Plan{}, []string{"response is empty or not JSON"}
	}
	p, err := ParseRaw(raw)
	if err != nil {
		return p, Plan{}, ErrorStrings(err)
	}
	plan, err := p.Parse()
	if err != nil {
		return p, Plan{}, ErrorStrings(err)
	}
	if doc != nil {
		if err := Check(plan, doc, v.opts); err != nil {
			return p, plan, ErrorStrings(err)
		}
	}
	return p, plan, nil
}

func (v *SchemaValidator) finish(ctx context.Context, req Request, report *SchemaReport) {
	report.ValidatedAt = v.now().UTC()
	v.save(ctx, req, workspace.FileSchemaValidation, report)
}

func (v *SchemaValidator) save(ctx context.Context, req Request, name string, body any) {
	if v.writer == nil {
		return
	}
	if err := v.writer.SaveJSON(ctx, req.SnapshotID, workspace.IterationPath(req.Iteration, name), body); err != nil {
		v.log.Warn("schema validation artifact not saved", zap.String("file", name), zap.Error(err))
	}
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
