package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	llmclient "smartplanning/internal/llmClient"
	"smartplanning/internal/mcp"
	"smartplanning/internal/planning"
)

// PipelineDef is a named sequence of tool steps run on one snapshot.
type PipelineDef struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
}

// Pipelines are the compositions the SP agent may choose. Only explicit
// requests for a complete workflow should select one.
var Pipelines = []PipelineDef{
	{
		Name:        "full_correction",
		Description: "Complete correction: validate, correct every error, upload and re-validate until valid.",
		Steps:       []string{mcp.ToolCorrectSnapshot},
	},
	{
		Name:        "correction_from_validation",
		Description: "Correct the top error of an already validated snapshot, upload and re-validate.",
		Steps:       []string{mcp.ToolGenerateCorrection, mcp.ToolCheckCorrection, mcp.ToolApplyCorrection, mcp.ToolUpdateSnapshot},
	},
	{
		Name:        "analyze_only",
		Description: "Validate, then generate and schema-check a correction without changing the snapshot.",
		Steps:       []string{mcp.ToolValidateSnapshot, mcp.ToolGenerateCorrection, mcp.ToolCheckCorrection},
	},
	{
		Name:        "apply_and_upload",
		Description: "Apply the stored correction proposal, upload and re-validate.",
		Steps:       []string{mcp.ToolApplyCorrection, mcp.ToolUpdateSnapshot},
	},
}

func pipelineByName(name string) (PipelineDef, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, " pipeline")
	for _, p := range Pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return PipelineDef{}, false
}

// StepResult is the outcome of one tool step.
type StepResult struct {
	Tool     string          `json:"tool"`
	Success  bool            `json:"success"`
	Attempts int             `json:"attempts"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Recovery tells the user what to do about a failed step.
type Recovery struct {
	ErrorType   string `json:"error_type"`
	FailedStep  string `json:"failed_step,omitempty"`
	MissingStep string `json:"missing_step,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// Outcome is the result of a tool or pipeline run by the SP agent.
type Outcome struct {
	ActionType string       `json:"action_type"`
	ActionName string       `json:"action_name"`
	SnapshotID string       `json:"snapshot_id,omitempty"`
	Success    bool         `json:"success"`
	Steps      []StepResult `json:"steps"`
	FailedAt   string       `json:"failed_at,omitempty"`
	Error      string       `json:"error,omitempty"`
	Recovery   *Recovery    `json:"recovery_suggestion,omitempty"`
}

// Permanent reports whether repeating a failed step cannot help.
func Permanent(err error) bool {
	if err == nil {
		return false
	}
	var perm *llmclient.PermanentError
	if errors.Is(err, planning.ErrNotFound) || errors.Is(err, planning.ErrUnauthorized) || errors.As(err, &perm) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"not found", "does not exist", "status 404", "status 401", "status 403",
		"rejected credentials", "client_secret", "no stored correction proposal",
		"invalid input", "is required", "unknown tool",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// SuggestRecovery classifies the failure of step.
func SuggestRecovery(step string, err error) Recovery {
	msg := ""
	if err != nil {
		msg = strings.ToLower(err.Error())
	}
	switch {
	case strings.Contains(msg, "no stored correction proposal"):
		return Recovery{ErrorType: "missing_prerequisite", FailedStep: step, MissingStep: mcp.ToolGenerateCorrection,
			Suggestion: "run " + mcp.ToolGenerateCorrection + " first, then repeat " + step}
	case errors.Is(err, planning.ErrNotFound) || strings.Contains(msg, "not found") || strings.Contains(msg, "status 404"):
		return Recovery{ErrorType: "snapshot_not_found", FailedStep: step,
			Suggestion: "check the snapshot id or name; list_snapshots shows the available ones"}
	case errors.Is(err, planning.ErrUnauthorized) || strings.Contains(msg, "credentials") ||
		strings.Contains(msg, "client_secret") || strings.Contains(msg, "status 401") || strings.Contains(msg, "status 403"):
		return Recovery{ErrorType: "authentication_failed", FailedStep: step,
			Suggestion: "check CLIENT_SECRET and the planning client configuration"}
	case strings.Contains(msg, "validat") || strings.Contains(step, "validate"):
		return Recovery{ErrorType: "validation_error", FailedStep: step,
			Suggestion: "the snapshot has errors that cannot be corrected automatically"}
	}
	return Recovery{ErrorType: "unknown", FailedStep: step}
}

// callStep runs one tool, repeating it up to retries times unless the
// failure is permanent.
func (s *SP) callStep(ctx context.Context, tool string, input json.RawMessage, retries int) (StepResult, error) {
	res := StepResult{Tool: tool}
	var err error
	for attempt := 1; attempt <= retries+1; attempt++ {
		res.Attempts = attempt
		var out json.RawMessage
		out, err = s.tools.Call(ctx, tool, input)
		if err == nil {
			res.Success = true
			res.Output = out
			res.Error = ""
			return res, nil
		}
		res.Error = err.Error()
		s.log.Warn("sp step failed", zap.String("tool", tool), zap.Int("attempt", attempt), zap.Error(err))
		if Permanent(err) || attempt > retries {
			break
		}
		if werr := sleep(ctx, s.cfg.RetryDelay); werr != nil {
			return res, werr
		}
	}
	return res, err
}

func (s *SP) runPipeline(ctx context.Context, p PipelineDef, snapshotID string) Outcome {
	out := Outcome{ActionType: "pipeline", ActionName: p.Name, SnapshotID: snapshotID}
	input, _ := json.Marshal(map[string]string{"snapshot_id": snapshotID})
	s.log.Info("sp pipeline", zap.String("pipeline", p.Name), zap.String("snapshot_id", snapshotID))
	for _, step := range p.Steps {
		res, err := s.callStep(ctx, step, input, s.cfg.StepRetries)
		out.Steps = append(out.Steps, res)
		if err != nil {
			rec := SuggestRecovery(step, err)
			out.FailedAt = step
			out.Error = err.Error()
			out.Recovery = &rec
			s.log.Error("sp pipeline stopped", zap.String("pipeline", p.Name), zap.String("step", step),
				zap.Int("attempts", res.Attempts), zap.String("recovery", rec.ErrorType))
			return out
		}
	}
	out.Success = true
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
