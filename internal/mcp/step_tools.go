package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"smartplanning/internal/autocorrect"
	"smartplanning/internal/snapshot"
	"smartplanning/internal/workspace"
)

// --------------------- correction steps ---------------------

type stepDef struct {
	name string
	step autocorrect.Step
	desc string
}

var stepTools = []stepDef{
	{ToolDownloadSnapshot, autocorrect.StepDownload, "Fetch a snapshot (by id or exact name) into the workspace."},
	{ToolValidateSnapshot, autocorrect.StepValidate, "Validate a snapshot on the server and show its errors, warnings and name. Use it whenever the user asks for details."},
	{ToolIdentifyError, autocorrect.StepIdentify, "Analyse the highest-priority validation error and locate it in the snapshot. Needs a validation."},
	{ToolGenerateCorrection, autocorrect.StepGenerate, "Generate and schema-check a correction proposal for the highest-priority error without applying it."},
	{ToolCheckCorrection, autocorrect.StepCheckSchema, "Check the latest stored correction proposal against the snapshot."},
	{ToolApplyCorrection, autocorrect.StepApply, "Apply the latest stored correction proposal to the local working copy."},
	{ToolUpdateSnapshot, autocorrect.StepUpload, "Upload the local working copy to the server and re-validate it. Use for explicit upload requests."},
}

type stepTool struct {
	host Host
	def  stepDef
}

func newStepTool(h Host, d stepDef) *stepTool { return &stepTool{host: h, def: d} }

func (t *stepTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.def.name,
		Description: t.def.desc,
		InputSchema: json.RawMessage(`{"snapshot_id":"string","identifier":"string"}`),
	}
}

// ValidationSummary is the compact validation view tools report.
type ValidationSummary struct {
	IsValid        bool               `json:"is_valid"`
	Errors         int                `json:"errors"`
	Warnings       int                `json:"warnings"`
	ErrorDetails   []snapshot.Message `json:"error_details,omitempty"`
	WarningDetails []snapshot.Message `json:"warning_details,omitempty"`
}

func Summarize(msgs snapshot.Messages) ValidationSummary {
	s := ValidationSummary{
		Errors:   msgs.Count(snapshot.LevelError),
		Warnings: msgs.Count(snapshot.LevelWarning),
	}
	s.IsValid = s.Errors == 0
	for _, m := range msgs {
		switch {
		case m.Level == snapshot.LevelError && len(s.ErrorDetails) < 3:
			s.ErrorDetails = append(s.ErrorDetails, m)
		case m.Level == snapshot.LevelWarning && len(s.WarningDetails) < 5:
			s.WarningDetails = append(s.WarningDetails, m)
		}
	}
	return s
}

// StepOutput is what every correction step tool returns.
type StepOutput struct {
	SnapshotID string             `json:"snapshot_id"`
	RunID      string             `json:"run_id"`
	Status     autocorrect.Status `json:"status"`
	Summary    string             `json:"summary,omitempty"`
	Validation *ValidationSummary `json:"validation,omitempty"`
}

func (t *stepTool) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in snapshotRef
	if err := decode(t.def.name, input, &in); err != nil {
		return nil, err
	}
	id, err := t.host.resolveID(ctx, t.def.name, in)
	if err != nil {
		return nil, err
	}
	res, err := t.host.Engine.RunStep(ctx, t.def.step, autocorrect.Request{SnapshotID: id})
	if err != nil {
		return nil, err
	}
	if res.Status == autocorrect.StatusAborted {
		return nil, &ToolError{Tool: t.def.name, Reason: res.Reason}
	}
	out := StepOutput{SnapshotID: id, RunID: res.RunID, Status: res.Status, Summary: res.Reason}
	if t.def.step == autocorrect.StepValidate || t.def.step == autocorrect.StepUpload {
		if v, ok := t.host.validation(ctx, id); ok {
			out.Validation = &v
		}
	}
	return json.Marshal(out)
}

func (h Host) validation(ctx context.Context, id string) (ValidationSummary, bool) {
	if h.Workspace == nil {
		return ValidationSummary{}, false
	}
	msgs, err := h.Workspace.LoadMessages(ctx, id, workspace.FileValidation)
	if err != nil {
		return ValidationSummary{}, false
	}
	return Summarize(msgs), true
}

// --------------------- correct_snapshot ---------------------

type correctSnapshotTool struct{ host Host }

func newCorrectSnapshotTool(h Host) *correctSnapshotTool { return &correctSnapshotTool{host: h} }

func (t *correctSnapshotTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        ToolCorrectSnapshot,
		Description: "Run the full correction loop (validate, correct, upload, re-validate) until the snapshot is valid or the iteration cap is hit.",
		InputSchema: json.RawMessage(`{"snapshot_id":"string","max_iterations":"int"}`),
	}
}

func (t *correctSnapshotTool) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		snapshotRef
		MaxIterations int `json:"max_iterations"`
	}
	if err := decode(ToolCorrectSnapshot, input, &in); err != nil {
		return nil, err
	}
	id, err := t.host.resolveID(ctx, ToolCorrectSnapshot, in.snapshotRef)
	if err != nil {
		return nil, err
	}
	res, err := t.host.Engine.Run(ctx, autocorrect.Request{SnapshotID: id, MaxIterations: in.MaxIterations})
	if err != nil {
		return nil, err
	}
	if res.Status == autocorrect.StatusAborted {
		return nil, &ToolError{Tool: ToolCorrectSnapshot, Reason: res.Reason}
	}
	return json.Marshal(res)
}

// IsBusy reports whether err means another run holds the snapshot.
func IsBusy(err error) bool { return errors.Is(err, autocorrect.ErrSnapshotBusy) }
