package autocorrect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smartplanning/internal/extract"
	"smartplanning/internal/workspace"
)

// Pipeline names a fixed composition of loop steps.
type Pipeline string

const (
	// PipelineFullCorrection is the correction loop.
	PipelineFullCorrection Pipeline = "full_correction"
	// PipelineFromValidation corrects the top error of the stored validation, uploads and re-validates.
	PipelineFromValidation Pipeline = "correction_from_validation"
	// PipelineAnalyzeOnly validates and stores a checked proposal for the top error without applying it.
	PipelineAnalyzeOnly Pipeline = "analyze_only"
	// PipelineApplyAndUpload applies the latest stored proposal, uploads and re-validates.
	PipelineApplyAndUpload Pipeline = "apply_and_upload"
)

func Pipelines() []Pipeline {
	return []Pipeline{PipelineFullCorrection, PipelineFromValidation, PipelineAnalyzeOnly, PipelineApplyAndUpload}
}

func ParsePipeline(name string) (Pipeline, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range Pipelines() {
		if string(p) == name {
			return p, true
		}
	}
	return "", false
}

// RunPipeline runs p for the request's snapshot under the same exclusivity as Run.
func (e *Engine) RunPipeline(ctx context.Context, p Pipeline, req Request) (Result, error) {
	switch p {
	case PipelineFullCorrection:
		return e.Run(ctx, req)
	case PipelineFromValidation:
		return e.start(ctx, req, e.fromValidation)
	case PipelineAnalyzeOnly:
		return e.start(ctx, req, e.analyzeOnly)
	case PipelineApplyAndUpload:
		return e.start(ctx, req, e.applyAndUpload)
	}
	return Result{}, fmt.Errorf("autocorrect: unknown pipeline %q", p)
}

// restore loads the working copy and the last validation from the workspace,
// falling back to the planning API when nothing is stored yet.
func (e *Engine) restore(ctx context.Context, s *Session) error {
	ws := e.deps.Workspace
	doc, err := ws.LoadDocument(ctx, s.SnapshotID, workspace.FileSnapshot)
	if errors.Is(err, workspace.ErrNotFound) {
		if err := e.load(ctx, s); err != nil {
			return err
		}
		return e.validate(ctx, s)
	}
	if err != nil {
		return err
	}
	e.enter(ctx, s, StateLoading, "")
	s.Document = doc
	s.Info.ID = s.SnapshotID
	if s.Iteration, err = ws.LatestIteration(ctx, s.SnapshotID, ""); err != nil {
		return err
	}
	msgs, err := ws.LoadMessages(ctx, s.SnapshotID, workspace.FileValidation)
	if errors.Is(err, workspace.ErrNotFound) {
		return e.validate(ctx, s)
	}
	if err != nil {
		return err
	}
	s.Validation = msgs
	return nil
}

func (e *Engine) fromValidation(ctx context.Context, s *Session, _ int) (Status, string) {
	if err := e.restore(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	cand, ok := extract.Select(s.Validation, nil)
	if !ok {
		return StatusDone, ""
	}
	uploaded, err := e.iterate(ctx, s, cand.Message, true)
	if err != nil {
		return StatusAborted, err.Error()
	}
	if !uploaded {
		return StatusManualInterventionRequired, "the selected error needs manual intervention"
	}
	if err := e.validate(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	if errs := s.Validation.Errors(); len(errs) > 0 {
		return StatusApplied, fmt.Sprintf("%d errors remain", len(errs))
	}
	return StatusDone, ""
}

func (e *Engine) analyzeOnly(ctx context.Context, s *Session, _ int) (Status, string) {
	if err := e.load(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	if err := e.validate(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	return e.draft(ctx, s)
}

func (e *Engine) applyAndUpload(ctx context.Context, s *Session, _ int) (Status, string) {
	n, env, err := e.storedProposal(ctx, s)
	if err != nil {
		return StatusAborted, err.Error()
	}
	if err := e.restore(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	if err := e.fetchInfo(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	s.Iteration = n
	rec, err := e.applyStored(ctx, s, env)
	if err != nil {
		return StatusAborted, err.Error()
	}
	if rec != nil && rec.ManualIntervention {
		return StatusManualInterventionRequired, rec.Reasoning
	}
	if err := e.upload(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	if err := e.validate(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	if errs := s.Validation.Errors(); len(errs) > 0 {
		return StatusApplied, fmt.Sprintf("%d errors remain", len(errs))
	}
	return StatusDone, ""
}

func (e *Engine) fetchInfo(ctx context.Context, s *Session) error {
	if s.Info.Name != "" {
		return nil
	}
	return e.step(ctx, func(ctx context.Context) error {
		snap, err := e.deps.Planning.GetSnapshot(ctx, s.SnapshotID)
		if err != nil {
			return fmt.Errorf("fetch snapshot: %w", err)
		}
		s.Info = snap.SnapshotInfo
		if s.Info.ID == "" {
			s.Info.ID = s.SnapshotID
		}
		return nil
	})
}
