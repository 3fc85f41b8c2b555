package autocorrect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smartplanning/internal/audit"
	"smartplanning/internal/correction"
	"smartplanning/internal/extract"
	"smartplanning/internal/snapshot"
	"smartplanning/internal/workspace"
)

// Step is one loop step run on its own, the way the planning agent's tools
// drive a snapshot one action at a time.
type Step string

const (
	StepDownload    Step = "download"
	StepValidate    Step = "validate"
	StepIdentify    Step = "identify"
	StepGenerate    Step = "generate"
	StepCheckSchema Step = "check_schema"
	StepApply       Step = "apply"
	StepUpload      Step = "upload"
)

func Steps() []Step {
	return []Step{StepDownload, StepValidate, StepIdentify, StepGenerate, StepCheckSchema, StepApply, StepUpload}
}

func ParseStep(name string) (Step, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, st := range Steps() {
		if string(st) == name {
			return st, true
		}
	}
	return "", false
}

// RunStep runs st for the request's snapshot under the same exclusivity as Run.
func (e *Engine) RunStep(ctx context.Context, st Step, req Request) (Result, error) {
	var fn runFunc
	switch st {
	case StepDownload:
		fn = e.downloadStep
	case StepValidate:
		fn = e.validateStep
	case StepIdentify:
		fn = e.identifyStep
	case StepGenerate:
		fn = e.generateStep
	case StepCheckSchema:
		fn = e.checkStep
	case StepApply:
		fn = e.applyStep
	case StepUpload:
		fn = e.uploadStep
	default:
		return Result{}, fmt.Errorf("autocorrect: unknown step %q", st)
	}
	return e.start(ctx, req, fn)
}

func (e *Engine) downloadStep(ctx context.Context, s *Session, _ int) (Status, string) {
	if err := e.load(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	return StatusCompleted, fmt.Sprintf("snapshot %q downloaded", s.Info.Name)
}

func (e *Engine) validateStep(ctx context.Context, s *Session, _ int) (Status, string) {
	if err := e.load(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	if err := e.validate(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	return StatusCompleted, audit.Summary(s.Validation)
}

func (e *Engine) identifyStep(ctx context.Context, s *Session, _ int) (Status, string) {
	if err := e.restore(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	cand, ok := extract.Select(s.Validation, nil)
	if !ok {
		return StatusDone, "no errors to identify"
	}
	n, err := e.deps.Workspace.NextIteration(ctx, s.SnapshotID)
	if err != nil {
		return StatusAborted, err.Error()
	}
	s.Iteration = n
	a, err := e.analyze(ctx, s, cand.Message)
	if err != nil {
		return StatusAborted, err.Error()
	}
	if !a.ctx.Found {
		return StatusAnalyzed, fmt.Sprintf("%s: not located (%s)", cand.Message.Message, a.ctx.NotFoundReason)
	}
	return StatusAnalyzed, fmt.Sprintf("%s: %s, %d results, context in iteration %d",
		cand.Message.Message, a.ctx.Kind, len(a.ctx.Results), n)
}

func (e *Engine) generateStep(ctx context.Context, s *Session, _ int) (Status, string) {
	if err := e.restore(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	return e.draft(ctx, s)
}

// draft stores a schema-checked proposal for the top error without applying it.
func (e *Engine) draft(ctx context.Context, s *Session) (Status, string) {
	cand, ok := extract.Select(s.Validation, nil)
	if !ok {
		return StatusDone, "no errors to correct"
	}
	n, err := e.deps.Workspace.NextIteration(ctx, s.SnapshotID)
	if err != nil {
		return StatusAborted, err.Error()
	}
	s.Iteration = n
	a, err := e.analyze(ctx, s, cand.Message)
	if err != nil {
		return StatusAborted, err.Error()
	}
	v, gen, err := e.propose(ctx, s, cand.Message, a)
	if err != nil {
		return StatusAborted, err.Error()
	}
	env := envelope(s, cand.Message, a, v, gen)
	e.save(ctx, s, workspace.IterationPath(n, workspace.FileProposal), env)
	return StatusAnalyzed, fmt.Sprintf("iteration %d: %s %s", n, env.Proposal.Action, env.Proposal.TargetPath)
}

func (e *Engine) checkStep(ctx context.Context, s *Session, _ int) (Status, string) {
	n, env, err := e.storedProposal(ctx, s)
	if err != nil {
		return StatusAborted, err.Error()
	}
	if err := e.restore(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	e.enter(ctx, s, StateSchemaChecking, env.OriginalError.Message)
	if err := e.check(s, env); err != nil {
		return StatusAborted, fmt.Sprintf("proposal of iteration %d is invalid: %v", n, err)
	}
	return StatusCompleted, fmt.Sprintf("proposal of iteration %d is valid", n)
}

func (e *Engine) applyStep(ctx context.Context, s *Session, _ int) (Status, string) {
	n, env, err := e.storedProposal(ctx, s)
	if err != nil {
		return StatusAborted, err.Error()
	}
	if err := e.restore(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	s.Iteration = n
	rec, err := e.applyStored(ctx, s, env)
	if err != nil {
		return StatusAborted, err.Error()
	}
	if rec == nil {
		return StatusApplied, fmt.Sprintf("iteration %d was already applied", n)
	}
	if rec.ManualIntervention {
		return StatusManualInterventionRequired, rec.Reasoning
	}
	return StatusApplied, fmt.Sprintf("iteration %d applied locally; upload to validate it", n)
}

func (e *Engine) uploadStep(ctx context.Context, s *Session, _ int) (Status, string) {
	if err := e.restore(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	if err := e.fetchInfo(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	if err := e.upload(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	if err := e.validate(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	return StatusCompleted, audit.Summary(s.Validation)
}

// storedProposal loads the envelope of the latest iteration that has one.
func (e *Engine) storedProposal(ctx context.Context, s *Session) (int, correction.Envelope, error) {
	ws := e.deps.Workspace
	n, err := ws.LatestIteration(ctx, s.SnapshotID, workspace.FileProposal)
	if err != nil {
		return 0, correction.Envelope{}, err
	}
	if n == 0 {
		return 0, correction.Envelope{}, errors.New("no stored correction proposal; generate one first")
	}
	var env correction.Envelope
	if err := ws.LoadJSON(ctx, s.SnapshotID, workspace.IterationPath(n, workspace.FileProposal), &env); err != nil {
		return 0, correction.Envelope{}, err
	}
	return n, env, nil
}

func (e *Engine) check(s *Session, env correction.Envelope) error {
	plan, err := env.Proposal.Parse()
	if err != nil {
		return err
	}
	return correction.Check(plan, s.Document, correction.CheckOptions{UseReferenceData: e.cfg.UseReferenceData, Reference: e.cfg.Reference})
}

// applyStored re-checks and applies a stored envelope to the working copy.
// It returns nil when the iteration was applied before.
func (e *Engine) applyStored(ctx context.Context, s *Session, env correction.Envelope) (*correction.Applied, error) {
	done, err := e.deps.Workspace.Exists(ctx, s.SnapshotID, workspace.IterationPath(s.Iteration, workspace.FileCorrectionApplied))
	if err != nil {
		return nil, err
	}
	if done {
		return nil, nil
	}
	if err := e.check(s, env); err != nil {
		return nil, fmt.Errorf("stored proposal of iteration %d is invalid: %w", s.Iteration, err)
	}
	s.Iterations++
	rec, err := e.apply(ctx, s, env)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func envelope(s *Session, msg snapshot.Message, a analysis, v correction.Validated, gen string) correction.Envelope {
	return correction.Envelope{
		Iteration:     s.Iteration,
		SnapshotID:    s.SnapshotID,
		OriginalError: msg,
		ErrorAnalyzed: correction.Request{Context: a.ctx}.Analysis(),
		Proposal:      v.Proposal,
		Generator:     gen,
	}
}
