package autocorrect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartplanning/internal/audit"
	"smartplanning/internal/correction"
	"smartplanning/internal/extract"
	"smartplanning/internal/planning"
	"smartplanning/internal/snapshot"
	"smartplanning/internal/workspace"
)

const (
	DefaultMaxIterations = 10
	DefaultStepTimeout   = 120 * time.Second
)

var ErrSnapshotBusy = errors.New("snapshot is already being corrected")

// Planning is the part of the planning API client the loop drives.
type Planning interface {
	GetSnapshot(ctx context.Context, id string) (*planning.Snapshot, error)
	Validate(ctx context.Context, id string) (planning.Validation, error)
	UpdateSnapshot(ctx context.Context, id, name string, doc *snapshot.Document, comment string) (planning.SnapshotInfo, error)
}

type Config struct {
	MaxIterations    int
	StepTimeout      time.Duration
	UseReferenceData bool
	Reference        *snapshot.Document
	Extract          extract.Options
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = DefaultStepTimeout
	}
	c.Extract.UseReferenceData = c.UseReferenceData
	c.Extract.Reference = c.Reference
	return c
}

// Deps are the collaborators of an Engine. Planning, Workspace and Generator
// are required.
type Deps struct {
	Planning   Planning
	Workspace  *workspace.Accessor
	Generator  correction.Generator
	Identifier *extract.Identifier
	Audit      *audit.Log
	Trace      *audit.TraceLogger
	Observer   Observer
}

// Engine runs correction loops. One Engine may run different snapshots
// concurrently; a snapshot is corrected by at most one run at a time.
type Engine struct {
	deps      Deps
	cfg       Config
	extractor *extract.Extractor
	validator *correction.SchemaValidator
	applier   *correction.Applier
	now       func() time.Time
	log       *zap.Logger

	mu     sync.Mutex
	active map[string]string
}

func New(deps Deps, cfg Config, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Planning == nil || deps.Workspace == nil || deps.Generator == nil {
		return nil, fmt.Errorf("autocorrect: planning, workspace and generator are required")
	}
	cfg = cfg.withDefaults()
	if deps.Identifier == nil {
		deps.Identifier = extract.NewIdentifier(nil, log)
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewLog(deps.Workspace, log)
	}
	if deps.Trace == nil {
		deps.Trace = audit.NewTraceLogger(deps.Workspace)
	}
	opts := correction.CheckOptions{UseReferenceData: cfg.UseReferenceData, Reference: cfg.Reference}
	return &Engine{
		deps:      deps,
		cfg:       cfg,
		extractor: extract.New(cfg.Extract, log),
		validator: correction.NewSchemaValidator(deps.Generator, deps.Workspace, opts, log),
		applier:   correction.NewApplier(deps.Workspace, deps.Audit, cfg.Reference, log),
		now:       time.Now,
		log:       log,
		active:    map[string]string{},
	}, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Request selects the snapshot of one run.
type Request struct {
	SnapshotID string
	// RunID is generated when empty.
	RunID string
	// MaxIterations overrides the configured cap when positive.
	MaxIterations int
}

// Active returns the run currently correcting snapshotID.
func (e *Engine) Active(snapshotID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	runID, ok := e.active[snapshotID]
	return runID, ok
}

func (e *Engine) acquire(snapshotID, runID string) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.active[snapshotID]; ok {
		return nil, fmt.Errorf("%w: %s (run %s)", ErrSnapshotBusy, snapshotID, cur)
	}
	e.active[snapshotID] = runID
	return func() {
		e.mu.Lock()
		delete(e.active, snapshotID)
		e.mu.Unlock()
	}, nil
}

// Run corrects one snapshot until validation is clean, the iteration cap is
// hit, only manual-intervention errors remain, or a step fails. Terminal
// outcomes are reported in the Result; the error is non-nil only when the run
// could not start.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	return e.start(ctx, req, e.loop)
}

type runFunc func(ctx context.Context, s *Session, maxIterations int) (Status, string)

func (e *Engine) start(ctx context.Context, req Request, fn runFunc) (Result, error) {
	req.SnapshotID = strings.TrimSpace(req.SnapshotID)
	if req.SnapshotID == "" {
		return Result{}, fmt.Errorf("autocorrect: snapshot id is required")
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	release, err := e.acquire(req.SnapshotID, req.RunID)
	if err != nil {
		return Result{RunID: req.RunID, SnapshotID: req.SnapshotID}, err
	}
	defer release()

	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = e.cfg.MaxIterations
	}
	ctx = audit.WithRun(ctx, req.SnapshotID, req.RunID)
	s := &Session{RunID: req.RunID, SnapshotID: req.SnapshotID}
	started := e.now().UTC()
	status, reason := fn(ctx, s, maxIter)
	return e.finish(ctx, s, started, status, reason), nil
}

func (e *Engine) loop(ctx context.Context, s *Session, maxIter int) (Status, string) {
	if err := e.load(ctx, s); err != nil {
		return StatusAborted, err.Error()
	}
	revalidate := true
	for {
		if revalidate {
			if err := e.validate(ctx, s); err != nil {
				return StatusAborted, err.Error()
			}
		}
		errs := s.Validation.Errors()
		if len(errs) == 0 {
			return StatusDone, ""
		}
		cand, ok := extract.Select(s.Validation, s.parked)
		if !ok {
			return StatusManualInterventionRequired, fmt.Sprintf("%d errors need manual intervention", len(errs))
		}
		if s.Iterations >= maxIter {
			return StatusMaxIterationsReached, fmt.Sprintf("%d errors remain after %d iterations", len(errs), s.Iterations)
		}
		uploaded, err := e.iterate(ctx, s, cand.Message, true)
		if err != nil {
			return StatusAborted, err.Error()
		}
		revalidate = uploaded
	}
}

// load fetches the snapshot and seeds the workspace.
func (e *Engine) load(ctx context.Context, s *Session) error {
	e.enter(ctx, s, StateLoading, "")
	ws := e.deps.Workspace
	var snap *planning.Snapshot
	err := e.step(ctx, func(ctx context.Context) error {
		var err error
		snap, err = e.deps.Planning.GetSnapshot(ctx, s.SnapshotID)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	s.Info, s.Document = snap.SnapshotInfo, snap.Document
	if s.Info.ID == "" {
		s.Info.ID = s.SnapshotID
	}
	if s.Document == nil {
		s.Document = snapshot.New(map[string]any{})
	}

	if err := ws.SaveDocument(ctx, s.SnapshotID, workspace.FileSnapshot, s.Document); err != nil {
		return err
	}
	if ok, err := ws.Exists(ctx, s.SnapshotID, workspace.FileOriginal); err == nil && !ok {
		if err := ws.SaveDocument(ctx, s.SnapshotID, workspace.FileOriginal, s.Document); err != nil {
			return err
		}
	}
	if ok, err := ws.Exists(ctx, s.SnapshotID, workspace.FileMetadata); err == nil && !ok {
		if err := e.deps.Audit.SnapshotInfo(ctx, s.Info); err != nil {
			return err
		}
	}
	latest, err := ws.LatestIteration(ctx, s.SnapshotID, "")
	if err != nil {
		return err
	}
	s.Iteration = latest
	return nil
}

func (e *Engine) validate(ctx context.Context, s *Session) error {
	e.enter(ctx, s, StateValidating, "")
	var v planning.Validation
	err := e.step(ctx, func(ctx context.Context) error {
		var err error
		v, err = e.deps.Planning.Validate(ctx, s.SnapshotID)
		return err
	})
	if err != nil {
		return fmt.Errorf("validate snapshot: %w", err)
	}
	s.Validation = v.Messages
	if err := e.deps.Workspace.SaveMessages(ctx, s.SnapshotID, workspace.FileValidation, v.Messages); err != nil {
		return err
	}
	if err := e.deps.Audit.Validation(ctx, s.SnapshotID, s.Iteration, v.Messages); err != nil {
		e.log.Warn("validation not recorded in metadata", zap.String("snapshot_id", s.SnapshotID), zap.Error(err))
	}
	e.log.Info("snapshot validated",
		zap.String("snapshot_id", s.SnapshotID),
		zap.Int("iteration", s.Iteration),
		zap.Int("errors", v.Messages.Count(snapshot.LevelError)),
		zap.Int("warnings", v.Messages.Count(snapshot.LevelWarning)),
	)
	return nil
}

// analysis is the output of the extracting step.
type analysis struct {
	ident extract.Identification
	ctx   *extract.Context
}

func (e *Engine) analyze(ctx context.Context, s *Session, msg snapshot.Message) (analysis, error) {
	e.enter(ctx, s, StateExtracting, msg.Message)
	var (
		ident extract.Identification
		call  *extract.LLMCall
	)
	err := e.step(ctx, func(ctx context.Context) error {
		var err error
		ident, call, err = e.deps.Identifier.Identify(ctx, msg)
		return err
	})
	if call != nil {
		e.save(ctx, s, workspace.IterationPath(s.Iteration, workspace.FileIdentifyCall), call)
	}
	if err != nil {
		// The rule classification in ident still drives extraction.
		e.log.Warn("model identification failed",
			zap.String("snapshot_id", s.SnapshotID),
			zap.Int("iteration", s.Iteration),
			zap.String("message", msg.Message),
			zap.Error(err),
		)
	}
	e.save(ctx, s, workspace.IterationPath(s.Iteration, workspace.FileIdentifyResponse), ident)

	c := e.extractor.Extract(s.Document, ident)
	e.save(ctx, s, workspace.IterationPath(s.Iteration, workspace.FileContext), c)
	e.save(ctx, s, workspace.FileLastSearch, c)
	if err := ctx.Err(); err != nil {
		return analysis{}, err
	}
	return analysis{ident: ident, ctx: c}, nil
}

// iterate runs one pass for msg. It reports whether a corrected document was
// uploaded; manual interventions park msg and upload nothing.
func (e *Engine) iterate(ctx context.Context, s *Session, msg snapshot.Message, upload bool) (bool, error) {
	n, err := e.deps.Workspace.NextIteration(ctx, s.SnapshotID)
	if err != nil {
		return false, err
	}
	s.Iteration = n
	s.Iterations++

	a, err := e.analyze(ctx, s, msg)
	if err != nil {
		return false, fmt.Errorf("iteration %d: extract context: %w", n, err)
	}

	v, gen, err := e.propose(ctx, s, msg, a)
	if err != nil {
		return false, fmt.Errorf("iteration %d: %w", n, err)
	}

	applied, err := e.apply(ctx, s, envelope(s, msg, a, v, gen))
	if err != nil {
		return false, fmt.Errorf("iteration %d: %w", n, err)
	}
	if applied.ManualIntervention || !upload {
		return false, nil
	}
	if err := e.upload(ctx, s); err != nil {
		return false, fmt.Errorf("iteration %d: %w", n, err)
	}
	return true, nil
}

// propose generates and validates a proposal. Contexts that cannot be
// investigated get the rule-based manual answer without asking the generator.
func (e *Engine) propose(ctx context.Context, s *Session, msg snapshot.Message, a analysis) (correction.Validated, string, error) {
	req := correction.Request{SnapshotID: s.SnapshotID, Iteration: s.Iteration, Message: msg, Context: a.ctx}

	e.enter(ctx, s, StateGenerating, msg.Message)
	gen := e.deps.Generator
	if !a.ctx.Found || a.ctx.ManualInterventionRequired {
		gen = correction.NewHeuristicGenerator()
	}
	var first correction.Generation
	err := e.step(ctx, func(ctx context.Context) error {
		var err error
		first, err = gen.Generate(ctx, req)
		return err
	})
	if err != nil && !errors.Is(err, correction.ErrMalformed) {
		if first.Call != nil {
			e.save(ctx, s, workspace.IterationPath(s.Iteration, workspace.FileProposalCall), []*extract.LLMCall{first.Call})
		}
		return correction.Validated{}, gen.Name(), fmt.Errorf("generate correction: %w", err)
	}

	e.enter(ctx, s, StateSchemaChecking, msg.Message)
	var v correction.Validated
	err = e.step(ctx, func(ctx context.Context) error {
		var err error
		v, err = e.validator.Validate(ctx, req, s.Document, first)
		return err
	})
	if len(v.Calls) > 0 {
		e.save(ctx, s, workspace.IterationPath(s.Iteration, workspace.FileProposalCall), v.Calls)
	}
	if err != nil {
		e.log.Error("correction proposal rejected",
			zap.String("snapshot_id", s.SnapshotID),
			zap.Int("iteration", s.Iteration),
			zap.String("message", msg.Message),
			zap.Error(err),
		)
		return v, gen.Name(), err
	}
	return v, gen.Name(), nil
}

func (e *Engine) apply(ctx context.Context, s *Session, env correction.Envelope) (correction.Applied, error) {
	e.enter(ctx, s, StateApplying, env.OriginalError.Message)
	e.save(ctx, s, workspace.IterationPath(s.Iteration, workspace.FileProposal), env)

	var (
		out     *snapshot.Document
		applied correction.Applied
	)
	err := e.step(ctx, func(ctx context.Context) error {
		var err error
		out, applied, err = e.applier.Apply(ctx, correction.ApplyRequest{
			SnapshotID: s.SnapshotID,
			Iteration:  s.Iteration,
			Document:   s.Document,
			Validation: s.Validation,
			Envelope:   env,
		})
		return err
	})
	if err != nil {
		return applied, err
	}
	if applied.ManualIntervention {
		s.Parked = append(s.Parked, env.OriginalError)
		e.log.Warn("error parked for manual intervention",
			zap.String("snapshot_id", s.SnapshotID),
			zap.Int("iteration", s.Iteration),
			zap.String("message", env.OriginalError.Message),
			zap.String("reason", applied.Reasoning),
		)
		return applied, nil
	}
	s.Document = out
	s.Corrections++
	if applied.ReferenceDataUsed {
		s.Reference = true
	}
	e.log.Info("correction applied",
		zap.String("snapshot_id", s.SnapshotID),
		zap.Int("iteration", s.Iteration),
		zap.String("action", string(applied.Action)),
		zap.String("target_path", applied.TargetPath),
		zap.String("message", env.OriginalError.Message),
	)
	return applied, nil
}

// UploadResult is written to upload-result.json.
type UploadResult struct {
	Iteration  int                   `json:"iteration"`
	UploadedAt time.Time             `json:"uploaded_at"`
	Snapshot   planning.SnapshotInfo `json:"snapshot"`
}

func (e *Engine) upload(ctx context.Context, s *Session) error {
	e.enter(ctx, s, StateUploading, "")
	var info planning.SnapshotInfo
	err := e.step(ctx, func(ctx context.Context) error {
		var err error
		info, err = e.deps.Planning.UpdateSnapshot(ctx, s.SnapshotID, s.Info.Name, s.Document,
			fmt.Sprintf("auto-correction iteration %d", s.Iteration))
		return err
	})
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	if info.ID == "" {
		info.ID = s.SnapshotID
	}
	s.Info = info
	e.save(ctx, s, workspace.FileUploadResult, UploadResult{Iteration: s.Iteration, UploadedAt: e.now().UTC(), Snapshot: info})
	validated := info.IsSuccessfullyValidated != nil && *info.IsSuccessfullyValidated
	if err := e.deps.Audit.Upload(ctx, audit.Upload{Iteration: s.Iteration, Info: info, ServerValidated: validated}); err != nil {
		e.log.Warn("upload not recorded in metadata", zap.String("snapshot_id", s.SnapshotID), zap.Error(err))
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, s *Session, started time.Time, status Status, reason string) Result {
	res := Result{
		RunID:               s.RunID,
		SnapshotID:          s.SnapshotID,
		Status:              status,
		Reason:              reason,
		Iterations:          s.Iterations,
		Corrections:         s.Corrections,
		ManualInterventions: s.Parked,
		Remaining:           s.Validation.Errors(),
		ReferenceDataUsed:   s.Reference,
		StartedAt:           started,
		FinishedAt:          e.now().UTC(),
	}
	s.state = StateFinished
	fields := []zap.Field{
		zap.String("snapshot_id", s.SnapshotID),
		zap.String("run_id", s.RunID),
		zap.String("status", string(status)),
		zap.Int("iterations", s.Iterations),
		zap.Int("corrections", s.Corrections),
		zap.Int("remaining_errors", len(res.Remaining)),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	if status == StatusAborted {
		e.log.Error("correction run aborted", fields...)
	} else {
		e.log.Info("correction run finished", fields...)
	}
	e.deps.Trace.Append(ctx, s.SnapshotID, s.RunID, "autocorrect", string(StateFinished), map[string]any{
		"status":           string(status),
		"reason":           reason,
		"iterations":       s.Iterations,
		"corrections":      s.Corrections,
		"remaining_errors": len(res.Remaining),
	})
	e.publish(Event{RunID: s.RunID, SnapshotID: s.SnapshotID, Iteration: s.Iteration, State: StateFinished, Status: status, Message: reason})
	return res
}

func (e *Engine) enter(ctx context.Context, s *Session, st State, message string) {
	s.state = st
	e.log.Debug("correction state",
		zap.String("snapshot_id", s.SnapshotID),
		zap.Int("iteration", s.Iteration),
		zap.String("state", string(st)),
		zap.String("message", message),
	)
	fields := map[string]any{"iteration": s.Iteration}
	if message != "" {
		fields["message"] = message
	}
	e.deps.Trace.Append(ctx, s.SnapshotID, s.RunID, "autocorrect", string(st), fields)
	e.publish(Event{RunID: s.RunID, SnapshotID: s.SnapshotID, Iteration: s.Iteration, State: st, Message: message})
}

func (e *Engine) publish(ev Event) {
	if e.deps.Observer == nil {
		return
	}
	ev.Time = e.now().UTC()
	e.deps.Observer.Publish(ev)
}

// step runs fn under the step timeout. A timed-out step fails the iteration.
func (e *Engine) step(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("step timed out after %s: %w", e.cfg.StepTimeout, err)
	}
	return err
}

func (e *Engine) save(ctx context.Context, s *Session, path string, v any) {
	if err := e.deps.Workspace.SaveJSON(ctx, s.SnapshotID, path, v); err != nil {
		e.log.Warn("artifact not saved", zap.String("snapshot_id", s.SnapshotID), zap.String("file", path), zap.Error(err))
	}
}
