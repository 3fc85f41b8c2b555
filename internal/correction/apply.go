package correction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"smartplanning/internal/snapshot"
	"smartplanning/internal/workspace"
)

// DocumentStore is the part of the storage accessor the applier writes to.
type DocumentStore interface {
	SaveDocument(ctx context.Context, snapshotID, path string, doc *snapshot.Document) error
	SaveMessages(ctx context.Context, snapshotID, path string, msgs snapshot.Messages) error
	SaveJSON(ctx context.Context, snapshotID, path string, v any) error
}

// Recorder receives one entry per apply, manual interventions included.
type Recorder interface {
	RecordCorrection(ctx context.Context, a Applied) error
}

// AppliedUpdate is the before/after of one additional update.
type AppliedUpdate struct {
	TargetPath string `json:"target_path"`
	OldValue   any    `json:"old_value"`
	NewValue   any    `json:"new_value"`
}

// Applied describes what an apply did. It is persisted as
// correction-applied.json and handed to the Recorder.
type Applied struct {
	SnapshotID         string           `json:"snapshot_id"`
	Iteration          int              `json:"iteration"`
	AppliedAt          time.Time        `json:"applied_at"`
	OriginalError      snapshot.Message `json:"original_error"`
	ErrorAnalyzed      ErrorAnalyzed    `json:"error_analyzed"`
	Action             Action           `json:"action"`
	TargetPath         string           `json:"target_path"`
	OldValue           any              `json:"old_value"`
	NewValue           any              `json:"new_value"`
	Reasoning          string           `json:"reasoning"`
	Additional         []AppliedUpdate  `json:"additional_updates,omitempty"`
	ManualIntervention bool             `json:"manual_intervention_required"`
	ReferenceDataUsed  bool             `json:"reference_data_used"`
	ReferenceCount     int              `json:"reference_count,omitempty"`
	Generator          string           `json:"generator,omitempty"`
	Proposal           Proposal         `json:"proposal"`
}

// ApplyRequest is one validated proposal and the state it applies to.
type ApplyRequest struct {
	SnapshotID string
	Iteration  int
	Document   *snapshot.Document
	Validation snapshot.Messages
	Envelope   Envelope
}

var ErrApply = errors.New("apply correction")

// Applier mutates a copy of the snapshot and persists it whole.
type Applier struct {
	store     DocumentStore
	recorder  Recorder
	reference *snapshot.Document
	now       func() time.Time
	log       *zap.Logger
}

func NewApplier(store DocumentStore, recorder Recorder, reference *snapshot.Document, log *zap.Logger) *Applier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Applier{store: store, recorder: recorder, reference: reference, now: time.Now, log: log}
}

// Apply backs up the current state into the iteration, applies the proposal
// to a copy and persists the copy. On error the returned document is nil and
// the stored snapshot is untouched.
func (a *Applier) Apply(ctx context.Context, req ApplyRequest) (*snapshot.Document, Applied, error) {
	p := req.Envelope.Proposal
	rec := Applied{
		SnapshotID:    req.SnapshotID,
		Iteration:     req.Iteration,
		AppliedAt:     a.now().UTC(),
		OriginalError: req.Envelope.OriginalError,
		ErrorAnalyzed: req.Envelope.ErrorAnalyzed,
		Action:        p.Action,
		TargetPath:    p.TargetPath,
		NewValue:      p.NewValue,
		Reasoning:     p.Reasoning,
		Generator:     req.Envelope.Generator,
		Proposal:      p,
	}
	plan, err := p.Parse()
	if err != nil {
		return nil, rec, fmt.Errorf("%w: %v", ErrApply, err)
	}

	if err := a.store.SaveDocument(ctx, req.SnapshotID, workspace.IterationPath(req.Iteration, workspace.FileSnapshot), req.Document); err != nil {
		return nil, rec, fmt.Errorf("backup snapshot: %w", err)
	}
	if err := a.store.SaveMessages(ctx, req.SnapshotID, workspace.IterationPath(req.Iteration, workspace.FileValidation), req.Validation); err != nil {
		return nil, rec, fmt.Errorf("backup validation: %w", err)
	}

	out := req.Document
	if plan.Manual() {
		rec.ManualIntervention = true
		a.log.Warn("manual intervention required",
			zap.String("snapshot_id", req.SnapshotID),
			zap.Int("iteration", req.Iteration),
			zap.String("original_error", req.Envelope.OriginalError.Message),
			zap.String("reason", p.Reasoning),
		)
	} else {
		work := req.Document.Clone()
		res, err := execute(work, plan, a.reference)
		if err != nil {
			a.log.Error("correction not applied",
				zap.String("snapshot_id", req.SnapshotID),
				zap.Int("iteration", req.Iteration),
				zap.String("target_path", p.TargetPath),
				zap.Error(err),
			)
			return nil, rec, fmt.Errorf("%w: %v", ErrApply, err)
		}
		rec.OldValue = res.old
		rec.NewValue = res.new
		rec.ReferenceDataUsed = res.referenceCount > 0
		rec.ReferenceCount = res.referenceCount
		for i, u := range plan.Additional {
			rec.Additional = append(rec.Additional, AppliedUpdate{TargetPath: u.Path.String(), OldValue: res.additionalOld[i], NewValue: u.New})
		}
		if err := a.store.SaveDocument(ctx, req.SnapshotID, workspace.FileSnapshot, work); err != nil {
			return nil, rec, fmt.Errorf("persist snapshot: %w", err)
		}
		if rec.ReferenceDataUsed {
			usage := map[string]any{
				"iteration":       req.Iteration,
				"collection":      plan.Variant.(UseReferenceData).Collection,
				"count":           res.referenceCount,
				"applied_at":      rec.AppliedAt,
				"requires_review": true,
			}
			if err := a.store.SaveJSON(ctx, req.SnapshotID, workspace.FileReferenceUsage, usage); err != nil {
				a.log.Warn("reference data usage not recorded", zap.Error(err))
			}
		}
		out = work
		a.log.Info("correction applied",
			zap.String("snapshot_id", req.SnapshotID),
			zap.Int("iteration", req.Iteration),
			zap.String("action", string(p.Action)),
			zap.String("target_path", p.TargetPath),
			zap.Int("additional_updates", len(plan.Additional)),
		)
	}

	if err := a.store.SaveJSON(ctx, req.SnapshotID, workspace.IterationPath(req.Iteration, workspace.FileCorrectionApplied), rec); err != nil {
		a.log.Warn("applied correction record not saved", zap.Error(err))
	}
	if a.recorder != nil {
		if err := a.recorder.RecordCorrection(ctx, rec); err != nil {
			a.log.Warn("audit entry not written", zap.Error(err))
		}
	}
	return out, rec, nil
}

type execution struct {
	touched        []snapshot.Path
	old            any
	new            any
	additionalOld  []any
	referenceCount int
}

// execute applies plan to doc in place. Callers pass a clone; doc is left in
// an undefined state when an error is returned.
func execute(doc *snapshot.Document, plan Plan, reference *snapshot.Document) (execution, error) {
	var res execution
	switch v := plan.Variant.(type) {
	case UpdateField:
		old, err := doc.Set(v.Path, v.New)
		if err != nil {
			return res, err
		}
		res.old, res.new = old, v.New
		res.touched = append(res.touched, v.Path)
	case UseReferenceData:
		if reference == nil {
			return res, ErrReferenceDataDisabled
		}
		items, ok := reference.Collection(v.Collection)
		if !ok || len(items) == 0 {
			return res, fmt.Errorf("reference document has no %s", v.Collection)
		}
		old, err := doc.ReplaceCollection(v.Collection, items)
		if err != nil {
			return res, err
		}
		res.old, res.new = len(old), ReferenceDataSentinel
		res.referenceCount = len(items)
	case AddToArray:
		idx, err := doc.Append(v.Collection, v.Entity)
		if err != nil {
			return res, err
		}
		res.new = v.Entity
		res.touched = append(res.touched, snapshot.Path{Collection: v.Collection, Index: idx, FieldIndex: -1})
	case RemoveFromArray:
		if v.Path.IsCollection() {
			_, removed, err := doc.RemoveMatch(v.Path.Collection, v.Filter)
			if err != nil {
				return res, err
			}
			res.old = removed
			break
		}
		removed, err := doc.Remove(v.Path)
		if err != nil {
			return res, err
		}
		res.old = removed
	case ManualIntervention:
		return res, nil
	default:
		return res, fmt.Errorf("unsupported correction %T", plan.Variant)
	}
	for _, u := range plan.Additional {
		old, err := doc.Set(u.Path, u.New)
		if err != nil {
			return res, fmt.Errorf("additional update %s: %w", u.Path, err)
		}
		res.additionalOld = append(res.additionalOld, old)
		res.touched = append(res.touched, u.Path)
	}
	return res, nil
}

// mutate is execute for validation, which only needs the touched paths.
func mutate(doc *snapshot.Document, plan Plan, reference *snapshot.Document) ([]snapshot.Path, error) {
	res, err := execute(doc, plan, reference)
	return res.touched, err
}
