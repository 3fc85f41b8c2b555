package autocorrect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartplanning/internal/correction"
	"smartplanning/internal/snapshot"
	"smartplanning/internal/workspace"
)

func TestStepsDriveOneCorrection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, nil)
	f.api.put(t, "snap-1", danglingDoc(1))
	req := Request{SnapshotID: "snap-1"}
	articleID := snapshot.MustPath("demands[0].articleId")

	res, err := f.engine.RunStep(ctx, StepValidate, req)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "1 ERROR, 1 WARNING", res.Reason)
	assert.Len(t, res.Remaining, 1)

	res, err = f.engine.RunStep(ctx, StepGenerate, req)
	require.NoError(t, err)
	require.Equal(t, StatusAnalyzed, res.Status, res.Reason)
	assert.Contains(t, res.Reason, "iteration 1: update_field")
	applied, err := f.ws.Exists(ctx, "snap-1", workspace.IterationPath(1, workspace.FileCorrectionApplied))
	require.NoError(t, err)
	assert.False(t, applied, "generate does not apply")

	res, err = f.engine.RunStep(ctx, StepCheckSchema, req)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status, res.Reason)

	res, err = f.engine.RunStep(ctx, StepApply, req)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, res.Status, res.Reason)
	local, err := f.ws.LoadDocument(ctx, "snap-1", workspace.FileSnapshot)
	require.NoError(t, err)
	v, err := local.Get(articleID)
	require.NoError(t, err)
	assert.Equal(t, "SPE_PU_gr", v)
	assert.Equal(t, 0, f.api.uploads)

	res, err = f.engine.RunStep(ctx, StepApply, req)
	require.NoError(t, err)
	assert.Contains(t, res.Reason, "already applied")

	res, err = f.engine.RunStep(ctx, StepUpload, req)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status, res.Reason)
	assert.Equal(t, "1 WARNING", res.Reason)
	assert.Equal(t, 1, f.api.uploads)
	v, err = f.api.doc("snap-1").Get(articleID)
	require.NoError(t, err)
	assert.Equal(t, "SPE_PU_gr", v)
}

func TestStepErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("apply without proposal", func(t *testing.T) {
		f := newFixture(t, Config{}, nil)
		f.api.put(t, "snap-1", danglingDoc(1))
		res, err := f.engine.RunStep(ctx, StepApply, Request{SnapshotID: "snap-1"})
		require.NoError(t, err)
		assert.Equal(t, StatusAborted, res.Status)
		assert.Contains(t, res.Reason, "no stored correction proposal")
	})

	t.Run("check rejects a broken proposal", func(t *testing.T) {
		f := newFixture(t, Config{}, nil)
		f.api.put(t, "snap-1", danglingDoc(1))
		require.NoError(t, f.ws.SaveDocument(ctx, "snap-1", workspace.FileSnapshot, f.api.doc("snap-1")))
		require.NoError(t, f.ws.SaveJSON(ctx, "snap-1", workspace.IterationPath(1, workspace.FileProposal), correction.Envelope{
			Iteration: 1,
			Proposal:  correction.Proposal{Action: correction.ActionUpdateField, TargetPath: "demands[7].articleId", NewValue: "x"},
		}))
		res, err := f.engine.RunStep(ctx, StepCheckSchema, Request{SnapshotID: "snap-1"})
		require.NoError(t, err)
		assert.Equal(t, StatusAborted, res.Status)
		assert.Contains(t, res.Reason, "proposal of iteration 1 is invalid")
	})

	t.Run("unknown step", func(t *testing.T) {
		f := newFixture(t, Config{}, nil)
		_, ok := ParseStep("nope")
		assert.False(t, ok)
		_, err := f.engine.RunStep(ctx, Step("nope"), Request{SnapshotID: "snap-1"})
		assert.Error(t, err)
	})
}
