package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartplanning/internal/audit"
	"smartplanning/internal/autocorrect"
	"smartplanning/internal/correction"
	"smartplanning/internal/knowledge"
	"smartplanning/internal/planning"
	"smartplanning/internal/planning/planningtest"
	artifactrepo "smartplanning/internal/repository/artifact"
	"smartplanning/internal/snapshot"
	"smartplanning/internal/workspace"
)

type fixture struct {
	reg *Registry
	api *planningtest.Fake
	ws  *workspace.Accessor
	idx *knowledge.Index
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := planningtest.New()
	ws := workspace.New(artifactrepo.NewMemoryStore(), nil)
	engine, err := autocorrect.New(autocorrect.Deps{
		Planning:  api,
		Workspace: ws,
		Generator: correction.NewHeuristicGenerator(),
	}, autocorrect.Config{}, nil)
	require.NoError(t, err)

	idx, err := knowledge.Open(filepath.Join(t.TempDir(), "kb.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	reg := NewRegistry()
	RegisterDefaultTools(reg, Host{
		Snapshots: api,
		Engine:    engine,
		Workspace: ws,
		Reporter:  audit.NewReporter(nil, ws, nil),
		Knowledge: idx,
	})
	return &fixture{reg: reg, api: api, ws: ws, idx: idx}
}

func (f *fixture) call(t *testing.T, tool string, input any, out any) error {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	res, err := f.reg.Call(context.Background(), tool, raw)
	if err != nil {
		return err
	}
	if out != nil {
		require.NoError(t, json.Unmarshal(res, out))
	}
	return nil
}

func TestRegistryDefaultTools(t *testing.T) {
	f := newFixture(t)
	var names []string
	for _, s := range f.reg.Specs() {
		names = append(names, s.Name)
		assert.NotEmpty(t, s.Description, s.Name)
	}
	assert.Equal(t, []string{
		ToolApplyCorrection, ToolCheckCorrection, ToolCorrectSnapshot, ToolCreateSnapshot,
		ToolDeleteSnapshot, ToolDownloadSnapshot, ToolAuditReport, ToolGenerateCorrection,
		ToolIdentifyError, ToolKnowledgeSearch, ToolListSnapshots, ToolRenameSnapshot,
		ToolUpdateSnapshot, ToolValidateSnapshot,
	}, names)

	_, err := f.reg.Call(context.Background(), "nope", nil)
	assert.ErrorContains(t, err, `unknown tool "nope"`)

	only := NewRegistry()
	RegisterDefaultTools(only, Host{Snapshots: f.api})
	assert.Len(t, only.Specs(), 4)
	assert.False(t, only.Has(ToolCorrectSnapshot))
}

func TestSnapshotTools(t *testing.T) {
	f := newFixture(t)

	var created planning.SnapshotInfo
	require.NoError(t, f.call(t, ToolCreateSnapshot, map[string]string{"name": "Week 42"}, &created))
	assert.Equal(t, "Week 42", created.Name)
	require.NoError(t, f.api.Put("snap-2", "Week 43", planningtest.Dangling(1)))

	var list struct {
		Snapshots []planning.SnapshotInfo `json:"snapshots"`
	}
	require.NoError(t, f.call(t, ToolListSnapshots, map[string]string{"filter": "43"}, &list))
	require.Len(t, list.Snapshots, 1)
	assert.Equal(t, "snap-2", list.Snapshots[0].ID)

	var renamed planning.SnapshotInfo
	require.NoError(t, f.call(t, ToolRenameSnapshot, map[string]string{"identifier": "Week 42", "new_name": "Week 42 final"}, &renamed))
	assert.Equal(t, created.ID, renamed.ID)
	assert.Equal(t, "Week 42 final", renamed.Name)

	err := f.call(t, ToolRenameSnapshot, map[string]string{"snapshot_id": created.ID}, nil)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "new_name is required", te.Reason)

	err = f.call(t, ToolDeleteSnapshot, map[string]string{"identifier": "Week 99"}, nil)
	assert.ErrorIs(t, err, planning.ErrNotFound)

	require.NoError(t, f.call(t, ToolDeleteSnapshot, map[string]string{"snapshot_id": created.ID}, nil))
	require.NoError(t, f.call(t, ToolListSnapshots, map[string]string{}, &list))
	assert.Len(t, list.Snapshots, 1)
}

func TestStepToolsCorrectOneError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.api.Put("snap-1", "Week 43", planningtest.Dangling(1)))
	ref := map[string]string{"identifier": "Week 43"}

	// Each step decodes into a fresh output so fields left by an earlier
	// step cannot leak into the next assertion.
	step := func(tool string) StepOutput {
		t.Helper()
		var out StepOutput
		require.NoError(t, f.call(t, tool, ref, &out))
		return out
	}

	out := step(ToolValidateSnapshot)
	assert.Equal(t, "snap-1", out.SnapshotID)
	require.NotNil(t, out.Validation)
	assert.False(t, out.Validation.IsValid)
	assert.Equal(t, 1, out.Validation.Errors)
	assert.Equal(t, 1, out.Validation.Warnings)
	require.Len(t, out.Validation.ErrorDetails, 1)
	assert.Contains(t, out.Validation.ErrorDetails[0].Message, "SPE_PU_g1")

	err := f.call(t, ToolApplyCorrection, ref, nil)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Reason, "no stored correction proposal")

	assert.Equal(t, autocorrect.StatusAnalyzed, step(ToolGenerateCorrection).Status)
	assert.Equal(t, autocorrect.StatusCompleted, step(ToolCheckCorrection).Status)
	out = step(ToolApplyCorrection)
	assert.Equal(t, autocorrect.StatusApplied, out.Status)
	assert.Nil(t, out.Validation, "applying does not validate")

	out = step(ToolUpdateSnapshot)
	require.NotNil(t, out.Validation)
	assert.True(t, out.Validation.IsValid)
	_, uploads := f.api.Counts()
	assert.Equal(t, 1, uploads)

	v, err := f.api.Document("snap-1").Get(snapshot.MustPath("demands[0].articleId"))
	require.NoError(t, err)
	assert.Equal(t, "SPE_PU_gr", v)
}

func TestCorrectSnapshotAndReport(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.api.Put("snap-1", "Week 43", planningtest.Dangling(2)))

	err := f.call(t, ToolAuditReport, map[string]string{"snapshot_id": "snap-1"}, nil)
	assert.True(t, errors.Is(err, audit.ErrNoMetadata))

	var res autocorrect.Result
	require.NoError(t, f.call(t, ToolCorrectSnapshot, map[string]any{"snapshot_id": "snap-1", "max_iterations": 5}, &res))
	assert.Equal(t, autocorrect.StatusDone, res.Status, res.Reason)
	assert.Equal(t, 2, res.Corrections)

	var stats audit.Stats
	require.NoError(t, f.call(t, ToolAuditReport, map[string]string{"snapshot_id": "snap-1"}, &stats))
	assert.Equal(t, "summary", stats.Generator)
	ok, err := f.ws.Exists(context.Background(), "snap-1", workspace.FileAuditReport)
	require.NoError(t, err)
	assert.True(t, ok)

	err = f.call(t, ToolCorrectSnapshot, map[string]any{}, nil)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "snapshot_id is required", te.Reason)
}

func TestKnowledgeSearchTool(t *testing.T) {
	f := newFixture(t)
	err := f.call(t, ToolKnowledgeSearch, map[string]string{"query": " "}, nil)
	var te *ToolError
	require.ErrorAs(t, err, &te)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shifts.md"),
		[]byte("Shift calendars define the working time of every resource."), 0o644))
	_, err = f.idx.IngestDir(context.Background(), dir)
	require.NoError(t, err)

	var out knowledgeSearchOutput
	require.NoError(t, f.call(t, ToolKnowledgeSearch, map[string]string{"query": "shift calendars"}, &out))
	require.Len(t, out.Hits, 1)
	assert.Equal(t, "shifts.md", out.Hits[0].Source)
	assert.InDelta(t, 1.0, out.MaxScore, 1e-9)

	require.NoError(t, f.call(t, ToolKnowledgeSearch, map[string]string{"query": "conveyor maintenance"}, &out))
	assert.Empty(t, out.Hits)
}
