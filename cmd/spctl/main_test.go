package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartplanning/internal/agent"
	"smartplanning/internal/autocorrect"
	"smartplanning/internal/gateway/app"
	"smartplanning/internal/gateway/config"
	"smartplanning/internal/planning"
	"smartplanning/internal/planning/planningtest"
	artifactrepo "smartplanning/internal/repository/artifact"
	"smartplanning/internal/snapshot"
)

type harness struct {
	api *planningtest.Fake
	out *bytes.Buffer
	cli *cli
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	api := planningtest.New()
	out := &bytes.Buffer{}
	cfg := &config.Config{
		Env:       "test",
		LogLevel:  "error",
		Storage:   config.StorageConfig{Mode: config.StorageMemory},
		Agent:     agent.DefaultConfig(),
		Knowledge: config.KnowledgeConfig{DBPath: filepath.Join(dir, "knowledge.db")},
	}
	c := &cli{
		out: out,
		// One store for every command so later commands see earlier state.
		overrides: app.Overrides{Planning: api, Store: artifactrepo.NewMemoryStore(), Heuristic: true},
		loadCfg:   func() (*config.Config, error) { return cfg, nil },
	}
	return &harness{api: api, out: out, cli: c}
}

func (h *harness) run(args ...string) error {
	h.out.Reset()
	root := newRootCmd(h.cli)
	root.SetArgs(args)
	return root.Execute()
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return -1
}

func TestSnapshotCommands(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("snapshot", "create", "Plan A", "--empty", "--json"))
	var info planning.SnapshotInfo
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &info))
	assert.Equal(t, "Plan A", info.Name)
	require.NotEmpty(t, info.ID)

	require.NoError(t, h.run("snapshot", "list", "--filter", "plan"))
	assert.Contains(t, h.out.String(), "Plan A")

	require.NoError(t, h.run("snapshot", "rename", info.ID, "Plan B"))
	assert.Contains(t, h.out.String(), "Plan B")

	require.NoError(t, h.run("snapshot", "get", info.ID))
	assert.Contains(t, h.out.String(), "Name:     Plan B")

	require.NoError(t, h.run("snapshot", "delete", info.ID))
	err := h.run("snapshot", "get", info.ID)
	assert.ErrorIs(t, err, planning.ErrNotFound)
}

func TestValidateExitCode(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.api.Put("snap-1", "Plan A", planningtest.Dangling(1)))

	err := h.run("snapshot", "validate", "snap-1")
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, h.out.String(), "1 ERROR")
}

func TestCorrectCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.api.Put("snap-1", "Plan A", planningtest.Dangling(2)))
	require.NoError(t, h.api.Put("snap-2", "Plan B", planningtest.Dangling(1)))

	require.NoError(t, h.run("correct", "snap-1", "snap-2", "--parallel", "2", "--json"))
	var results []autocorrect.Result
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "snap-1", results[0].SnapshotID)
	assert.Equal(t, autocorrect.StatusDone, results[0].Status)
	assert.Equal(t, 2, results[0].Corrections)
	assert.Equal(t, autocorrect.StatusDone, results[1].Status)

	err := h.run("correct", "missing")
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, h.out.String(), "missing: aborted")

	require.NoError(t, h.run("report", "snap-1"))
	assert.Contains(t, h.out.String(), "Audit report written")
}

func TestPipelineAndStepCommands(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.api.Put("snap-1", "Plan A", planningtest.Dangling(1)))

	require.NoError(t, h.run("pipeline", "analyze_only", "snap-1"))
	assert.Contains(t, h.out.String(), "snap-1: "+string(autocorrect.StatusAnalyzed))
	_, uploads := h.api.Counts()
	assert.Zero(t, uploads, "analysis never uploads")

	require.NoError(t, h.run("pipeline", "apply_and_upload", "snap-1"))
	_, uploads = h.api.Counts()
	assert.Equal(t, 1, uploads)

	err := h.run("pipeline", "everything", "snap-1")
	assert.ErrorContains(t, err, "unknown pipeline")

	require.NoError(t, h.run("step", "validate", "snap-1"))
	err = h.run("step", "teleport", "snap-1")
	assert.ErrorContains(t, err, "unknown step")
}

func TestKnowledgeCommands(t *testing.T) {
	h := newHarness(t)
	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "guide.md"),
		[]byte("Dispatcher groups bundle demands for the same article across plants."), 0o644))

	require.NoError(t, h.run("knowledge", "ingest", docs))
	assert.Contains(t, h.out.String(), "Indexed 1 file(s)")

	require.NoError(t, h.run("knowledge", "search", "dispatcher", "groups", "--min-score", "0"))
	assert.Contains(t, h.out.String(), "guide.md")
}

func TestResultsExit(t *testing.T) {
	done := autocorrect.Result{Status: autocorrect.StatusDone}
	partial := autocorrect.Result{Status: autocorrect.StatusMaxIterationsReached}
	aborted := autocorrect.Result{Status: autocorrect.StatusAborted}

	assert.NoError(t, resultsExit([]autocorrect.Result{done}))
	assert.Equal(t, 2, exitCode(resultsExit([]autocorrect.Result{done, partial})))
	assert.Equal(t, 1, exitCode(resultsExit([]autocorrect.Result{partial, aborted, done})))
}

func TestPrintResultCountsManualInterventions(t *testing.T) {
	parked := []snapshot.Message{
		{Level: snapshot.LevelError, Message: "Work plan list must not be empty"},
		{Level: snapshot.LevelError, Message: "No equipment defined"},
	}
	var b strings.Builder
	printResult(&b, autocorrect.Result{
		SnapshotID:          "snap-1",
		Status:              autocorrect.StatusManualInterventionRequired,
		Iterations:          2,
		Corrections:         1,
		ManualInterventions: parked,
	})
	assert.Equal(t, "snap-1: manual_intervention_required after 2 iteration(s), 1 correction(s), 2 manual\n", b.String())
}
