package autocorrect

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"smartplanning/internal/correction"
	"smartplanning/internal/llm"
	"smartplanning/internal/planning"
	artifactrepo "smartplanning/internal/repository/artifact"
	"smartplanning/internal/snapshot"
	"smartplanning/internal/workspace"
)

// genai's dependency chain starts this worker at init.
var ignoreOpenCensus = goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start")

// fakePlanning stores documents and validates them with a few of the
// service's business rules.
type fakePlanning struct {
	mu          sync.Mutex
	docs        map[string]*snapshot.Document
	validations int
	uploads     int

	// gate, when set, blocks GetSnapshot until closed.
	gate      chan struct{}
	slowCheck bool
}

func newFakePlanning() *fakePlanning {
	return &fakePlanning{docs: map[string]*snapshot.Document{}}
}

func (f *fakePlanning) put(t *testing.T, id, raw string) {
	t.Helper()
	doc, err := snapshot.Parse([]byte(raw))
	require.NoError(t, err)
	f.mu.Lock()
	f.docs[id] = doc
	f.mu.Unlock()
}

func (f *fakePlanning) doc(id string) *snapshot.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id]
}

func (f *fakePlanning) GetSnapshot(ctx context.Context, id string) (*planning.Snapshot, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, &planning.APIError{Status: 404, Body: "not found"}
	}
	return &planning.Snapshot{SnapshotInfo: planning.SnapshotInfo{ID: id, Name: "plan " + id}, Document: doc.Clone()}, nil
}

func (f *fakePlanning) Validate(ctx context.Context, id string) (planning.Validation, error) {
	if f.slowCheck {
		<-ctx.Done()
		return planning.Validation{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validations++
	msgs := businessRules(f.docs[id])
	v := planning.Validation{Status: planning.StatusOK, Messages: msgs}
	if msgs.HasErrors() {
		v.Status = planning.StatusBusinessValidationError
	}
	return v, nil
}

func (f *fakePlanning) UpdateSnapshot(_ context.Context, id, name string, doc *snapshot.Document, _ string) (planning.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	f.docs[id] = doc.Clone()
	valid := !businessRules(doc).HasErrors()
	return planning.SnapshotInfo{ID: id, Name: name, IsSuccessfullyValidated: &valid, DataModifiedBy: "test"}, nil
}

func businessRules(doc *snapshot.Document) snapshot.Messages {
	var out snapshot.Messages
	if doc == nil {
		return out
	}
	known := map[string]bool{}
	articles, _ := doc.Collection("articles")
	for _, a := range articles {
		known[snapshot.Scalar(a.(map[string]any)["articleId"])] = true
	}
	demands, _ := doc.Collection("demands")
	for _, d := range demands {
		id := snapshot.Scalar(d.(map[string]any)["articleId"])
		if !known[id] {
			out = append(out, snapshot.Message{Level: snapshot.LevelError,
				Message: "[validate_demand_article_ids] Article IDs in Demands do not exist in Articles: " + id})
		}
	}
	if plans, ok := doc.Collection("workPlans"); ok && len(plans) == 0 {
		out = append(out, snapshot.Message{Level: snapshot.LevelError, Message: "[validate_work_plans] No work plans defined"})
	}
	out = append(out, snapshot.Message{Level: snapshot.LevelWarning, Message: "[validate_density_values] density not set"})
	return out
}

// countingGenerator counts the calls reaching the wrapped generator.
type countingGenerator struct {
	correction.Generator
	mu    sync.Mutex
	calls int
}

func (c *countingGenerator) Generate(ctx context.Context, req correction.Request) (correction.Generation, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Generator.Generate(ctx, req)
}

type collected struct {
	mu     sync.Mutex
	events []Event
}

func (c *collected) Publish(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

type fixture struct {
	engine *Engine
	api    *fakePlanning
	ws     *workspace.Accessor
	gen    *countingGenerator
	events *collected
}

func newFixture(t *testing.T, cfg Config, gen correction.Generator) *fixture {
	t.Helper()
	if gen == nil {
		gen = correction.NewHeuristicGenerator()
	}
	f := &fixture{
		api:    newFakePlanning(),
		ws:     workspace.New(artifactrepo.NewMemoryStore(), nil),
		gen:    &countingGenerator{Generator: gen},
		events: &collected{},
	}
	e, err := New(Deps{Planning: f.api, Workspace: f.ws, Generator: f.gen, Observer: f.events}, cfg, nil)
	require.NoError(t, err)
	f.engine = e
	return f
}

func danglingDoc(n int) string {
	demands := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			demands += ","
		}
		demands += fmt.Sprintf(`{"demandId": "D%03d", "articleId": "SPE_PU_g%d"}`, i, i)
	}
	return `{"articles": [{"articleId": "SPE_PU_gr"}], "demands": [` + demands + `]}`
}

func TestCleanSnapshotIsDoneWithoutGenerator(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.api.put(t, "snap-1", `{
		"demands": [{"demandId": "D1", "articleId": "SPE_EM"}, {"demandId": "D2", "articleId": "SPE_EM"}],
		"articles": [{"articleId": "SPE_EM"}]
	}`)

	res, err := f.engine.Run(context.Background(), Request{SnapshotID: "snap-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)
	assert.Equal(t, 0, res.ExitCode())
	assert.Equal(t, 0, f.gen.calls)
	assert.Equal(t, 1, f.api.validations)
	assert.Equal(t, 0, res.Corrections)
	assert.Empty(t, res.Remaining, "warnings are not acted on")

	meta, err := f.ws.LoadBytes(context.Background(), "snap-1", workspace.FileMetadata)
	require.NoError(t, err)
	assert.Contains(t, string(meta), "## INITIAL VALIDATION (First Run)")
}

func TestIterationCap(t *testing.T) {
	f := newFixture(t, Config{MaxIterations: 3}, nil)
	f.api.put(t, "snap-1", danglingDoc(5))

	res, err := f.engine.Run(context.Background(), Request{SnapshotID: "snap-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusMaxIterationsReached, res.Status)
	assert.Equal(t, 2, res.ExitCode())
	assert.Equal(t, 3, res.Corrections)
	assert.Equal(t, 3, res.Iterations)
	assert.Len(t, res.Remaining, 2)
	assert.Equal(t, 3, f.api.uploads)
	assert.Equal(t, 4, f.api.validations)

	ctx := context.Background()
	for n := 1; n <= 3; n++ {
		for _, name := range []string{workspace.FileSnapshot, workspace.FileValidation, workspace.FileContext,
			workspace.FileProposal, workspace.FileSchemaValidation, workspace.FileCorrectionApplied} {
			ok, err := f.ws.Exists(ctx, "snap-1", workspace.IterationPath(n, name))
			require.NoError(t, err)
			assert.True(t, ok, "iteration %d %s", n, name)
		}
	}
	stored := f.api.doc("snap-1")
	v, err := stored.Get(snapshot.MustPath("demands[0].articleId"))
	require.NoError(t, err)
	assert.Equal(t, "SPE_PU_gr", v)

	meta, err := f.ws.LoadBytes(ctx, "snap-1", workspace.FileMetadata)
	require.NoError(t, err)
	assert.Contains(t, string(meta), "### LLM Correction Applied (Iteration 3)")
	assert.Contains(t, string(meta), "## UPLOAD Iteration 3")
}

func TestManualInterventionIsParked(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.api.put(t, "snap-1", `{"workPlans": [], "articles": [{"articleId": "A"}]}`)

	res, err := f.engine.Run(context.Background(), Request{SnapshotID: "snap-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusManualInterventionRequired, res.Status)
	assert.Equal(t, 2, res.ExitCode())
	require.Len(t, res.ManualInterventions, 1)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 0, f.api.uploads)
	assert.Equal(t, 1, f.api.validations)

	meta, err := f.ws.LoadBytes(context.Background(), "snap-1", workspace.FileMetadata)
	require.NoError(t, err)
	assert.Contains(t, string(meta), "**MANUAL INTERVENTION REQUIRED**")
}

func TestReferenceDataFallback(t *testing.T) {
	ref, err := snapshot.Parse([]byte(`{"workPlans": [{"workPlanId": "R1"}, {"workPlanId": "R2"}]}`))
	require.NoError(t, err)
	f := newFixture(t, Config{UseReferenceData: true, Reference: ref}, nil)
	f.api.put(t, "snap-1", `{"workPlans": [], "articles": [{"articleId": "A"}]}`)

	res, err := f.engine.Run(context.Background(), Request{SnapshotID: "snap-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)
	assert.True(t, res.ReferenceDataUsed)
	plans, _ := f.api.doc("snap-1").Collection("workPlans")
	assert.Len(t, plans, 2)
}

func TestSchemaExhaustionAborts(t *testing.T) {
	client := llm.NewScriptedClient()
	client.Default = &llm.Reply{JSON: `{"action":"update_field","target_path":"demands[0]","current_value":null,"new_value":"x","reasoning":"r"}`}
	f := newFixture(t, Config{}, correction.NewLLMGenerator(client, nil, nil))
	f.api.put(t, "snap-1", danglingDoc(1))

	res, err := f.engine.Run(context.Background(), Request{SnapshotID: "snap-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, res.Status)
	assert.Equal(t, 1, res.ExitCode())
	assert.Contains(t, res.Reason, correction.ErrInvalidAfterRetries.Error())
	assert.Len(t, client.Calls(correction.PhaseSchemaRetry), correction.MaxSchemaRetries)
	assert.Equal(t, 0, f.api.uploads)

	ok, err := f.ws.Exists(context.Background(), "snap-1", workspace.IterationPath(1, workspace.FileProposalCall))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStepTimeoutAborts(t *testing.T) {
	f := newFixture(t, Config{StepTimeout: 20 * time.Millisecond}, nil)
	f.api.put(t, "snap-1", danglingDoc(1))
	f.api.slowCheck = true

	res, err := f.engine.Run(context.Background(), Request{SnapshotID: "snap-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, res.Status)
	assert.Contains(t, res.Reason, "timed out")
}

func TestEventsTraceTheRun(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.api.put(t, "snap-1", danglingDoc(1))

	res, err := f.engine.Run(context.Background(), Request{SnapshotID: "snap-1", RunID: "run-1"})
	require.NoError(t, err)
	require.Equal(t, StatusDone, res.Status)

	var states []State
	for _, e := range f.events.events {
		assert.Equal(t, "run-1", e.RunID)
		states = append(states, e.State)
	}
	assert.Equal(t, []State{
		StateLoading, StateValidating, StateExtracting, StateGenerating, StateSchemaChecking,
		StateApplying, StateUploading, StateValidating, StateFinished,
	}, states)
	last := f.events.events[len(f.events.events)-1]
	assert.True(t, last.Final())
	assert.Equal(t, StatusDone, last.Status)

	raw, err := f.ws.LoadBytes(context.Background(), "snap-1", workspace.FileTrace)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"stage":"schema_checking"`)
}

func TestSecondRunOnSameSnapshotIsBusy(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	f := newFixture(t, Config{}, nil)
	f.api.put(t, "snap-1", danglingDoc(1))
	f.api.gate = make(chan struct{})

	done := make(chan Result, 1)
	go func() {
		res, _ := f.engine.Run(context.Background(), Request{SnapshotID: "snap-1"})
		done <- res
	}()
	require.Eventually(t, func() bool {
		_, ok := f.engine.Active("snap-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	_, err := f.engine.Run(context.Background(), Request{SnapshotID: "snap-1"})
	assert.ErrorIs(t, err, ErrSnapshotBusy)

	close(f.api.gate)
	res := <-done
	assert.Equal(t, StatusDone, res.Status)
	_, ok := f.engine.Active("snap-1")
	assert.False(t, ok)
}

func TestRunManyIsolatesSnapshots(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	f := newFixture(t, Config{}, nil)
	f.api.put(t, "snap-a", danglingDoc(2))
	f.api.put(t, "snap-b", danglingDoc(1))
	f.api.put(t, "snap-c", `{"articles": []}`)

	results := f.engine.RunMany(context.Background(), []string{"snap-a", "snap-b", "snap-c", "missing"}, 2, 0)
	require.Len(t, results, 4)
	assert.Equal(t, StatusDone, results[0].Status)
	assert.Equal(t, 2, results[0].Corrections)
	assert.Equal(t, StatusDone, results[1].Status)
	assert.Equal(t, 1, results[1].Corrections)
	assert.Equal(t, StatusDone, results[2].Status)
	assert.Equal(t, StatusAborted, results[3].Status)
	assert.Equal(t, "missing", results[3].SnapshotID)

	assert.Equal(t, 2, results[0].Iterations)
	assert.NotEqual(t, results[0].RunID, results[1].RunID)
}

func TestPipelines(t *testing.T) {
	ctx := context.Background()

	t.Run("analyze only", func(t *testing.T) {
		f := newFixture(t, Config{}, nil)
		f.api.put(t, "snap-1", danglingDoc(1))
		res, err := f.engine.RunPipeline(ctx, PipelineAnalyzeOnly, Request{SnapshotID: "snap-1"})
		require.NoError(t, err)
		assert.Equal(t, StatusAnalyzed, res.Status)
		assert.Equal(t, 1, f.gen.calls)
		assert.Equal(t, 0, f.api.uploads)
		for file, want := range map[string]bool{
			workspace.FileContext:           true,
			workspace.FileProposal:          true,
			workspace.FileCorrectionApplied: false,
		} {
			ok, err := f.ws.Exists(ctx, "snap-1", workspace.IterationPath(1, file))
			require.NoError(t, err)
			assert.Equal(t, want, ok, file)
		}

		res, err = f.engine.RunPipeline(ctx, PipelineApplyAndUpload, Request{SnapshotID: "snap-1"})
		require.NoError(t, err)
		assert.Equal(t, StatusDone, res.Status)
		assert.Equal(t, 1, f.api.uploads)
		v, err := f.api.doc("snap-1").Get(snapshot.MustPath("demands[0].articleId"))
		require.NoError(t, err)
		assert.Equal(t, "SPE_PU_gr", v)
	})

	t.Run("correct from stored validation", func(t *testing.T) {
		f := newFixture(t, Config{}, nil)
		f.api.put(t, "snap-1", danglingDoc(2))
		_, err := f.engine.RunStep(ctx, StepValidate, Request{SnapshotID: "snap-1"})
		require.NoError(t, err)

		res, err := f.engine.RunPipeline(ctx, PipelineFromValidation, Request{SnapshotID: "snap-1"})
		require.NoError(t, err)
		assert.Equal(t, StatusApplied, res.Status, res.Reason)
		assert.Equal(t, "1 errors remain", res.Reason)
		assert.Equal(t, 1, f.api.uploads)
		assert.Equal(t, 2, f.api.validations)

		res, err = f.engine.RunPipeline(ctx, PipelineFromValidation, Request{SnapshotID: "snap-1"})
		require.NoError(t, err)
		assert.Equal(t, StatusDone, res.Status)
		assert.Equal(t, 2, f.api.uploads)
	})

	t.Run("apply stored proposal", func(t *testing.T) {
		f := newFixture(t, Config{}, nil)
		f.api.put(t, "snap-1", danglingDoc(1))
		doc := f.api.doc("snap-1")
		require.NoError(t, f.ws.SaveDocument(ctx, "snap-1", workspace.FileSnapshot, doc))
		require.NoError(t, f.ws.SaveJSON(ctx, "snap-1", workspace.IterationPath(1, workspace.FileProposal), correction.Envelope{
			Iteration:  1,
			SnapshotID: "snap-1",
			Proposal: correction.Proposal{
				Action: correction.ActionUpdateField, TargetPath: "demands[0].articleId",
				CurrentValue: "SPE_PU_g1", NewValue: "SPE_PU_gr", Reasoning: "typo",
			},
		}))

		res, err := f.engine.RunPipeline(ctx, PipelineApplyAndUpload, Request{SnapshotID: "snap-1"})
		require.NoError(t, err)
		assert.Equal(t, StatusDone, res.Status)
		assert.Equal(t, 1, res.Corrections)
		ok, err := f.ws.Exists(ctx, "snap-1", workspace.IterationPath(1, workspace.FileCorrectionApplied))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unknown", func(t *testing.T) {
		f := newFixture(t, Config{}, nil)
		_, ok := ParsePipeline("nope")
		assert.False(t, ok)
		_, err := f.engine.RunPipeline(ctx, Pipeline("nope"), Request{SnapshotID: "snap-1"})
		assert.Error(t, err)
	})
}
