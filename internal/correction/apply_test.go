package correction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	artifactrepo "smartplanning/internal/repository/artifact"
	"smartplanning/internal/snapshot"
	"smartplanning/internal/workspace"
)

type recorded struct{ entries []Applied }

func (r *recorded) RecordCorrection(_ context.Context, a Applied) error {
	r.entries = append(r.entries, a)
	return nil
}

func parseDoc(t *testing.T, raw string) *snapshot.Document {
	t.Helper()
	d, err := snapshot.Parse([]byte(raw))
	require.NoError(t, err)
	return d
}

func newApplier(t *testing.T, reference *snapshot.Document) (*Applier, *workspace.Accessor, *recorded) {
	t.Helper()
	ws := workspace.New(artifactrepo.NewMemoryStore(), nil)
	rec := &recorded{}
	return NewApplier(ws, rec, reference, nil), ws, rec
}

func applyProposal(t *testing.T, a *Applier, doc *snapshot.Document, p Proposal) (*snapshot.Document, Applied, error) {
	t.Helper()
	return a.Apply(context.Background(), ApplyRequest{
		SnapshotID: "snap-1",
		Iteration:  1,
		Document:   doc,
		Validation: snapshot.Messages{{Level: snapshot.LevelError, Message: "[v] broken"}},
		Envelope:   Envelope{Iteration: 1, SnapshotID: "snap-1", Proposal: p},
	})
}

const planDoc = `{
	"demands": [
		{"demandId": "D1", "articleId": "A1", "quantity": 5},
		{"demandId": "D2", "articleId": "A2", "quantity": 7}
	],
	"articles": [
		{"articleId": "A1", "workPlanIds": ["WP_1", "WP_2", "WP_3"]},
		{"articleId": "A2", "workPlanIds": []}
	]
}`

func TestUpdateFieldRoundTrip(t *testing.T) {
	tests := []struct {
		path  string
		value any
	}{
		{"demands[0].articleId", "A2"},
		{"demands[1].quantity", "12"},
		{"articles[0].workPlanIds[1]", "WP_9"},
		{"articles[1].workPlanIds", []any{"WP_1"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			a, ws, _ := newApplier(t, nil)
			doc := parseDoc(t, planDoc)
			out, applied, err := applyProposal(t, a, doc, Proposal{
				Action: ActionUpdateField, TargetPath: tt.path, NewValue: tt.value, Reasoning: "fix",
			})
			require.NoError(t, err)

			got, err := out.Get(snapshot.MustPath(tt.path))
			require.NoError(t, err)
			assert.True(t, snapshot.Equal(tt.value, got))
			assert.Equal(t, tt.value, applied.NewValue)

			stored, err := ws.LoadDocument(context.Background(), "snap-1", workspace.FileSnapshot)
			require.NoError(t, err)
			got, err = stored.Get(snapshot.MustPath(tt.path))
			require.NoError(t, err)
			assert.True(t, snapshot.Equal(tt.value, got))

			orig, err := doc.Get(snapshot.MustPath(tt.path))
			require.NoError(t, err)
			assert.False(t, snapshot.Equal(tt.value, orig), "the input document is not mutated")
		})
	}
}

func TestApplyBacksUpBeforeMutating(t *testing.T) {
	a, ws, rec := newApplier(t, nil)
	doc := parseDoc(t, planDoc)
	_, applied, err := applyProposal(t, a, doc, Proposal{
		Action: ActionUpdateField, TargetPath: "demands[0].articleId", CurrentValue: "A1", NewValue: "A2", Reasoning: "fix",
	})
	require.NoError(t, err)
	assert.Equal(t, "A1", applied.OldValue)

	ctx := context.Background()
	backup, err := ws.LoadDocument(ctx, "snap-1", workspace.IterationPath(1, workspace.FileSnapshot))
	require.NoError(t, err)
	v, _ := backup.Get(snapshot.MustPath("demands[0].articleId"))
	assert.Equal(t, "A1", v)

	msgs, err := ws.LoadMessages(ctx, "snap-1", workspace.IterationPath(1, workspace.FileValidation))
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	ok, err := ws.Exists(ctx, "snap-1", workspace.IterationPath(1, workspace.FileCorrectionApplied))
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, rec.entries, 1)
	assert.Equal(t, ActionUpdateField, rec.entries[0].Action)
}

func TestRemoveByIndexPreservesOrder(t *testing.T) {
	a, _, _ := newApplier(t, nil)
	doc := parseDoc(t, planDoc)

	out, _, err := applyProposal(t, a, doc, Proposal{
		Action: ActionRemoveFromArray, TargetPath: "articles[0].workPlanIds[1]", CurrentValue: "WP_2", Reasoning: "drop",
	})
	require.NoError(t, err)
	v, _ := out.Get(snapshot.MustPath("articles[0].workPlanIds"))
	assert.Equal(t, []any{"WP_1", "WP_3"}, v)

	out, _, err = applyProposal(t, a, out, Proposal{
		Action: ActionRemoveFromArray, TargetPath: "demands[0]", Reasoning: "drop",
	})
	require.NoError(t, err)
	demands, _ := out.Collection("demands")
	require.Len(t, demands, 1)
	assert.Equal(t, "D2", demands[0].(map[string]any)["demandId"])
}

func TestRemoveByFilter(t *testing.T) {
	a, _, _ := newApplier(t, nil)
	out, applied, err := applyProposal(t, a, parseDoc(t, planDoc), Proposal{
		Action:       ActionRemoveFromArray,
		TargetPath:   "demands",
		CurrentValue: map[string]any{"demandId": "D2"},
		Reasoning:    "drop",
	})
	require.NoError(t, err)
	demands, _ := out.Collection("demands")
	require.Len(t, demands, 1)
	assert.Equal(t, "D2", applied.OldValue.(map[string]any)["demandId"])
}

func TestAddToArray(t *testing.T) {
	a, _, _ := newApplier(t, nil)
	out, _, err := applyProposal(t, a, parseDoc(t, planDoc), Proposal{
		Action:     ActionAddToArray,
		TargetPath: "demands",
		NewValue:   `{"demandId": "D3", "articleId": "A1"}`,
		Reasoning:  "missing demand",
	})
	require.NoError(t, err)
	demands, _ := out.Collection("demands")
	require.Len(t, demands, 3)
	assert.Equal(t, "D3", demands[2].(map[string]any)["demandId"])
}

func TestApplyUnresolvablePathWritesNothing(t *testing.T) {
	a, ws, rec := newApplier(t, nil)
	doc := parseDoc(t, planDoc)
	_, _, err := applyProposal(t, a, doc, Proposal{
		Action:            ActionUpdateField,
		TargetPath:        "demands[0].articleId",
		NewValue:          "A2",
		Reasoning:         "fix",
		AdditionalUpdates: []AdditionalUpdate{{TargetPath: "demands[9].articleId", NewValue: "A2"}},
	})
	require.ErrorIs(t, err, ErrApply)

	exists, err := ws.Exists(context.Background(), "snap-1", workspace.FileSnapshot)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, rec.entries)
	v, _ := doc.Get(snapshot.MustPath("demands[0].articleId"))
	assert.Equal(t, "A1", v)
}

func TestManualInterventionLeavesDocument(t *testing.T) {
	a, ws, rec := newApplier(t, nil)
	doc := parseDoc(t, planDoc)
	out, applied, err := applyProposal(t, a, doc, Proposal{
		Action: ActionManualIntervention, TargetPath: "workPlans", Reasoning: "reference data disabled",
	})
	require.NoError(t, err)
	assert.Same(t, doc, out)
	assert.True(t, applied.ManualIntervention)
	exists, _ := ws.Exists(context.Background(), "snap-1", workspace.FileSnapshot)
	assert.False(t, exists)
	require.Len(t, rec.entries, 1)
	assert.True(t, rec.entries[0].ManualIntervention)
}

func TestUseReferenceData(t *testing.T) {
	ref := parseDoc(t, `{"workPlans": [{"workPlanId": "R1"}, {"workPlanId": "R2"}]}`)
	a, ws, _ := newApplier(t, ref)
	out, applied, err := applyProposal(t, a, parseDoc(t, `{"workPlans": []}`), Proposal{
		Action: ActionUpdateField, TargetPath: "workPlans", NewValue: ReferenceDataSentinel, Reasoning: "fallback",
	})
	require.NoError(t, err)
	plans, _ := out.Collection("workPlans")
	assert.Len(t, plans, 2)
	assert.True(t, applied.ReferenceDataUsed)
	assert.Equal(t, 2, applied.ReferenceCount)
	exists, _ := ws.Exists(context.Background(), "snap-1", workspace.FileReferenceUsage)
	assert.True(t, exists)
}

func TestCheckRejectsDuplicates(t *testing.T) {
	doc := parseDoc(t, planDoc)
	tests := []struct {
		name string
		p    Proposal
	}{
		{"id collision", Proposal{Action: ActionUpdateField, TargetPath: "demands[1].demandId", NewValue: "D1", Reasoning: "x"}},
		{"array value repeat", Proposal{Action: ActionUpdateField, TargetPath: "articles[0].workPlanIds[2]", NewValue: "WP_1", Reasoning: "x"}},
		{"whole array repeat", Proposal{Action: ActionUpdateField, TargetPath: "articles[1].workPlanIds", NewValue: []any{"WP_1", "WP_1"}, Reasoning: "x"}},
		{"added id collision", Proposal{Action: ActionAddToArray, TargetPath: "demands", NewValue: map[string]any{"demandId": "D2"}, Reasoning: "x"}},
		{"path missing", Proposal{Action: ActionUpdateField, TargetPath: "demands[0].missing", NewValue: "x", Reasoning: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := tt.p.Parse()
			require.NoError(t, err)
			err = Check(plan, doc, CheckOptions{})
			var verr ValidationErrors
			require.True(t, errors.As(err, &verr), "got %v", err)
		})
	}
}

func TestCheckReferenceDataFlag(t *testing.T) {
	plan, err := Proposal{Action: ActionUpdateField, TargetPath: "workPlans", NewValue: ReferenceDataSentinel, Reasoning: "x"}.Parse()
	require.NoError(t, err)
	doc := parseDoc(t, `{"workPlans": []}`)

	err = Check(plan, doc, CheckOptions{})
	assert.ErrorIs(t, err, ErrReferenceDataDisabled)

	ref := parseDoc(t, `{"workPlans": [{"workPlanId": "R1"}]}`)
	assert.NoError(t, Check(plan, doc, CheckOptions{UseReferenceData: true, Reference: ref}))
}
