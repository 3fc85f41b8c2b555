package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartplanning/internal/llm"
	llmclient "smartplanning/internal/llmClient"
	"smartplanning/internal/snapshot"
)

func TestNextDuplicateIDStartsAtTwo(t *testing.T) {
	assert.Equal(t, "A_2", NextDuplicateID([]string{"A", "A"}, "A"))
	assert.Equal(t, "A_4", NextDuplicateID([]string{"A", "A", "A_2", "A_3"}, "A"))
}

func TestInferNextID(t *testing.T) {
	tests := []struct {
		ids  []string
		want string
	}{
		{[]string{"D001", "D002", "D010"}, "D011"},
		{[]string{"D830081_005", "D830081_006", "X"}, "D830081_007"},
		{[]string{"WP_1", "WP_2", "EQ_7"}, "WP_3"},
		{[]string{"100", "101"}, "102"},
		{[]string{"alpha", "beta"}, "DEM_AUTO_3"},
		{nil, "DEM_AUTO_1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferNextID(tt.ids, "DEM"), tt.ids)
	}
}

func TestPlaceholders(t *testing.T) {
	values := []any{"WP_GR_1", "WP_GR_2", "dummy", "XX9", "WP_GR_7"}
	known := map[string]bool{"WP_GR_1": true, "WP_GR_2": true}
	got := findPlaceholders("articles[0].workPlanIds", values, known)
	require.Len(t, got, 3)
	assert.Equal(t, "articles[0].workPlanIds[2]", got[0].Path)
	assert.Equal(t, "sentinel value", got[0].Reason)
	assert.Equal(t, "XX9", got[1].Value)
	assert.Equal(t, "WP_GR_7", got[2].Value)
	assert.Equal(t, "does not reference an existing entity", got[2].Reason)
}

func TestScorePrefersCategoryOverMarginalSimilarity(t *testing.T) {
	coherent := Score(1, 0.55, true)
	closer := Score(0, 0.70, true)
	assert.Greater(t, coherent, closer)
	assert.Equal(t, 0.7, Score(0, 0.7, false))
}

func TestIdentifierUsesRulesFirst(t *testing.T) {
	client := llm.NewScriptedClient()
	id, call, err := NewIdentifier(client, nil).Identify(context.Background(),
		errMsg("[validate_unique_ids] Demand IDs must be unique. Duplicates found: D1."))
	require.NoError(t, err)
	assert.Nil(t, call)
	assert.Equal(t, KindDuplicateID, id.Kind)
	assert.Empty(t, client.Calls(""))
}

func TestIdentifierFallsBackToModel(t *testing.T) {
	client := llm.NewScriptedClient().OnJSON(PhaseIdentify, map[string]any{
		"search_mode":        "empty_field",
		"search_value":       "equipmentId",
		"error_type":         "empty equipment id",
		"should_investigate": true,
	})
	client.Usage = llmclient.Usage{PromptTokens: 40, CompletionTokens: 10, TotalTokens: 50}

	msg := snapshot.Message{Level: snapshot.LevelError, Message: "[validate_machines] Some machine keys are blank"}
	id, call, err := NewIdentifier(client, nil).Identify(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, "llm", id.Source)
	assert.Equal(t, ModeEmptyField, id.SearchMode)
	assert.Equal(t, "equipment", id.Collection)
	assert.Equal(t, KindEmptyID, id.Kind)
	assert.True(t, id.ShouldInvestigate)
	assert.Equal(t, 50, call.Usage.TotalTokens)
	assert.JSONEq(t, `{"search_mode":"empty_field","search_value":"equipmentId","error_type":"empty equipment id","should_investigate":true}`, string(call.Response))

	calls := client.Calls(PhaseIdentify)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "search_mode")
}

func TestIdentifierModelFailure(t *testing.T) {
	client := llm.NewScriptedClient().On(PhaseIdentify, llm.Reply{Err: errors.New("boom")})
	_, call, err := NewIdentifier(client, nil).Identify(context.Background(), errMsg("something odd"))
	require.Error(t, err)
	require.NotNil(t, call)
	assert.Equal(t, "boom", call.Error)
}

func TestIdentifierWithoutModel(t *testing.T) {
	id, call, err := NewIdentifier(nil, nil).Identify(context.Background(), errMsg("something odd"))
	require.NoError(t, err)
	assert.Nil(t, call)
	assert.False(t, id.ShouldInvestigate)
}
