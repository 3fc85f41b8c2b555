package workspace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	artifactrepo "smartplanning/internal/repository/artifact"
	"smartplanning/internal/snapshot"
)

func TestIterationNumbering(t *testing.T) {
	ctx := context.Background()
	acc := New(artifactrepo.NewMemoryStore(), nil)

	n, err := acc.LatestIteration(ctx, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	first, err := acc.NextIteration(ctx, "s1")
	require.NoError(t, err)
	second, err := acc.NextIteration(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second, "reserved numbers are not reused before files exist")

	require.NoError(t, acc.SaveJSON(ctx, "s1", IterationPath(7, FileContext), map[string]any{"a": 1}))
	require.NoError(t, acc.SaveJSON(ctx, "s1", IterationPath(3, FileProposal), map[string]any{"a": 1}))
	next, err := acc.NextIteration(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 8, next)

	latestWithProposal, err := acc.LatestIteration(ctx, "s1", FileProposal)
	require.NoError(t, err)
	assert.Equal(t, 3, latestWithProposal)

	iters, err := acc.Iterations(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, iters)

	other, err := acc.NextIteration(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, other)
}

func TestDocumentAndMessagesRoundTrip(t *testing.T) {
	ctx := context.Background()
	acc := New(artifactrepo.NewMemoryStore(), nil)

	doc, err := snapshot.Parse([]byte(`{"articles":[{"articleId":"A1","relDensityMin":0.10}]}`))
	require.NoError(t, err)
	require.NoError(t, acc.SaveDocument(ctx, "s1", FileSnapshot, doc))
	back, err := acc.LoadDocument(ctx, "s1", FileSnapshot)
	require.NoError(t, err)
	got, err := back.Get(snapshot.MustPath("articles[0].relDensityMin"))
	require.NoError(t, err)
	assert.Equal(t, "0.10", got.(interface{ String() string }).String())

	msgs := snapshot.Messages{{Level: snapshot.LevelError, Message: "x"}}
	require.NoError(t, acc.SaveMessages(ctx, "s1", FileValidation, msgs))
	loaded, err := acc.LoadMessages(ctx, "s1", FileValidation)
	require.NoError(t, err)
	assert.Equal(t, msgs, loaded)

	_, err = acc.LoadDocument(ctx, "s1", "missing.json")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAppendText(t *testing.T) {
	ctx := context.Background()
	acc := New(artifactrepo.NewMemoryStore(), nil)
	require.NoError(t, acc.AppendText(ctx, "s1", FileMetadata, "a\n"))
	require.NoError(t, acc.AppendText(ctx, "s1", FileMetadata, "b\n"))
	raw, err := acc.LoadBytes(ctx, "s1", FileMetadata)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(raw))

	ok, err := acc.Exists(ctx, "s1", FileMetadata)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = acc.Exists(ctx, "s1", FileAuditReport)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRetryFileNames(t *testing.T) {
	assert.Equal(t, "llm_correction_proposal_retry_0.json", RetryFile(0))
	assert.Equal(t, "iteration-12/context.json", IterationPath(12, FileContext))
	assert.Equal(t, 12, parseIteration("iteration-12/context.json"))
	assert.Equal(t, 0, parseIteration("iteration-x/context.json"))
}
