package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartplanning/internal/agent"
	"smartplanning/internal/autocorrect"
	"smartplanning/internal/gateway/config"
	"smartplanning/internal/llm"
	"smartplanning/internal/planning/planningtest"
)

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port: ":0",
		Env:  "test",
		Storage: config.StorageConfig{
			Mode:       mode,
			LocalPath:  filepath.Join(dir, "snapshots"),
			SQLitePath: filepath.Join(dir, "files.db"),
		},
		LLM:       config.LLMConfig{Provider: "heuristic", RetryAttempts: 1},
		Agent:     agent.DefaultConfig(),
		Knowledge: config.KnowledgeConfig{DBPath: filepath.Join(dir, "kb", "knowledge.db")},
	}
}

func TestBuildHeuristicCorrectsSnapshot(t *testing.T) {
	api := planningtest.New()
	require.NoError(t, api.Put("snap-1", "Plan A", planningtest.Dangling(2)))

	c, err := Build(context.Background(), testConfig(t, config.StorageMemory), nil, Overrides{Planning: api, Heuristic: true})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })

	assert.Nil(t, c.LLM)
	assert.Nil(t, c.Chat, "chat needs a model")
	assert.Len(t, c.Tools.Specs(), 14)
	require.NotNil(t, c.Knowledge)

	res, err := c.Engine.Run(context.Background(), autocorrect.Request{SnapshotID: "snap-1"})
	require.NoError(t, err)
	assert.Equal(t, autocorrect.StatusDone, res.Status)
	assert.Equal(t, 2, res.Corrections)

	events, err := c.Trace.Read(context.Background(), "snap-1", res.RunID)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestBuildWithModelEnablesChat(t *testing.T) {
	scripted := llm.NewScriptedClient()
	c, err := Build(context.Background(), testConfig(t, config.StorageMemory), zap.NewNop(), Overrides{
		Planning: planningtest.New(),
		LLM:      scripted,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })

	require.NotNil(t, c.LLM)
	require.NotNil(t, c.Chat)
	assert.Equal(t, scripted.Name(), c.LLM.Name())
}

func TestInitArtifactStoreModes(t *testing.T) {
	log := zap.NewNop()
	ctx := context.Background()

	for _, mode := range []string{config.StorageLocal, config.StorageMemory, config.StorageSQLite, config.StorageS3} {
		t.Run(mode, func(t *testing.T) {
			store, closer, err := initArtifactStore(testConfig(t, mode), log)
			require.NoError(t, err)
			if closer != nil {
				t.Cleanup(func() { _ = closer.Close() })
			}
			require.NoError(t, store.Put(ctx, "snap-1", "metadata.txt", []byte("hello")))
			got, err := store.Get(ctx, "snap-1", "metadata.txt")
			require.NoError(t, err)
			assert.Equal(t, "hello", string(got))
		})
	}

	_, _, err := initArtifactStore(testConfig(t, config.StoragePostgres), log)
	assert.ErrorContains(t, err, "DATABASE_URL")

	_, _, err = initArtifactStore(testConfig(t, "ftp"), log)
	assert.ErrorContains(t, err, "unknown STORAGE_MODE")
}

func TestNewAppShutdown(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, config.StorageMemory), nil, Overrides{
		Planning:  planningtest.New(),
		Heuristic: true,
	})
	require.NoError(t, err)
	require.NoError(t, a.Shutdown(context.Background()))
}
