package artifact

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "snap-1", "snapshot.json")
	require.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	require.NoError(t, s.Put(ctx, "snap-1", "snapshot.json", []byte(`{"a":1}`)))
	require.NoError(t, s.Put(ctx, "snap-1", "/iteration-1/validation.json", []byte(`[]`)))
	require.NoError(t, s.Put(ctx, "snap-2", "snapshot.json", []byte(`{}`)))
	require.NoError(t, s.Put(ctx, "snap-1", "snapshot.json", []byte(`{"a":2}`)))

	got, err := s.Get(ctx, "snap-1", "snapshot.json")
	require.NoError(t, err)
	require.Equal(t, `{"a":2}`, string(got))

	paths, err := s.List(ctx, "snap-1")
	require.NoError(t, err)
	require.Equal(t, []string{"iteration-1/validation.json", "snapshot.json"}, paths)

	require.Error(t, s.Put(ctx, " ", "x", nil))
	_, err = s.List(ctx, "")
	require.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "workspace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestUnknownDialect(t *testing.T) {
	_, err := NewSQLStore(nil, "oracle")
	require.Error(t, err)
}
