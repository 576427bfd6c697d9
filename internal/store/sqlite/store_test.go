package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-tracker/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "nested", "portfolio.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_GetMissingKey(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "portfolio")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStore_PutOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "portfolio", []byte(`{"v":1}`)))
	require.NoError(t, s.Put(ctx, "portfolio", []byte(`{"v":2}`)))

	got, err := s.Get(ctx, "portfolio")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(got))

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolio.db")
	ctx := context.Background()

	s, err := New(Config{DBPath: path})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "portfolio", []byte("blob")))
	require.NoError(t, s.Close())

	s, err = New(Config{DBPath: path})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "portfolio")
	require.NoError(t, err)
	assert.Equal(t, "blob", string(got))
}
