package memory

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botgate/internal/domain"
)

func newSQLite(t *testing.T, obs OpObserver) *SQLiteBackend {
	t.Helper()
	s, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "data", "memory.db"), obs, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreGet(t *testing.T) {
	obs := &opRecorder{}
	s := newSQLite(t, obs)
	ctx := context.Background()

	rec, err := s.Store(ctx, "alice", "likes green tea", map[string]any{"source": "import", "n": 2})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, "likes green tea", got.Content)
	assert.Equal(t, map[string]any{"source": "import", "n": float64(2)}, got.Metadata)
	assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, 0)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, []string{"sqlite.store:ok", "sqlite.get:ok", "sqlite.get:error"}, obs.ops)
}

func TestSQLiteStoreRequiresOwner(t *testing.T) {
	s := newSQLite(t, nil)
	_, err := s.Store(context.Background(), "", "x", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.ErrorIs(t, err, domain.ErrMemoryStore)
}

func TestSQLiteSearchIsOwnerScoped(t *testing.T) {
	s := newSQLite(t, nil)
	ctx := context.Background()
	for _, c := range []string{"tea in the morning", "coffee at noon", "100% green TEA"} {
		_, err := s.Store(ctx, "alice", c, map[string]any{"kind": "drink"})
		require.NoError(t, err)
	}
	_, err := s.Store(ctx, "bob", "tea for bob", nil)
	require.NoError(t, err)

	recs, err := s.Search(ctx, "alice", "tea", 10, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2, "LIKE is case-insensitive for ASCII")
	for _, r := range recs {
		assert.Equal(t, "alice", r.Owner)
		assert.Equal(t, 1.0, r.Score)
	}

	recs, err = s.Search(ctx, "alice", "100%", 10, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "100% green TEA", recs[0].Content)

	recs, err = s.Search(ctx, "alice", "", 2, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.Search(ctx, "alice", "", 10, map[string]any{"kind": "food"})
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = s.Search(ctx, "carol", "", 10, nil)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestSQLiteListPaging(t *testing.T) {
	s := newSQLite(t, nil)
	ctx := context.Background()
	for i := range 5 {
		_, err := s.Store(ctx, "alice", fmt.Sprintf("memory %d", i), nil)
		require.NoError(t, err)
	}

	all, err := s.List(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "memory 4", all[0].Content, "newest first")

	page, err := s.List(ctx, "alice", 2, 3)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "memory 1", page[0].Content)
	assert.Equal(t, "memory 0", page[1].Content)
}

func TestSQLiteUpdateDelete(t *testing.T) {
	s := newSQLite(t, nil)
	ctx := context.Background()
	rec, err := s.Store(ctx, "alice", "old", map[string]any{"a": "1"})
	require.NoError(t, err)

	_, err = s.Update(ctx, rec.ID, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	content := "new"
	updated, err := s.Update(ctx, rec.ID, &content, nil)
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Content)
	assert.Equal(t, map[string]any{"a": "1"}, updated.Metadata)

	updated, err = s.Update(ctx, rec.ID, nil, map[string]any{"b": "2"})
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Content)
	assert.Equal(t, map[string]any{"b": "2"}, updated.Metadata)

	_, err = s.Update(ctx, "missing", &content, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ok, err := s.Delete(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteConcurrentStores(t *testing.T) {
	s := newSQLite(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Store(ctx, "alice", fmt.Sprintf("item %d", i), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := s.List(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 20)
	assert.True(t, s.Health(ctx))
}
