package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botgate/internal/domain"
)

func TestOwnerScopedIsolation(t *testing.T) {
	base := newSQLite(t, nil)
	ctx := context.Background()

	bobRec, err := base.Store(ctx, "bob", "bob's secret", nil)
	require.NoError(t, err)

	alice := NewOwnerScoped(base, "alice")
	aliceRec, err := alice.Store(ctx, "ignored", "alice's note", nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", aliceRec.Owner)
	assert.Equal(t, "sqlite", alice.Name())

	recs, err := alice.Search(ctx, "bob", "", 10, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, aliceRec.ID, recs[0].ID)

	recs, err = alice.List(ctx, "bob", 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	_, err = alice.Get(ctx, bobRec.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	content := "hijacked"
	_, err = alice.Update(ctx, bobRec.ID, &content, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ok, err := alice.Delete(ctx, bobRec.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	still, err := base.Get(ctx, bobRec.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob's secret", still.Content)

	ok, err = alice.Delete(ctx, aliceRec.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}
