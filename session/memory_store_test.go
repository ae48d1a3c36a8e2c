package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess := New("c1", false, 5)
	require.NoError(t, store.Save(ctx, sess))

	loaded, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", loaded.ClientID)

	ok, err := store.Exists(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, store.Delete(ctx, "c1"))
	_, err = store.Load(ctx, "c1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStoreClosed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Save(ctx, New("c1", false, 5)), ErrStoreClosed)
	_, err := store.Load(ctx, "c1")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Close(), ErrStoreClosed)
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.Save(ctx, New("c1", false, 5)))
}
