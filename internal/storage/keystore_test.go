package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/models"
)

// testKeyStore runs the behaviour every KeyStore backend must share.
func testKeyStore(t *testing.T, store KeyStore) {
	t.Helper()
	ctx := context.Background()

	rawA, err := models.GenerateAPIKey("test")
	require.NoError(t, err)
	rawB, err := models.GenerateAPIKey("test")
	require.NoError(t, err)

	keyA := models.NewAPIKey(models.NewKeyID(), "first", rawA)
	keyB := models.NewAPIKey(models.NewKeyID(), "second", rawB)
	keyB.CreatedAt = keyA.CreatedAt.Add(time.Second)

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, store.Ping(ctx))
	})

	t.Run("Empty list", func(t *testing.T) {
		keys, err := store.ListAPIKeys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("Create and get by hash", func(t *testing.T) {
		require.NoError(t, store.CreateAPIKey(ctx, keyA))
		require.NoError(t, store.CreateAPIKey(ctx, keyB))

		got, err := store.GetAPIKeyByHash(ctx, models.HashAPIKey(rawA))
		require.NoError(t, err)
		assert.Equal(t, keyA.ID, got.ID)
		assert.Equal(t, "first", got.Name)
		assert.Equal(t, models.KeyPrefix(rawA), got.Prefix)
		assert.True(t, got.Enabled)
		assert.WithinDuration(t, keyA.CreatedAt, got.CreatedAt, time.Millisecond)
	})

	t.Run("Duplicate rejected", func(t *testing.T) {
		dup := models.NewAPIKey(models.NewKeyID(), "dup", rawA)
		assert.ErrorIs(t, store.CreateAPIKey(ctx, dup), ErrDuplicate)
	})

	t.Run("Unknown hash", func(t *testing.T) {
		_, err := store.GetAPIKeyByHash(ctx, models.HashAPIKey("sk-test-unknown"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("List is ordered oldest first", func(t *testing.T) {
		keys, err := store.ListAPIKeys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.Equal(t, keyA.ID, keys[0].ID)
		assert.Equal(t, keyB.ID, keys[1].ID)
	})

	t.Run("Update", func(t *testing.T) {
		update := *keyA
		update.Name = "renamed"
		update.Enabled = false
		require.NoError(t, store.UpdateAPIKey(ctx, &update))

		got, err := store.GetAPIKeyByHash(ctx, keyA.KeyHash)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.False(t, got.Enabled)
		assert.Equal(t, keyA.KeyHash, got.KeyHash, "hash is immutable")

		missing := *keyA
		missing.ID = "missing"
		assert.ErrorIs(t, store.UpdateAPIKey(ctx, &missing), ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.DeleteAPIKey(ctx, keyA.ID))
		assert.ErrorIs(t, store.DeleteAPIKey(ctx, keyA.ID), ErrNotFound)

		_, err := store.GetAPIKeyByHash(ctx, keyA.KeyHash)
		assert.ErrorIs(t, err, ErrNotFound)

		keys, err := store.ListAPIKeys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, keyB.ID, keys[0].ID)
	})
}
