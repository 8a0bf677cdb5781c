package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"pulse/internal/models"
	"pulse/internal/storage"
)

func setupMemoryStorage(t *testing.T) storage.KeyStore {
	t.Helper()
	s, err := storage.NewMemoryStorage(storage.Config{Type: models.KeyStoreMemory})
	require.NoError(t, err)
	return s
}

func TestInstrumentedKeyStore_ImplementsInterface(t *testing.T) {
	var _ storage.KeyStore = (*InstrumentedKeyStore)(nil)
}

func TestInstrumentedKeyStore_Operations(t *testing.T) {
	_ = setupManualReader(t)

	s, err := NewInstrumentedKeyStore(setupMemoryStorage(t))
	require.NoError(t, err)
	ctx := context.Background()

	key := models.NewAPIKey(models.NewKeyID(), "ci", "sk-test-0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, s.CreateAPIKey(ctx, key))

	got, err := s.GetAPIKeyByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)

	got.Enabled = false
	require.NoError(t, s.UpdateAPIKey(ctx, got))

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.False(t, keys[0].Enabled)

	require.NoError(t, s.DeleteAPIKey(ctx, key.ID))
	assert.NoError(t, s.Ping(ctx))
	assert.NoError(t, s.Close())
}

func TestInstrumentedKeyStore_ErrorRecording(t *testing.T) {
	reader := setupManualReader(t)

	s, err := NewInstrumentedKeyStore(setupMemoryStorage(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.GetAPIKeyByHash(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.DeleteAPIKey(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	key := models.NewAPIKey("dup", "a", "raw-a")
	require.NoError(t, s.CreateAPIKey(ctx, key))
	assert.ErrorIs(t, s.CreateAPIKey(ctx, key), storage.ErrDuplicate)

	rm := collect(t, reader)
	assert.Equal(t, int64(1), sumWhere(t, rm, "storage.operation.errors", attribute.String("operation", "CreateAPIKey")),
		"misses are not errors, duplicates are")
	assert.Equal(t, int64(0), sumWhere(t, rm, "storage.operation.errors", attribute.String("operation", "GetAPIKeyByHash")))
}
