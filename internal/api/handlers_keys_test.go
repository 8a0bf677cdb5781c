package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/auth"
	"pulse/internal/models"
	"pulse/internal/storage"
)

// newKeyTestHandlers creates a Handlers instance backed by a MemoryStorage
// pre-seeded with one key, which is also loaded into the live KeySet.
func newKeyTestHandlers(t *testing.T) (*Handlers, storage.KeyStore, *auth.KeySet, *models.APIKey, string) {
	t.Helper()
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)

	raw := "sk-test-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	seeded := models.NewAPIKey(models.NewKeyID(), "seeded", raw)
	require.NoError(t, store.CreateAPIKey(context.Background(), seeded))

	keys := auth.NewKeySet()
	keys.AddHash(seeded.KeyHash)

	cfg := models.NewDefaultConfig()
	cfg.Environment = models.EnvTest
	h := NewHandlers(cfg, WithStorage(store, keys))
	return h, store, keys, seeded, raw
}

func keyRequest(method, path string, body []byte, vars map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func TestListAPIKeys_ReturnsEmptyList(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	h := NewHandlers(models.NewDefaultConfig(), WithStorage(store, auth.NewKeySet()))

	rr := httptest.NewRecorder()
	h.ListAPIKeys(rr, keyRequest(http.MethodGet, "/api/admin/keys", nil, nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp []apiKeyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Empty(t, resp)
}

func TestListAPIKeys_ReturnsKeysWithoutHashes(t *testing.T) {
	h, _, _, seeded, _ := newKeyTestHandlers(t)

	rr := httptest.NewRecorder()
	h.ListAPIKeys(rr, keyRequest(http.MethodGet, "/api/admin/keys", nil, nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), seeded.KeyHash)
	var resp []apiKeyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "seeded", resp[0].Name)
	assert.Equal(t, seeded.Prefix, resp[0].Prefix)
}

func TestKeyHandlers_NoStorage(t *testing.T) {
	h := NewHandlers(models.NewDefaultConfig())

	rr := httptest.NewRecorder()
	h.ListAPIKeys(rr, keyRequest(http.MethodGet, "/api/admin/keys", nil, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestCreateAPIKey_ValidRequest_Returns201(t *testing.T) {
	h, store, keys, _, _ := newKeyTestHandlers(t)

	rr := httptest.NewRecorder()
	h.CreateAPIKey(rr, keyRequest(http.MethodPost, "/api/admin/keys", []byte(`{"name":"ci"}`), nil))

	require.Equal(t, http.StatusCreated, rr.Code)
	var resp createAPIKeyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ci", resp.Name)
	assert.True(t, resp.Enabled)
	assert.True(t, models.IsValidAPIKeyFormat(resp.Key))
	assert.Contains(t, resp.Key, "sk-test-")

	stored, err := store.GetAPIKeyByHash(context.Background(), models.HashAPIKey(resp.Key))
	require.NoError(t, err)
	assert.Equal(t, resp.ID, stored.ID)
	assert.True(t, keys.Contains(resp.Key), "new key is accepted immediately")
}

func TestCreateAPIKey_BadRequests(t *testing.T) {
	h, _, _, _, _ := newKeyTestHandlers(t)

	for _, body := range []string{`{"name":""}`, `{"name":"  "}`, `{bad`, `{"name":"x","environment":"Prod!"}`} {
		rr := httptest.NewRecorder()
		h.CreateAPIKey(rr, keyRequest(http.MethodPost, "/api/admin/keys", []byte(body), nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

func TestUpdateAPIKey_DisableRevokes(t *testing.T) {
	h, store, keys, seeded, raw := newKeyTestHandlers(t)
	require.True(t, keys.Contains(raw))

	rr := httptest.NewRecorder()
	h.UpdateAPIKey(rr, keyRequest(http.MethodPatch, "/api/admin/keys/"+seeded.ID,
		[]byte(`{"name":"renamed","enabled":false}`), map[string]string{"id": seeded.ID}))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp apiKeyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "renamed", resp.Name)
	assert.False(t, resp.Enabled)
	assert.False(t, keys.Contains(raw))

	stored, err := store.GetAPIKeyByHash(context.Background(), seeded.KeyHash)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)

	rr = httptest.NewRecorder()
	h.UpdateAPIKey(rr, keyRequest(http.MethodPatch, "/api/admin/keys/"+seeded.ID,
		[]byte(`{"enabled":true}`), map[string]string{"id": seeded.ID}))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, keys.Contains(raw))
}

func TestUpdateAPIKey_NotFound_Returns404(t *testing.T) {
	h, _, _, _, _ := newKeyTestHandlers(t)

	rr := httptest.NewRecorder()
	h.UpdateAPIKey(rr, keyRequest(http.MethodPatch, "/api/admin/keys/missing",
		[]byte(`{"name":"x"}`), map[string]string{"id": "missing"}))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteAPIKey_ValidID_Returns204(t *testing.T) {
	h, store, keys, seeded, raw := newKeyTestHandlers(t)

	rr := httptest.NewRecorder()
	h.DeleteAPIKey(rr, keyRequest(http.MethodDelete, "/api/admin/keys/"+seeded.ID, nil, map[string]string{"id": seeded.ID}))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, keys.Contains(raw))
	_, err := store.GetAPIKeyByHash(context.Background(), seeded.KeyHash)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteAPIKey_NotFound_Returns404(t *testing.T) {
	h, _, _, _, _ := newKeyTestHandlers(t)

	rr := httptest.NewRecorder()
	h.DeleteAPIKey(rr, keyRequest(http.MethodDelete, "/api/admin/keys/missing", nil, map[string]string{"id": "missing"}))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestKeyEnvironment(t *testing.T) {
	assert.Equal(t, "prod", keyEnvironment(models.EnvProduction))
	assert.Equal(t, "dev", keyEnvironment(models.EnvDevelopment))
	assert.Equal(t, "test", keyEnvironment(models.EnvTest))
	assert.Equal(t, "staging", keyEnvironment("Staging"))
}

func TestActor(t *testing.T) {
	assert.Equal(t, "unknown", actor(httptest.NewRequest(http.MethodGet, "/", nil)))
}
