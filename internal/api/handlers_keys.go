package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"pulse/internal/auth"
	"pulse/internal/models"
	"pulse/internal/storage"
)

// createAPIKeyRequest is the request body for POST /api/admin/keys.
type createAPIKeyRequest struct {
	Name        string `json:"name"`
	Environment string `json:"environment"`
}

// createAPIKeyResponse includes the raw key, returned exactly once.
type createAPIKeyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	Prefix    string    `json:"prefix"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// apiKeyResponse is the metadata-only view (no raw key, no hash).
type apiKeyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Prefix    string    `json:"prefix"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// updateAPIKeyRequest is the request body for PATCH /api/admin/keys/{id}.
// All fields are optional.
type updateAPIKeyRequest struct {
	Name    *string `json:"name"`
	Enabled *bool   `json:"enabled"`
}

func apiKeyToResponse(k *models.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:        k.ID,
		Name:      k.Name,
		Prefix:    k.Prefix,
		Enabled:   k.Enabled,
		CreatedAt: k.CreatedAt,
		UpdatedAt: k.UpdatedAt,
	}
}

// ListAPIKeys handles GET /api/admin/keys
func (h *Handlers) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	if !h.requireStorage(w) {
		return
	}
	keys, err := h.storage.ListAPIKeys(r.Context())
	if err != nil {
		slog.Error("Failed to list API keys", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to list keys")
		return
	}
	resp := make([]apiKeyResponse, len(keys))
	for i, k := range keys {
		resp[i] = apiKeyToResponse(k)
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// CreateAPIKey handles POST /api/admin/keys
func (h *Handlers) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireStorage(w) {
		return
	}
	var req createAPIKeyRequest
	if !h.readJSONBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "name is required")
		return
	}
	if req.Environment == "" {
		req.Environment = h.config.Environment
	}

	rawKey, err := models.GenerateAPIKey(keyEnvironment(req.Environment))
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to generate key")
		return
	}
	if !models.IsValidAPIKeyFormat(rawKey) {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "environment must be lowercase letters and digits")
		return
	}

	key := models.NewAPIKey(models.NewKeyID(), req.Name, rawKey)
	if err := h.storage.CreateAPIKey(r.Context(), key); err != nil {
		slog.Error("Failed to create API key", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to create key")
		return
	}
	if h.keys != nil {
		h.keys.AddHash(key.KeyHash)
	}

	slog.Info("api key created",
		"event", "security_audit",
		"action", "create",
		"key_id", key.ID,
		"key_name", key.Name,
		"actor", actor(r),
	)

	h.writeJSONResponse(w, http.StatusCreated, createAPIKeyResponse{
		ID:        key.ID,
		Name:      key.Name,
		Key:       rawKey,
		Prefix:    key.Prefix,
		Enabled:   key.Enabled,
		CreatedAt: key.CreatedAt,
	})
}

// UpdateAPIKey handles PATCH /api/admin/keys/{id}
// Disabling a key revokes it immediately; enabling restores it.
func (h *Handlers) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireStorage(w) {
		return
	}
	id := mux.Vars(r)["id"]
	var req updateAPIKeyRequest
	if !h.readJSONBody(w, r, &req) {
		return
	}

	key, err := h.findKey(r, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "key not found")
		} else {
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to fetch keys")
		}
		return
	}

	if req.Name != nil {
		key.Name = strings.TrimSpace(*req.Name)
	}
	if req.Enabled != nil {
		key.Enabled = *req.Enabled
	}
	key.UpdatedAt = time.Now().UTC()

	if err := h.storage.UpdateAPIKey(r.Context(), key); err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to update key")
		return
	}
	if h.keys != nil {
		if key.Enabled {
			h.keys.AddHash(key.KeyHash)
		} else {
			h.keys.RemoveHash(key.KeyHash)
		}
	}

	slog.Info("api key updated",
		"event", "security_audit",
		"action", "update",
		"key_id", key.ID,
		"key_name", key.Name,
		"enabled", key.Enabled,
		"actor", actor(r),
	)

	h.writeJSONResponse(w, http.StatusOK, apiKeyToResponse(key))
}

// DeleteAPIKey handles DELETE /api/admin/keys/{id}
func (h *Handlers) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if !h.requireStorage(w) {
		return
	}
	id := mux.Vars(r)["id"]

	key, err := h.findKey(r, id)
	if err == nil {
		err = h.storage.DeleteAPIKey(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "key not found")
		} else {
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to delete key")
		}
		return
	}
	if h.keys != nil {
		h.keys.RemoveHash(key.KeyHash)
	}

	slog.Info("api key deleted",
		"event", "security_audit",
		"action", "delete",
		"key_id", id,
		"actor", actor(r),
	)

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) requireStorage(w http.ResponseWriter) bool {
	if h.storage == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "key store not configured")
		return false
	}
	return true
}

// findKey fetches a key by ID by scanning the list (no GetByID method).
func (h *Handlers) findKey(r *http.Request, id string) (*models.APIKey, error) {
	keys, err := h.storage.ListAPIKeys(r.Context())
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.ID == id {
			return k, nil
		}
	}
	return nil, storage.ErrNotFound
}

// keyEnvironment maps the deployment environment to the short key tag.
func keyEnvironment(env string) string {
	switch env {
	case models.EnvProduction:
		return "prod"
	case models.EnvDevelopment:
		return "dev"
	}
	return strings.ToLower(env)
}

// actor names the bearer token subject making this request.
func actor(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.Subject != "" {
		return claims.Subject
	}
	return "unknown"
}
