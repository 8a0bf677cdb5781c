package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"pulse/internal/auth"
	"pulse/internal/models"
	"pulse/internal/ratelimit"
	"pulse/internal/storage"
	"pulse/internal/upstream"
	"pulse/internal/version"
)

// Handlers contains HTTP handlers for the gateway API
type Handlers struct {
	config        *models.Config
	info          version.Info
	started       time.Time
	registry      *ratelimit.Registry
	openRouter    *upstream.Client
	githubREST    *upstream.Client
	githubGraphQL *upstream.Client
	storage       storage.KeyStore
	keys          *auth.KeySet
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handlers)

// WithUpstreams sets the clients used by the forwarding endpoints. A nil
// client makes the matching endpoints answer 503.
func WithUpstreams(openRouter, githubREST, githubGraphQL *upstream.Client) HandlerOption {
	return func(h *Handlers) {
		h.openRouter = openRouter
		h.githubREST = githubREST
		h.githubGraphQL = githubGraphQL
	}
}

// WithRegistry exposes limiter statistics on the admin endpoint.
func WithRegistry(registry *ratelimit.Registry) HandlerOption {
	return func(h *Handlers) {
		h.registry = registry
	}
}

// WithStorage enables the key management endpoints. Keys created or
// revoked through them are applied to keys immediately.
func WithStorage(store storage.KeyStore, keys *auth.KeySet) HandlerOption {
	return func(h *Handlers) {
		h.storage = store
		h.keys = keys
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(config *models.Config, opts ...HandlerOption) *Handlers {
	if config == nil {
		config = models.NewDefaultConfig()
	}
	h := &Handlers{
		config:  config,
		info:    version.GetInfo(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Welcome handles GET /
func (h *Handlers) Welcome(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, models.WelcomeResponse{
		Message:     "Welcome to Pulse Server",
		Description: "AI-powered server with GitHub integration",
		Version:     h.info.Version,
		Status:      "running",
		Endpoints: map[string]string{
			"health": "/health",
			"api":    "/api",
			"ai":     "/api/ai",
			"github": "/api/github",
			"docs":   "/docs",
		},
	})
}

// HealthCheck handles GET /health. It is never authenticated or limited.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse("OK", "Server is running")
	response.Version = h.info.Version
	response.Uptime = time.Since(h.started).Round(time.Second).String()

	h.writeJSONResponse(w, http.StatusOK, response)
}

// APIInfo handles GET /api
func (h *Handlers) APIInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, models.APIInfoResponse{
		Message:     "Pulse Server API",
		Version:     h.info.Version,
		Description: "Rate-limited gateway to OpenRouter and GitHub",
		AvailableRoutes: []string{
			"GET /api - API information",
			"POST /api/ai/chat - AI chat completion",
			"GET /api/ai/models - Available AI models",
			"GET /api/github/status - GitHub integration status",
			"GET /api/github/rest/{path} - GitHub REST passthrough",
			"POST /api/github/graphql - GitHub GraphQL passthrough",
		},
	})
}

// LimiterStats handles GET /api/admin/limits
func (h *Handlers) LimiterStats(w http.ResponseWriter, r *http.Request) {
	stats := []models.LimiterStats{}
	if h.registry != nil {
		stats = h.registry.Stats()
	}
	h.writeJSONResponse(w, http.StatusOK, models.NewSuccessResponse("Rate limiter statistics", stats))
}

// readJSONBody decodes a JSON object from the request body, bounded by the
// configured maximum. It writes the error response itself and reports false
// when the body is unusable.
func (h *Handlers) readJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeErrorResponse(w, http.StatusRequestEntityTooLarge, models.ErrorCodePayloadTooLarge, "Request body too large")
			return false
		}
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = w.Header().Get(HeaderRequestID)
	h.writeJSONResponse(w, statusCode, errorResp)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing left to tell the client.
		slog.Error("Error encoding JSON response", "error", err)
	}
}
