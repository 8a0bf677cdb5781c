package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"pulse/internal/auth"
	"pulse/internal/models"
	"pulse/internal/upstream"
)

// passthroughHeaders are copied from upstream responses to the caller.
var passthroughHeaders = []string{
	"Content-Type",
	"Retry-After",
	"X-GitHub-Request-Id",
	"X-RateLimit-Used",
}

// ChatCompletion handles POST /api/ai/chat
// The body is an OpenRouter chat completion request forwarded as is, except
// that absent model, max_tokens and temperature are filled from configuration.
// A bare {"message": "..."} body is accepted as a single user turn.
func (h *Handlers) ChatCompletion(w http.ResponseWriter, r *http.Request) {
	if !configured(h.openRouter) {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "OpenRouter API key is not configured")
		return
	}

	var body map[string]interface{}
	if !h.readJSONBody(w, r, &body) {
		return
	}
	if body == nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	if _, ok := body["messages"]; !ok {
		message, _ := body["message"].(string)
		if strings.TrimSpace(message) == "" {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "messages or message is required")
			return
		}
		delete(body, "message")
		body["messages"] = []map[string]string{{"role": "user", "content": message}}
	}

	defaults := h.config.Upstream.OpenRouter
	if _, ok := body["model"]; !ok {
		body["model"] = defaults.DefaultModel
	}
	if _, ok := body["max_tokens"]; !ok {
		body["max_tokens"] = defaults.MaxTokens
	}
	if _, ok := body["temperature"]; !ok {
		body["temperature"] = defaults.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	h.forward(w, r, h.openRouter, upstream.Request{
		Method: http.MethodPost,
		Path:   "chat/completions",
		Body:   payload,
	})
}

// ListModels handles GET /api/ai/models
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	if !configured(h.openRouter) {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "OpenRouter API key is not configured")
		return
	}
	h.forward(w, r, h.openRouter, upstream.Request{Method: http.MethodGet, Path: "models"})
}

// GitHubStatus handles GET /api/github/status
func (h *Handlers) GitHubStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, models.ServiceStatusResponse{
		Message:    "GitHub API integration",
		Configured: configured(h.githubGraphQL),
		Version:    h.info.Version,
	})
}

// GitHubREST handles GET /api/github/rest/{path}
// The REST API answers without a token at the unauthenticated rate limit.
func (h *Handlers) GitHubREST(w http.ResponseWriter, r *http.Request) {
	if h.githubREST == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "GitHub REST API not configured")
		return
	}

	path := strings.Trim(mux.Vars(r)["path"], "/")
	if path == "" || strings.Contains(path, "..") {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid GitHub API path")
		return
	}

	h.forward(w, r, h.githubREST, upstream.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  forwardedQuery(r.URL.Query()),
	})
}

// GitHubGraphQL handles POST /api/github/graphql
// The caller's {"query", "variables", "operationName"} document is forwarded
// unchanged. Only read queries pass: the call carries the gateway's own token.
func (h *Handlers) GitHubGraphQL(w http.ResponseWriter, r *http.Request) {
	if !configured(h.githubGraphQL) {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "GitHub token not configured")
		return
	}

	var doc struct {
		Query         string                 `json:"query"`
		Variables     map[string]interface{} `json:"variables,omitempty"`
		OperationName string                 `json:"operationName,omitempty"`
	}
	if !h.readJSONBody(w, r, &doc) {
		return
	}
	if strings.TrimSpace(doc.Query) == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "query is required")
		return
	}

	op, err := writeOperation(doc.Query)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid GraphQL query")
		return
	}
	if op != "" {
		slog.Warn("GraphQL write operation rejected",
			"operation", op,
			"remote_addr", r.RemoteAddr,
		)
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Only GraphQL queries are allowed, got "+op)
		return
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	h.forward(w, r, h.githubGraphQL, upstream.Request{Method: http.MethodPost, Body: payload})
}

// writeOperation returns the type of the first operation in query that is not
// a read query, or "" when every operation is one.
func writeOperation(query string) (string, error) {
	parsed, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return "", err
	}
	if len(parsed.Operations) == 0 {
		return "", errors.New("no operation in document")
	}
	for _, op := range parsed.Operations {
		if op.Operation != ast.Query {
			return string(op.Operation), nil
		}
	}
	return "", nil
}

// forward sends req upstream and writes the upstream answer back verbatim.
func (h *Handlers) forward(w http.ResponseWriter, r *http.Request, client *upstream.Client, req upstream.Request) {
	resp, err := client.Do(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			slog.Debug("Client went away during upstream call", "upstream", client.Name(), "path", r.URL.Path)
			return
		}
		slog.Error("Upstream request failed",
			"upstream", client.Name(),
			"path", r.URL.Path,
			"error", err,
		)
		if errors.Is(err, upstream.ErrResponseTooLarge) {
			h.writeErrorResponse(w, http.StatusBadGateway, models.ErrorCodeBadGateway, "Upstream response too large")
			return
		}
		h.writeErrorResponse(w, http.StatusBadGateway, models.ErrorCodeBadGateway, "Upstream service unavailable")
		return
	}

	if resp.StatusCode >= 500 {
		slog.Warn("Upstream returned server error",
			"upstream", client.Name(),
			"status", resp.StatusCode,
			"attempts", resp.Attempts,
		)
	}

	for _, name := range passthroughHeaders {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		slog.Debug("Failed writing upstream body", "upstream", client.Name(), "error", err)
	}
}

// forwardedQuery drops the gateway's own credential from a forwarded query.
func forwardedQuery(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, vs := range q {
		if k == auth.QueryAPIKey {
			continue
		}
		out[k] = vs
	}
	return out
}

func configured(c *upstream.Client) bool {
	return c != nil && c.Configured()
}
