package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/api"
	"pulse/internal/auth"
	"pulse/internal/config"
	"pulse/internal/models"
	"pulse/internal/observability"
	"pulse/internal/ratelimit"
	"pulse/internal/storage"
	"pulse/internal/upstream"
)

// Integration tests that run the whole gateway behind a real HTTP listener.

const (
	bootstrapKey = "sk-test-000000000000000000000000000000000000000000000000"
	jwtSecret    = "integration-secret-0123456789abcdef"
)

type gateway struct {
	server   *httptest.Server
	store    storage.KeyStore
	keys     *auth.KeySet
	registry *ratelimit.Registry
	tokens   *auth.TokenIssuer
}

// fakeOpenRouter answers chat completions and records the last request body.
type fakeOpenRouter struct {
	server *httptest.Server
	mu     sync.Mutex
	body   map[string]interface{}
	auth   string
}

func newFakeOpenRouter(t *testing.T) *fakeOpenRouter {
	t.Helper()
	f := &fakeOpenRouter{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.body = body
		f.auth = r.Header.Get("Authorization")
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/chat/completions":
			w.Write([]byte(`{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
		case "/v1/models":
			w.Write([]byte(`{"data":[{"id":"anthropic/claude-3-haiku"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeOpenRouter) lastBody() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.body
}

func noRetryDelay() backoff.BackOff {
	return &backoff.ZeroBackOff{}
}

// startGateway wires the gateway the way cmd/pulse does, from a YAML config.
func startGateway(t *testing.T, yamlConfig string) *gateway {
	t.Helper()

	configFile := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(yamlConfig), 0644))
	cfg, err := config.Load(configFile)
	require.NoError(t, err)

	store, err := storage.NewFactory().Create(cfg.Security.APIKeyAuth.Store)
	require.NoError(t, err)
	if store != nil {
		t.Cleanup(func() { store.Close() })
	}

	keys := auth.NewKeySet(cfg.Security.APIKeyAuth.Keys...)
	if store != nil {
		stored, err := store.ListAPIKeys(context.Background())
		require.NoError(t, err)
		for _, k := range stored {
			if k.Enabled {
				keys.AddHash(k.KeyHash)
			}
		}
	}

	reg := ratelimit.NewRegistry()
	t.Cleanup(func() { reg.CloseAll() })

	rl := cfg.Security.RateLimit
	var limiter, chatLimiter ratelimit.Limiter
	if rl.Enabled {
		inner := ratelimit.NewMemoryLimiter(rl.Window, rl.Max, ratelimit.WithKeyQuota(rl.MaxPerKey))
		instrumented, err := observability.NewInstrumentedLimiter("global", inner)
		require.NoError(t, err)
		limiter = reg.Track("global", instrumented)
		if rl.Chat.Enabled {
			chat := rl.Chat.Resolve(rl)
			chatLimiter = reg.Track("chat", ratelimit.NewMemoryLimiter(chat.Window, chat.Max, ratelimit.WithKeyQuota(chat.MaxPerKey)))
		}
	}

	or, err := upstream.NewOpenRouter(cfg.Upstream.OpenRouter, upstream.WithBackOff(noRetryDelay))
	require.NoError(t, err)
	rest, err := upstream.NewGitHubREST(cfg.Upstream.GitHub, upstream.WithBackOff(noRetryDelay))
	require.NoError(t, err)
	gql, err := upstream.NewGitHubGraphQL(cfg.Upstream.GitHub, upstream.WithBackOff(noRetryDelay))
	require.NoError(t, err)

	opts := []api.HandlerOption{api.WithUpstreams(or, rest, gql), api.WithRegistry(reg)}
	if store != nil {
		opts = append(opts, api.WithStorage(store, keys))
	}

	gw := &gateway{store: store, keys: keys, registry: reg}
	g := api.Gateway{
		Validator:   auth.NewValidator(cfg.Security.APIKeyAuth.Enabled, keys),
		Limiter:     limiter,
		ChatLimiter: chatLimiter,
	}
	if cfg.Security.JWT.Enabled {
		gw.tokens = auth.NewTokenIssuer(cfg.Security.JWT.Secret, "pulse")
		g.Tokens = gw.tokens
	}

	gw.server = httptest.NewServer(api.SetupRoutes(api.NewHandlers(cfg, opts...), cfg, g))
	t.Cleanup(gw.server.Close)
	return gw
}

func (g *gateway) do(t *testing.T, method, path, key string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, g.server.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(auth.HeaderAPIKey, key)
	}
	if g.tokens != nil && strings.HasPrefix(path, "/api/admin") {
		token, err := g.tokens.Issue("integration", "admin", time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestIntegration_ChatFlow(t *testing.T) {
	or := newFakeOpenRouter(t)
	gw := startGateway(t, `
environment: test
security:
  api_key_auth:
    enabled: true
    keys: ["`+bootstrapKey+`"]
  rate_limit:
    window: 15m
    max: 100
    max_per_key: 1000
    chat:
      enabled: true
      max_per_key: 2
upstream:
  openrouter:
    api_key: "or-integration"
    base_url: "`+or.server.URL+`/v1"
    default_model: "anthropic/claude-3-haiku"
    max_tokens: 321
`)

	resp := gw.do(t, http.MethodPost, "/api/ai/chat", bootstrapKey, map[string]string{"message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"), "the chat limiter sets the headers on /api/ai")
	assert.Equal(t, "1", resp.Header.Get("X-RateLimit-Remaining"))

	var completion map[string]interface{}
	decode(t, resp, &completion)
	assert.Equal(t, "gen-1", completion["id"])

	sent := or.lastBody()
	assert.Equal(t, "anthropic/claude-3-haiku", sent["model"])
	assert.EqualValues(t, 321, sent["max_tokens"])
	messages, ok := sent["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "Bearer or-integration", or.auth)

	resp = gw.do(t, http.MethodGet, "/api/ai/models", bootstrapKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = gw.do(t, http.MethodGet, "/api/ai/models", bootstrapKey, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// The global window counts every /api request, including the one the
	// chat limiter rejected.
	resp = gw.do(t, http.MethodGet, "/api", bootstrapKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1000", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "996", resp.Header.Get("X-RateLimit-Remaining"))
}

func TestIntegration_KeyLifecycle(t *testing.T) {
	gw := startGateway(t, `
environment: test
security:
  api_key_auth:
    enabled: true
    keys: ["`+bootstrapKey+`"]
    store:
      type: json
      dsn: "`+filepath.Join(t.TempDir(), "keys.json")+`"
  jwt:
    enabled: true
    secret: "`+jwtSecret+`"
`)

	// Create a key through the admin API.
	resp := gw.do(t, http.MethodPost, "/api/admin/keys", bootstrapKey, map[string]string{"name": "ci"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	decode(t, resp, &created)
	require.True(t, models.IsValidAPIKeyFormat(created.Key))

	// The new key works at once and gets its own window.
	resp = gw.do(t, http.MethodGet, "/api", created.Key, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "999", resp.Header.Get("X-RateLimit-Remaining"))

	// Disabling it revokes access.
	resp = gw.do(t, http.MethodPatch, "/api/admin/keys/"+created.ID, bootstrapKey, map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = gw.do(t, http.MethodGet, "/api", created.Key, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The store survives: a second gateway on the same file would see the
	// key as disabled.
	stored, err := gw.store.ListAPIKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.False(t, stored[0].Enabled)

	resp = gw.do(t, http.MethodDelete, "/api/admin/keys/"+created.ID, bootstrapKey, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Limiter statistics report both identifiers seen so far.
	resp = gw.do(t, http.MethodGet, "/api/admin/limits", bootstrapKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats struct {
		Success bool                  `json:"success"`
		Data    []models.LimiterStats `json:"data"`
	}
	decode(t, resp, &stats)
	require.Len(t, stats.Data, 1)
	assert.Equal(t, 2, stats.Data[0].Identifiers)
}

func TestIntegration_ErrorHandling(t *testing.T) {
	gw := startGateway(t, `
environment: test
security:
  api_key_auth:
    enabled: true
    keys: ["`+bootstrapKey+`"]
`)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		body   interface{}
		status int
		errMsg string
	}{
		{"missing key", http.MethodGet, "/api", "", nil, http.StatusUnauthorized, "API key is required"},
		{"unknown key", http.MethodGet, "/api", "sk-test-nope", nil, http.StatusForbidden, "Invalid API key."},
		{"unknown route", http.MethodGet, "/api/unknown", bootstrapKey, nil, http.StatusNotFound, "Route not found"},
		{"unknown root route", http.MethodGet, "/unknown", "", nil, http.StatusNotFound, "Route not found"},
		{"chat without key configured", http.MethodPost, "/api/ai/chat", bootstrapKey, map[string]string{"message": "x"}, http.StatusServiceUnavailable, "OpenRouter API key is not configured"},
		{"graphql without token", http.MethodPost, "/api/github/graphql", bootstrapKey, map[string]string{"query": "{viewer{login}}"}, http.StatusServiceUnavailable, "GitHub token not configured"},
		{"admin not routed", http.MethodGet, "/api/admin/limits", bootstrapKey, nil, http.StatusNotFound, "Route not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := gw.do(t, tt.method, tt.path, tt.key, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body models.ErrorResponse
			decode(t, resp, &body)
			assert.False(t, body.Success)
			assert.Contains(t, body.Error, tt.errMsg)
			assert.NotEmpty(t, resp.Header.Get(api.HeaderRequestID))
		})
	}
}

func TestIntegration_ConcurrentRequests(t *testing.T) {
	gw := startGateway(t, `
environment: test
security:
  rate_limit:
    window: 1m
    max: 20
    max_per_key: 40
`)

	const workers = 60
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(gw.server.URL + "/api")
			if err != nil {
				return
			}
			resp.Body.Close()
			mu.Lock()
			statuses[resp.StatusCode]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, statuses[http.StatusOK], "exactly the quota is admitted")
	assert.Equal(t, workers-20, statuses[http.StatusTooManyRequests])

	// Public routes are never limited.
	resp, err := http.Get(gw.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIntegration_RateLimitDisabled(t *testing.T) {
	gw := startGateway(t, `
environment: test
security:
  rate_limit:
    enabled: false
`)

	for i := 0; i < 5; i++ {
		resp := gw.do(t, http.MethodGet, "/api", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("X-RateLimit-Limit"))
	}
}

func TestIntegration_ConfigLoading(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "integration.yaml")
	configContent := `
environment: production
server:
  port: 8081
  host: "127.0.0.1"
  read_timeout: 45s
  write_timeout: 45s
  idle_timeout: 90s

security:
  api_key_auth:
    enabled: true
    keys: ["` + bootstrapKey + `"]
    store:
      type: sqlite
      dsn: "./keys.db"
  rate_limit:
    enabled: true
    window: 10m
    max: 120
    max_per_key: 1200
    store: redis
    redis:
      addr: "redis:6379"
      key_prefix: "pulse:test:"

logging:
  level: "debug"
  format: "text"

metrics:
  enabled: true
  port: 9091
`
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))

	cfg, err := config.Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, models.EnvProduction, cfg.Environment)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 90*time.Second, cfg.Server.IdleTimeout)

	assert.Equal(t, models.KeyStoreSQLite, cfg.Security.APIKeyAuth.Store.Type)
	assert.Equal(t, 10*time.Minute, cfg.Security.RateLimit.Window)
	assert.Equal(t, 120, cfg.Security.RateLimit.Max)
	assert.Equal(t, models.RateLimitStoreRedis, cfg.Security.RateLimit.Store)
	assert.Equal(t, "pulse:test:", cfg.Security.RateLimit.Redis.KeyPrefix)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9091, cfg.Metrics.Port)

	assert.NoError(t, cfg.Validate())
}
