package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/auth"
	"pulse/internal/models"
	"pulse/internal/ratelimit"
)

const (
	validKey   = "sk-test-0123456789abcdef0123456789abcdef0123456789abcdef"
	testSecret = "0123456789abcdef0123456789abcdef"
)

func newLimiter(t *testing.T, max, keyMax int) *ratelimit.MemoryLimiter {
	t.Helper()
	l := ratelimit.NewMemoryLimiter(15*time.Minute, max, ratelimit.WithKeyQuota(keyMax), ratelimit.WithoutJanitor())
	t.Cleanup(func() { l.Close() })
	return l
}

func newTestRouter(t *testing.T, gateway Gateway) *mux.Router {
	t.Helper()
	cfg := models.NewDefaultConfig()
	return SetupRoutes(NewHandlers(cfg), cfg, gateway)
}

func get(router http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRoutes_PublicEndpointsBypassGateway(t *testing.T) {
	limiter := newLimiter(t, 1, 1)
	router := newTestRouter(t, Gateway{
		Validator: auth.NewValidator(true, auth.NewKeySet(validKey)),
		Limiter:   limiter,
	})

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(router, "/health", nil).Code)
		assert.Equal(t, http.StatusOK, get(router, "/", nil).Code)
	}
	assert.Equal(t, 0, limiter.Len(), "public routes are not counted")
}

func TestRoutes_CommonHeaders(t *testing.T) {
	router := newTestRouter(t, Gateway{})
	rr := get(router, "/health", map[string]string{"Origin": "http://localhost:3000"})

	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get(HeaderRequestID))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRoutes_NotFound(t *testing.T) {
	limiter := newLimiter(t, 10, 10)
	router := newTestRouter(t, Gateway{Limiter: limiter})

	rr := get(router, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Route not found", decodeError(t, rr).Error)
	assert.NotEmpty(t, rr.Header().Get(HeaderRequestID))

	rr = get(router, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Route not found", decodeError(t, rr).Error)
	assert.Equal(t, "9", rr.Header().Get("X-RateLimit-Remaining"), "unknown /api paths still count")
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, Gateway{})

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRoutes_PreflightSkipsValidator(t *testing.T) {
	router := newTestRouter(t, Gateway{Validator: auth.NewValidator(true, auth.NewKeySet(validKey))})

	req := httptest.NewRequest(http.MethodOptions, "/api/ai/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRoutes_ValidatorRunsBeforeLimiter(t *testing.T) {
	limiter := newLimiter(t, 100, 1000)
	router := newTestRouter(t, Gateway{
		Validator: auth.NewValidator(true, auth.NewKeySet(validKey)),
		Limiter:   limiter,
	})

	rr := get(router, "/api", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))

	rr = get(router, "/api", map[string]string{auth.HeaderAPIKey: "sk-test-wrong"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "Invalid API key.", decodeError(t, rr).Error)

	assert.Equal(t, 0, limiter.Len(), "rejected credentials never reach the limiter")

	rr = get(router, "/api?api_key="+validKey, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "1000", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "999", rr.Header().Get("X-RateLimit-Remaining"))
	_, err := time.Parse(time.RFC3339Nano, rr.Header().Get("X-RateLimit-Reset"))
	assert.NoError(t, err)
}

// With key auth enabled a valid key gets the elevated quota; the same
// address without a key is held to the baseline by the same limiter.
func TestRoutes_KeyedAndAnonymousQuotas(t *testing.T) {
	limiter := newLimiter(t, 100, 1000)
	keyed := newTestRouter(t, Gateway{
		Validator: auth.NewValidator(true, auth.NewKeySet(validKey)),
		Limiter:   limiter,
	})
	anonymous := newTestRouter(t, Gateway{
		Validator: auth.NewValidator(false, nil),
		Limiter:   limiter,
	})

	for i := 1; i <= 150; i++ {
		rr := get(keyed, "/api", map[string]string{auth.HeaderAPIKey: validKey})
		require.Equal(t, http.StatusOK, rr.Code, "keyed request %d", i)
		assert.Equal(t, strconv.Itoa(1000-i), rr.Header().Get("X-RateLimit-Remaining"))
	}

	for i := 1; i <= 100; i++ {
		rr := get(anonymous, "/api", nil)
		require.Equal(t, http.StatusOK, rr.Code, "anonymous request %d", i)
		assert.Equal(t, "100", rr.Header().Get("X-RateLimit-Limit"))
	}

	rr := get(anonymous, "/api", nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	resp := decodeError(t, rr)
	assert.Equal(t, "Too many requests, limit of 100 requests per 15 minutes exceeded. Please try again later.", resp.Error)
	assert.Greater(t, resp.RetryAfter, 0)
	assert.Equal(t, strconv.Itoa(resp.RetryAfter), rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	rr = get(keyed, "/api", map[string]string{auth.HeaderAPIKey: validKey})
	assert.Equal(t, http.StatusOK, rr.Code, "the key is unaffected by the address running out")

	assert.Equal(t, 2, limiter.Len())
}

func TestRoutes_DisabledAuthFallsBackToAddress(t *testing.T) {
	limiter := newLimiter(t, 2, 1000)
	router := newTestRouter(t, Gateway{Limiter: limiter})

	// An unchecked key is ignored: the identifier is the client address.
	header := map[string]string{auth.HeaderAPIKey: "anything"}
	assert.Equal(t, http.StatusOK, get(router, "/api", header).Code)
	rr := get(router, "/api", header)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, http.StatusTooManyRequests, get(router, "/api", header).Code)
}

func TestRoutes_ChatLimiterScopedToAI(t *testing.T) {
	global := newLimiter(t, 100, 100)
	chat := newLimiter(t, 1, 1)
	router := newTestRouter(t, Gateway{Limiter: global, ChatLimiter: chat})

	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/api/ai/models", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, "/api/ai/models", nil).Code)
	assert.Equal(t, http.StatusOK, get(router, "/api/github/status", nil).Code)
	assert.Equal(t, 1, chat.Len())
}

func TestRoutes_AdminRequiresBearer(t *testing.T) {
	issuer := auth.NewTokenIssuer(testSecret, "pulse")
	reg := ratelimit.NewRegistry()
	limiter := reg.Track("global", newLimiter(t, 100, 1000))

	cfg := models.NewDefaultConfig()
	router := SetupRoutes(NewHandlers(cfg, WithRegistry(reg)), cfg, Gateway{
		Validator: auth.NewValidator(true, auth.NewKeySet(validKey)),
		Limiter:   limiter,
		Tokens:    issuer,
	})
	withKey := map[string]string{auth.HeaderAPIKey: validKey}

	rr := get(router, "/api/admin/limits", withKey)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Access denied. No token provided.", decodeError(t, rr).Error)

	rr = get(router, "/api/admin/limits", map[string]string{auth.HeaderAPIKey: validKey, "Authorization": "Bearer junk"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid token.", decodeError(t, rr).Error)

	token, err := issuer.Issue("ops", "admin", time.Minute)
	require.NoError(t, err)
	rr = get(router, "/api/admin/limits", map[string]string{auth.HeaderAPIKey: validKey, "Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data []models.LimiterStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "global", resp.Data[0].Name)
	assert.Equal(t, 1, resp.Data[0].Identifiers)
}

func TestRoutes_AdminUnroutedWithoutIssuer(t *testing.T) {
	router := newTestRouter(t, Gateway{})
	assert.Equal(t, http.StatusNotFound, get(router, "/api/admin/limits", nil).Code)
}

func TestGateway_Pipeline(t *testing.T) {
	assert.Equal(t, 1, Gateway{}.Pipeline().Len())
	assert.Equal(t, 2, Gateway{Limiter: newLimiter(t, 1, 1)}.Pipeline().Len())
}
