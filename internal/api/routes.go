package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"pulse/internal/auth"
	"pulse/internal/models"
	"pulse/internal/ratelimit"
)

// Gateway holds the stages that guard the /api tree.
type Gateway struct {
	// Validator checks API keys. Nil behaves as a disabled validator.
	Validator *auth.Validator

	// Limiter applies to every /api route. Nil disables rate limiting.
	Limiter ratelimit.Limiter

	// ChatLimiter adds a second, usually tighter, window on /api/ai.
	ChatLimiter ratelimit.Limiter

	// Tokens verifies admin bearer tokens. Nil leaves /api/admin unrouted.
	Tokens *auth.TokenIssuer

	TrustProxyHeaders bool
}

// Pipeline returns the /api stages in order: API key validator, then the
// rate limiter. The limiter depends on the key the validator attaches.
func (g Gateway) Pipeline() Pipeline {
	validator := g.Validator
	if validator == nil {
		validator = auth.NewValidator(false, nil)
	}
	p := Chain(validator.Middleware())
	if g.Limiter != nil {
		p = p.Append(ratelimit.Middleware(g.Limiter, g.TrustProxyHeaders))
	}
	return p
}

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/openapi.yaml" &&
					r.URL.Path != "/docs"
			}),
		))
	}
}

// WithMiddleware adds an outer middleware to every route.
func WithMiddleware(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(middleware)
	}
}

// SetupRoutes configures the HTTP routes for the gateway.
//
// Public: GET /, GET /health, GET /openapi.yaml, GET /docs.
// Everything under /api runs through gateway.Pipeline(); unknown /api paths
// are answered by the same pipeline so they count against the caller's quota.
func SetupRoutes(handlers *Handlers, config *models.Config, gateway Gateway, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.Use(requestIDMiddleware)
	router.Use(securityHeadersMiddleware(config.Server.TLSEnabled))
	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}
	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.HandleFunc("/", handlers.Welcome).Methods("GET")
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/openapi.yaml", handlers.ServeOpenAPISpec).Methods("GET")
	router.HandleFunc("/docs", handlers.ServeSwaggerUI).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(gateway.Pipeline().Middleware())

	api.HandleFunc("", handlers.APIInfo).Methods("GET")
	api.HandleFunc("/", handlers.APIInfo).Methods("GET")

	ai := api.PathPrefix("/ai").Subrouter()
	if gateway.ChatLimiter != nil {
		ai.Use(ratelimit.Middleware(gateway.ChatLimiter, gateway.TrustProxyHeaders))
	}
	ai.HandleFunc("/chat", handlers.ChatCompletion).Methods("POST")
	ai.HandleFunc("/models", handlers.ListModels).Methods("GET")

	gh := api.PathPrefix("/github").Subrouter()
	gh.HandleFunc("/status", handlers.GitHubStatus).Methods("GET")
	gh.HandleFunc("/rest/{path:.+}", handlers.GitHubREST).Methods("GET")
	gh.HandleFunc("/graphql", handlers.GitHubGraphQL).Methods("POST")

	if gateway.Tokens != nil {
		admin := api.PathPrefix("/admin").Subrouter()
		admin.Use(auth.RequireBearer(gateway.Tokens))
		admin.HandleFunc("/limits", handlers.LimiterStats).Methods("GET")
		admin.HandleFunc("/keys", handlers.ListAPIKeys).Methods("GET")
		admin.HandleFunc("/keys", handlers.CreateAPIKey).Methods("POST")
		admin.HandleFunc("/keys/{id}", handlers.UpdateAPIKey).Methods("PATCH")
		admin.HandleFunc("/keys/{id}", handlers.DeleteAPIKey).Methods("DELETE")
	}

	api.PathPrefix("/").HandlerFunc(notFoundHandler)

	// Router-level fallbacks bypass r.Use middleware.
	router.NotFoundHandler = requestIDMiddleware(http.HandlerFunc(notFoundHandler))
	router.MethodNotAllowedHandler = requestIDMiddleware(http.HandlerFunc(methodNotAllowedHandler))

	return router
}
