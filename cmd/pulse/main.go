package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"pulse/internal/api"
	"pulse/internal/auth"
	"pulse/internal/config"
	"pulse/internal/logger"
	"pulse/internal/models"
	"pulse/internal/observability"
	"pulse/internal/ratelimit"
	"pulse/internal/storage"
	"pulse/internal/upstream"
	"pulse/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, cfg.Environment, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Key store and the live allow-list
	store, err := initializeKeyStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize key store", "error", err)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
	}

	keys := auth.NewKeySet(cfg.Security.APIKeyAuth.Keys...)
	if err := loadStoredKeys(context.Background(), store, keys); err != nil {
		slog.Error("Failed to load API keys", "error", err)
		os.Exit(1)
	}
	validator := auth.NewValidator(cfg.Security.APIKeyAuth.Enabled, keys)
	slog.Info("API key validation configured",
		"enabled", validator.Enabled(),
		"keys", keys.Len(),
		"store", cfg.Security.APIKeyAuth.Store.Type,
	)

	// Rate limiters
	registry := ratelimit.NewRegistry()
	defer func() {
		if err := registry.CloseAll(); err != nil {
			slog.Error("Failed to close rate limiters", "error", err)
		}
	}()

	var redisClient *redis.Client
	if cfg.Security.RateLimit.Enabled && cfg.Security.RateLimit.Store == models.RateLimitStoreRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Security.RateLimit.Redis.Addr,
			Password: cfg.Security.RateLimit.Redis.Password,
			DB:       cfg.Security.RateLimit.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// Requests fail open while Redis is unreachable.
			slog.Warn("Redis is not reachable; rate limiting fails open until it is", "addr", cfg.Security.RateLimit.Redis.Addr, "error", err)
		}
		cancel()
	}

	limiter, chatLimiter, err := buildLimiters(cfg.Security.RateLimit, registry, redisClient, cfg.Metrics.Enabled)
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	// Upstream clients
	openRouter, err := upstream.NewOpenRouter(cfg.Upstream.OpenRouter)
	if err != nil {
		slog.Error("Failed to initialize OpenRouter client", "error", err)
		os.Exit(1)
	}
	githubREST, err := upstream.NewGitHubREST(cfg.Upstream.GitHub)
	if err != nil {
		slog.Error("Failed to initialize GitHub REST client", "error", err)
		os.Exit(1)
	}
	githubGraphQL, err := upstream.NewGitHubGraphQL(cfg.Upstream.GitHub)
	if err != nil {
		slog.Error("Failed to initialize GitHub GraphQL client", "error", err)
		os.Exit(1)
	}
	if !openRouter.Configured() {
		slog.Warn("OPENROUTER_API_KEY is not set; /api/ai routes will answer 503")
	}

	handlerOpts := []api.HandlerOption{
		api.WithUpstreams(openRouter, githubREST, githubGraphQL),
		api.WithRegistry(registry),
	}
	if store != nil {
		handlerOpts = append(handlerOpts, api.WithStorage(store, keys))
	}
	handlers := api.NewHandlers(cfg, handlerOpts...)

	gateway := api.Gateway{
		Validator:         validator,
		Limiter:           limiter,
		ChatLimiter:       chatLimiter,
		TrustProxyHeaders: cfg.Security.TrustProxyHeaders,
	}
	if cfg.Security.JWT.Enabled {
		issuer := cfg.Security.JWT.Issuer
		if issuer == "" {
			issuer = cfg.Observability.ServiceName
		}
		gateway.Tokens = auth.NewTokenIssuer(cfg.Security.JWT.Secret, issuer)
	}

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	router := api.SetupRoutes(handlers, cfg, gateway, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"environment", cfg.Environment,
			"rate_limit", cfg.Security.RateLimit.Enabled,
			"rate_limit_store", cfg.Security.RateLimit.Store,
		)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("Shutting down server", "signal", sig.String())

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeKeyStore opens the configured key store, wrapping it with
// instrumentation when metrics are enabled. It returns nil when keys come
// from configuration only.
func initializeKeyStore(cfg *models.Config) (storage.KeyStore, error) {
	store, err := storage.NewFactory().Create(cfg.Security.APIKeyAuth.Store)
	if err != nil || store == nil {
		return nil, err
	}

	if !cfg.Metrics.Enabled {
		return store, nil
	}
	instrumented, err := observability.NewInstrumentedKeyStore(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("instrument key store: %w", err)
	}
	return instrumented, nil
}

// loadStoredKeys adds the hash of every enabled stored key to the allow-list.
func loadStoredKeys(ctx context.Context, store storage.KeyStore, keys *auth.KeySet) error {
	if store == nil {
		return nil
	}
	stored, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list stored keys: %w", err)
	}
	loaded := 0
	for _, k := range stored {
		if !k.Enabled {
			continue
		}
		keys.AddHash(k.KeyHash)
		loaded++
	}
	slog.Info("Loaded API keys from store", "loaded", loaded, "disabled", len(stored)-loaded)
	return nil
}

// buildLimiters creates the global limiter and, when configured, the chat
// limiter. Both are tracked by the registry. A nil limiter disables that stage.
func buildLimiters(cfg models.RateLimitConfig, registry *ratelimit.Registry, client *redis.Client, instrument bool) (ratelimit.Limiter, ratelimit.Limiter, error) {
	if !cfg.Enabled {
		slog.Warn("Rate limiting is disabled")
		return nil, nil, nil
	}

	global, err := newLimiter("global", cfg.Window, cfg.Max, cfg.MaxPerKey, cfg.Redis.KeyPrefix, client, instrument)
	if err != nil {
		return nil, nil, err
	}
	global = registry.Track("global", global)

	if !cfg.Chat.Enabled {
		return global, nil, nil
	}
	chatCfg := cfg.Chat.Resolve(cfg)
	chat, err := newLimiter("chat", chatCfg.Window, chatCfg.Max, chatCfg.MaxPerKey, cfg.Redis.KeyPrefix+"chat:", client, instrument)
	if err != nil {
		return nil, nil, err
	}
	return global, registry.Track("chat", chat), nil
}

func newLimiter(name string, window time.Duration, max, maxPerKey int, prefix string, client *redis.Client, instrument bool) (ratelimit.Limiter, error) {
	var l ratelimit.Limiter
	if client != nil {
		l = ratelimit.NewRedisLimiter(client, prefix, window, max, ratelimit.WithKeyQuota(maxPerKey))
	} else {
		l = ratelimit.NewMemoryLimiter(window, max, ratelimit.WithKeyQuota(maxPerKey))
	}

	slog.Info("Rate limiter configured",
		"limiter", name,
		"window", window.String(),
		"max", max,
		"max_per_key", maxPerKey,
		"distributed", client != nil,
	)

	if !instrument {
		return l, nil
	}
	instrumented, err := observability.NewInstrumentedLimiter(name, l)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("instrument %s limiter: %w", name, err)
	}
	return instrumented, nil
}
