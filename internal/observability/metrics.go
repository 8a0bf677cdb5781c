package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pulse/internal/models"
)

// MetricsServer exposes the gateway's Prometheus metrics (limiter decisions,
// key store latency and the Go runtime) on its own port. Scrapes never pass
// through the API pipeline and so never consume a caller's quota.
type MetricsServer struct {
	server *http.Server
	path   string
}

// NewMetricsServer creates the metrics listener described by cfg. Without a
// Prometheus exporter on provider every path answers 404.
func NewMetricsServer(cfg models.MetricsConfig, provider *Provider) *MetricsServer {
	mux := http.NewServeMux()

	if provider != nil && provider.promExporter != nil {
		mux.Handle(cfg.Path, promhttp.Handler())
	}

	return &MetricsServer{
		path: cfg.Path,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the metrics mux without starting a listener.
func (ms *MetricsServer) Handler() http.Handler {
	return ms.server.Handler
}

// Start serves metrics in a blocking call.
// Returns http.ErrServerClosed on graceful shutdown.
func (ms *MetricsServer) Start() error {
	slog.Info("Starting metrics server", "addr", ms.server.Addr, "path", ms.path)
	return ms.server.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
