package http

import (
	"log/slog"
	"net/http"

	"github.com/prxgr4mmer/perps-metrics-service/pkg/metrics"
)

// NewRouter creates the HTTP router with all routes. recorder may be nil, in
// which case /metrics is not served.
func NewRouter(h *Handler, stream *SnapshotBroadcaster, recorder *metrics.Recorder, allowedOrigins []string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", h.Health)

	// Snapshot views
	mux.HandleFunc("GET /api/v1/snapshot", h.GetSnapshot)
	mux.HandleFunc("GET /api/v1/summary", h.GetSummary)
	mux.HandleFunc("GET /api/v1/distribution", h.GetDistribution)
	mux.HandleFunc("GET /api/v1/pool", h.GetPool)
	mux.HandleFunc("GET /api/v1/prices", h.GetPrices)

	// Operational metrics
	mux.HandleFunc("GET /api/v1/metrics", h.GetMetrics)

	// Control
	mux.HandleFunc("POST /api/v1/session", h.SwitchSession)
	mux.HandleFunc("POST /api/v1/refresh", h.TriggerRefresh)

	// Chart data feed
	mux.HandleFunc("GET /feed/config", h.FeedConfig)
	mux.HandleFunc("GET /feed/symbols", h.FeedSymbol)
	mux.HandleFunc("GET /feed/history", h.FeedHistory)
	mux.HandleFunc("GET /feed/stats", h.FeedStats)

	if stream != nil {
		mux.Handle("GET /stream", stream)
	}
	if recorder != nil {
		mux.Handle("GET /metrics", recorder.Handler())
	}

	// Apply middleware chain (order matters: outer -> inner)
	var handler http.Handler = mux
	handler = ContentTypeMiddleware(handler)
	handler = CORSMiddleware(allowedOrigins)(handler)
	handler = RecoveryMiddleware(logger)(handler)
	handler = LoggingMiddleware(logger, recorder)(handler)

	return handler
}
