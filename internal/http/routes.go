package httpx

import (
	"log/slog"
	"net/http"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/observability/metrics"
)

// RouterOptions holds everything the HTTP router needs.
type RouterOptions struct {
	Ops core.Operations // Required
	// AdminToken guards /api routes; empty disables auth (dev only).
	AdminToken string
	// Optional: served at /metrics without auth.
	MetricsHandler http.Handler
	// Optional: request metrics.
	Metrics metrics.Sink
	// Optional: dependencies reported by /readyz.
	Readiness map[string]ReadinessCheck
	Logger    *slog.Logger
}

// NewRouter creates the admin API handler.
func NewRouter(opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	api := http.NewServeMux()
	registerJobRoutes(api, &JobHandlers{Ops: opts.Ops, Logger: logger})
	registerWatchRoutes(api, &WatchHandlers{Ops: opts.Ops, Logger: logger})
	registerEventRoutes(api, &EventHandlers{Ops: opts.Ops, Logger: logger})
	registerAuditRoutes(api, &AuditHandlers{Ops: opts.Ops, Logger: logger})

	mux := http.NewServeMux()
	mux.Handle("/api/", RequireBearer(opts.AdminToken)(api))
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)
	mux.Handle("GET /readyz", readyHandler(opts.Readiness))
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	return Chain(mux, Recover(logger), Logging(logger), Metrics(opts.Metrics))
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/transfers", h.StartTransfer)
	mux.HandleFunc("GET /api/jobs", h.List)
	mux.HandleFunc("GET /api/jobs/{id}", h.Get)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /api/jobs/cancel-all", h.CancelAll)
}

func registerWatchRoutes(mux *http.ServeMux, h *WatchHandlers) {
	mux.HandleFunc("POST /api/deployments/{id}/watch", h.Watch)
	mux.HandleFunc("GET /api/watches", h.List)
	mux.HandleFunc("GET /api/watches/{id}", h.Get)
	mux.HandleFunc("DELETE /api/watches/{id}", h.Stop)
	mux.HandleFunc("PUT /api/watches/{id}/interval", h.UpdateInterval)
	mux.HandleFunc("POST /api/watches/{id}/reset", h.Reset)
}

func registerEventRoutes(mux *http.ServeMux, h *EventHandlers) {
	mux.HandleFunc("POST /api/subscriptions", h.Subscribe)
	mux.HandleFunc("GET /api/subscriptions/{id}/events", h.Poll)
	mux.HandleFunc("DELETE /api/subscriptions/{id}", h.Unsubscribe)
	mux.HandleFunc("POST /api/webhooks", h.RegisterWebhook)
	mux.HandleFunc("GET /api/webhooks/{id}/deliveries", h.Deliveries)
}

func registerAuditRoutes(mux *http.ServeMux, h *AuditHandlers) {
	mux.HandleFunc("GET /api/audit", h.Query)
	mux.HandleFunc("GET /api/tenants/{ref}/rate-limit", h.RateLimit)
}
