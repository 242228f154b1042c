package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldtrack/internal/platform/middleware"
)

// NewRouter wires the ingest, query, and admin endpoints. Business logic
// stays behind the Handler's service interfaces; this layer only decodes,
// delegates, and encodes.
func NewRouter(h *Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/sync/batch", h.handleSyncBatch)

	r.Get("/visits", h.handleListVisits)
	r.Get("/visits/{personID}/{locationID}/{date}/{seq}", h.handleGetVisit)
	r.Post("/visits/{personID}/{locationID}/{date}/{seq}/close", h.handleForceClose)
	r.Get("/sessions", h.handleGetSession)

	r.Put("/locations/{locationID}", h.handleUpsertLocation)
	r.Get("/locations", h.handleListLocations)

	r.Get("/healthz", h.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
