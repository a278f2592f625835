package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	api "keygate/pkg/contracts/api/v1"
)

const healthTimeout = 2 * time.Second

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	store   Pinger
	version string
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store Pinger, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:   store,
		version: version,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /healthz. It answers 503 when the store does not
// respond.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := api.HealthResponse{Status: "ok", Store: "ok", Version: h.version}
	if err := h.store.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "store health check failed", slog.String("error", err.Error()))
		resp.Status = "degraded"
		resp.Store = "unavailable"
		resp.Error = err.Error()
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}
