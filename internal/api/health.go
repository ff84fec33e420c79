package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HealthHandler serves liveness probes.
type HealthHandler struct {
	*Handler
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(base *Handler) *HealthHandler {
	return &HealthHandler{Handler: base}
}

// RegisterRoutes registers health routes.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
}

// Healthz reports process health, including database reachability.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": "database unreachable"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
