package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/majidkhoshrou/mr-m/internal/analytics"
	"github.com/majidkhoshrou/mr-m/internal/middleware"
)

// AnalyticsHandler handles visit logging and the analytics summary.
type AnalyticsHandler struct {
	*Handler
	svc *analytics.Service
}

// NewAnalyticsHandler creates an analytics handler.
func NewAnalyticsHandler(base *Handler, svc *analytics.Service) *AnalyticsHandler {
	return &AnalyticsHandler{Handler: base, svc: svc}
}

// RegisterRoutes registers analytics routes.
func (h *AnalyticsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/log-visit", h.LogVisit)
		r.Get("/analytics-summary", h.Summary)
	})
}

type logVisitRequest struct {
	Path string `json:"path"`
}

// LogVisit records one page view. The visit is stored anonymized;
// logging failures never break the page, so the response is always ok.
func (h *AnalyticsHandler) LogVisit(w http.ResponseWriter, r *http.Request) {
	var req logVisitRequest
	_ = decodeJSON(r, &req)

	ip := middleware.ClientIP(r)
	if err := h.svc.LogVisit(r.Context(), ip, r.UserAgent(), r.Referer(), req.Path); err != nil {
		slog.Warn("Failed to log visit", "error", err)
	}
	JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Summary returns aggregated visit counts for the analytics page.
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Summarize(r.Context())
	if err != nil {
		slog.Error("Failed to summarize visits", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}
	JSON(w, http.StatusOK, summary)
}
