package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/majidkhoshrou/mr-m/internal/contact"
	"github.com/majidkhoshrou/mr-m/internal/middleware"
)

// ContactHandler handles the contact form endpoint.
type ContactHandler struct {
	*Handler
	svc *contact.Service
}

// NewContactHandler creates a contact handler.
func NewContactHandler(base *Handler, svc *contact.Service) *ContactHandler {
	return &ContactHandler{Handler: base, svc: svc}
}

// RegisterRoutes registers contact routes.
func (h *ContactHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/contact", h.Submit)
}

// contactRequest mirrors the contact form fields. Website is the
// honeypot input; humans never see it.
type contactRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Message   string `json:"message"`
	Website   string `json:"website"`
	StartedAt string `json:"started_at"`
}

// Submit validates and dispatches a contact form submission.
func (h *ContactHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	res := h.svc.Submit(r.Context(), contact.Submission{
		Name:      req.Name,
		Email:     req.Email,
		Message:   req.Message,
		IP:        middleware.ClientIP(r),
		Honeypot:  req.Website,
		StartedAt: req.StartedAt,
	})

	if !res.OK {
		status := http.StatusBadRequest
		if strings.HasPrefix(res.Error, "Too many") {
			status = http.StatusTooManyRequests
		}
		JSON(w, status, map[string]interface{}{"ok": false, "error": res.Error})
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"ok": true, "message": "Thanks for reaching out! I'll get back to you soon."})
}
