package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/majidkhoshrou/mr-m/internal/challenge"
	"github.com/majidkhoshrou/mr-m/internal/domain"
	"github.com/majidkhoshrou/mr-m/internal/middleware"
	"github.com/majidkhoshrou/mr-m/internal/ratelimit"
)

const chatAction = "chat"

// Answerer produces a grounded reply for one user message.
type Answerer interface {
	Answer(ctx context.Context, message string, history []domain.Turn) (string, error)
}

// chatRequest is the body of POST /api/chat. The token field name
// matches what the Turnstile widget emits.
type chatRequest struct {
	Message string        `json:"message"`
	History []domain.Turn `json:"history"`
	Action  string        `json:"action"`
	Token   string        `json:"cf-turnstile-response"`
}

// ChatHandler handles the chat endpoints: the question pipeline, the
// quota probe, and conversation reset.
type ChatHandler struct {
	*Handler
	verifier *challenge.Verifier
	limiter  *ratelimit.DailyLimiter
	answerer Answerer
}

// NewChatHandler creates a chat handler.
func NewChatHandler(base *Handler, verifier *challenge.Verifier, limiter *ratelimit.DailyLimiter, answerer Answerer) *ChatHandler {
	return &ChatHandler{
		Handler:  base,
		verifier: verifier,
		limiter:  limiter,
		answerer: answerer,
	}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Get("/quota", h.Quota)
		r.Post("/clear-chat", h.ClearChat)
	})
}

// Chat runs one question through the gate pipeline: burst limiter,
// challenge verification for untrusted IPs, then the daily quota.
// Only a request that clears all three reaches the model.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := middleware.ClientIP(r)

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		Error(w, http.StatusBadRequest, "Message is required.")
		return
	}

	if !h.verifier.BurstOK(ctx, ip) {
		JSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "You're sending messages too quickly. Please slow down.",
			"code":  "burst",
		})
		return
	}

	if !h.verifier.IsTrusted(ctx, ip) {
		ok, result := h.verifier.Verify(ctx, req.Token, ip, chatAction)
		if !ok {
			slog.Warn("Challenge verification failed", "ip", ip, "error", result.Error)
			JSON(w, http.StatusForbidden, map[string]interface{}{
				"error": "challenge_failed",
				"info":  result,
			})
			return
		}
		h.verifier.MarkTrusted(ctx, ip)
	}

	if !h.limiter.Allow(ctx, ip) {
		JSON(w, http.StatusTooManyRequests, map[string]string{
			"error": fmt.Sprintf("You've reached your daily limit of %d questions. Please come back tomorrow!", h.cfg.Quota.DailyLimit),
			"code":  "daily",
		})
		return
	}

	answer, err := h.answerer.Answer(ctx, message, req.History)
	if err != nil {
		slog.Error("Failed to answer question", "error", err, "ip", ip)
		Error(w, http.StatusInternalServerError, "Sorry, something went wrong.")
		return
	}

	h.saveConversation(ctx, ip, message, answer)

	JSON(w, http.StatusOK, map[string]string{"reply": answer})
}

// saveConversation records the turn server-side. Failures are logged,
// never surfaced; the reply already exists.
func (h *ChatHandler) saveConversation(ctx context.Context, clientID, question, answer string) {
	conv, err := h.repo.GetConversation(ctx, clientID)
	if err != nil {
		slog.Warn("Failed to load conversation", "error", err, "client_id", clientID)
		return
	}
	if conv == nil {
		conv = &domain.Conversation{ClientID: clientID, CreatedAt: time.Now().UTC()}
	}
	now := time.Now().UTC()
	conv.Append("user", question, now)
	conv.Append("assistant", answer, now)
	if err := h.repo.UpsertConversation(ctx, conv); err != nil {
		slog.Warn("Failed to save conversation", "error", err, "client_id", clientID)
	}
}

// Quota reports the caller's remaining daily allowance without
// consuming any of it.
func (h *ChatHandler) Quota(w http.ResponseWriter, r *http.Request) {
	ip := middleware.ClientIP(r)
	JSON(w, http.StatusOK, h.limiter.Quota(r.Context(), ip))
}

// ClearChat drops any stored conversation state for the caller.
func (h *ChatHandler) ClearChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := middleware.ClientIP(r)

	if err := h.repo.DeleteConversation(ctx, ip); err != nil {
		slog.Error("Failed to clear conversation", "error", err, "ip", ip)
		Error(w, http.StatusInternalServerError, "failed to clear chat")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
