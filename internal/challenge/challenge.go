// Package challenge verifies anti-bot challenge tokens and tracks
// short-lived per-IP trust so returning clients skip redundant solving.
// The server re-verifies whenever trust has lapsed; the client-side
// hint is never authoritative.
package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/majidkhoshrou/mr-m/internal/config"
	"github.com/majidkhoshrou/mr-m/internal/middleware"
	"github.com/majidkhoshrou/mr-m/internal/ratelimit"
)

const (
	turnstileVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
	recaptchaVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

	verifyTimeout = 5 * time.Second
)

// Result carries the verification outcome details surfaced to the
// client in the 403 body's info field.
type Result struct {
	Error     string          `json:"error,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	DevBypass bool            `json:"dev_bypass,omitempty"`
}

// siteverifyResponse is the shared shape of both providers' verify APIs.
type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Action     string   `json:"action"`
	Score      float64  `json:"score"`
	ErrorCodes []string `json:"error-codes"`
}

// Verifier orchestrates provider verification, trust flags, and the
// burst limiter.
type Verifier struct {
	cfg    config.ChallengeConfig
	store  ratelimit.Store
	client *http.Client

	// Overridable in tests.
	turnstileURL string
	recaptchaURL string
}

// NewVerifier creates a challenge verifier over the given key store.
func NewVerifier(cfg config.ChallengeConfig, store ratelimit.Store) *Verifier {
	return &Verifier{
		cfg:          cfg,
		store:        store,
		client:       &http.Client{Timeout: verifyTimeout},
		turnstileURL: turnstileVerifyURL,
		recaptchaURL: recaptchaVerifyURL,
	}
}

func trustKey(ip string) string {
	return "trust:" + ip
}

// IsTrusted reports whether the IP passed a challenge recently.
// Store errors are treated as "not trusted".
func (v *Verifier) IsTrusted(ctx context.Context, ip string) bool {
	trusted, err := v.store.HasFlag(ctx, trustKey(ip))
	if err != nil {
		slog.Warn("trust lookup failed", "ip", ip, "error", err)
		return false
	}
	return trusted
}

// MarkTrusted sets the trust flag for the IP with the configured TTL.
func (v *Verifier) MarkTrusted(ctx context.Context, ip string) {
	if err := v.store.SetFlag(ctx, trustKey(ip), v.cfg.TrustTTL); err != nil {
		slog.Warn("failed to mark IP trusted", "ip", ip, "error", err)
	}
}

// ClearTrust drops the trust flag for the IP.
func (v *Verifier) ClearTrust(ctx context.Context, ip string) {
	if err := v.store.Delete(ctx, trustKey(ip)); err != nil {
		slog.Warn("failed to clear trust", "ip", ip, "error", err)
	}
}

// BurstOK applies the light burst limiter. Store errors fail open.
func (v *Verifier) BurstOK(ctx context.Context, ip string) bool {
	count, err := v.store.Incr(ctx, "burst:"+ip, v.cfg.BurstWindow)
	if err != nil {
		slog.Warn("burst limiter error, failing open", "ip", ip, "error", err)
		return true
	}
	return count <= int64(v.cfg.BurstLimit)
}

// Verify checks a challenge token against the configured provider.
// In development, private IPs bypass verification when no provider
// secrets are set.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP, expectedAction string) (bool, Result) {
	if v.cfg.DevBypass && middleware.IsPrivateIP(remoteIP) && v.cfg.TurnstileSecret == "" && v.cfg.RecaptchaSecret == "" {
		return true, Result{DevBypass: true}
	}

	switch v.cfg.Provider {
	case "turnstile":
		return v.verifyTurnstile(ctx, token, remoteIP, expectedAction)
	case "recaptcha":
		return v.verifyRecaptcha(ctx, token, remoteIP, expectedAction)
	default:
		return false, Result{Error: "unknown_provider:" + v.cfg.Provider}
	}
}

func (v *Verifier) verifyTurnstile(ctx context.Context, token, remoteIP, expectedAction string) (bool, Result) {
	if v.cfg.TurnstileSecret == "" {
		return false, Result{Error: "TURNSTILE_SECRET not configured"}
	}
	if token == "" {
		return false, Result{Error: "missing_token"}
	}

	data, raw, err := v.siteverify(ctx, v.turnstileURL, v.cfg.TurnstileSecret, token, remoteIP)
	if err != nil {
		return false, Result{Error: "verify_request_failed"}
	}

	if !data.Success {
		return false, Result{Error: "provider_rejected", Details: raw}
	}
	// Turnstile echoes the action back when the client set one.
	if data.Action != "" && data.Action != expectedAction {
		return false, Result{Error: "bad_action", Details: raw}
	}

	return true, Result{Details: raw}
}

func (v *Verifier) verifyRecaptcha(ctx context.Context, token, remoteIP, expectedAction string) (bool, Result) {
	if v.cfg.RecaptchaSecret == "" {
		return false, Result{Error: "RECAPTCHA_SECRET not configured"}
	}
	if token == "" {
		return false, Result{Error: "missing_token"}
	}

	data, raw, err := v.siteverify(ctx, v.recaptchaURL, v.cfg.RecaptchaSecret, token, remoteIP)
	if err != nil {
		return false, Result{Error: "verify_request_failed"}
	}

	if !data.Success {
		return false, Result{Error: "provider_rejected", Details: raw}
	}
	if data.Action != expectedAction {
		return false, Result{Error: "bad_action", Details: raw}
	}
	if data.Score < v.cfg.RecaptchaMinScore {
		return false, Result{Error: "low_score", Details: raw}
	}

	return true, Result{Details: raw}
}

func (v *Verifier) siteverify(ctx context.Context, verifyURL, secret, token, remoteIP string) (*siteverifyResponse, json.RawMessage, error) {
	form := url.Values{
		"secret":   {secret},
		"response": {token},
		"remoteip": {remoteIP},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("verify request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close siteverify body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read verify response: %w", err)
	}

	var data siteverifyResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, nil, fmt.Errorf("decode verify response: %w", err)
	}

	return &data, raw, nil
}
