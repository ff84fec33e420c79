package chatsession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Turn is one entry in the outbound conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	History        []Turn `json:"history"`
	Action         string `json:"action,omitempty"`
	ChallengeToken string `json:"cf-turnstile-response,omitempty"`
}

// ChatBody is the decoded /api/chat response body. Reply, Error and
// Message are typed as any because the server is allowed to send a
// structured value where a string is expected; classification turns
// non-strings into a placeholder instead of rendering garbage.
type ChatBody struct {
	Reply   any       `json:"reply"`
	Error   any       `json:"error"`
	Info    *ChatInfo `json:"info"`
	OK      *bool     `json:"ok"`
	Message any       `json:"message"`
	Code    string    `json:"code"`
}

// ChatInfo carries challenge verification detail on 403 responses.
type ChatInfo struct {
	Error any `json:"error"`
}

// ChatResponse pairs the HTTP status with the decoded body. A body
// that fails to decode is reported as an empty ChatBody rather than a
// transport error so status-driven classification still runs.
type ChatResponse struct {
	StatusCode int
	Body       ChatBody
}

// OK reports whether the status is in the 2xx range.
func (r *ChatResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Quota is the body of GET /api/quota.
type Quota struct {
	Used           int `json:"used"`
	Remaining      int `json:"remaining"`
	Limit          int `json:"limit"`
	ResetInSeconds int `json:"reset_in_seconds"`
}

// Client talks to the chat backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for the given base URL, e.g.
// "https://majidkhoshrou.com" or "" for same-origin relative paths.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Chat sends one message. A non-nil error means the request never
// produced an HTTP response; any status code, including 4xx and 5xx,
// is returned as a ChatResponse.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	out := &ChatResponse{StatusCode: resp.StatusCode}
	// Tolerate malformed bodies; the status code alone is enough to
	// classify the outcome.
	_ = json.NewDecoder(resp.Body).Decode(&out.Body)
	return out, nil
}

// Quota fetches the current daily allowance without consuming it.
func (c *Client) Quota(ctx context.Context) (*Quota, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/quota", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quota request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("quota request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quota request returned status %d", resp.StatusCode)
	}

	var q Quota
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return nil, fmt.Errorf("failed to decode quota response: %w", err)
	}
	return &q, nil
}

// ClearChat asks the server to drop any stored conversation state for
// this client.
func (c *Client) ClearChat(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/clear-chat", nil)
	if err != nil {
		return fmt.Errorf("failed to build clear-chat request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("clear-chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("clear-chat request returned status %d", resp.StatusCode)
	}
	return nil
}
