// Package chatsession drives one user message through to a rendered
// reply: challenge token lifecycle, trust caching, retry-on-403, and
// quota feedback. The controller talks to the page (or terminal)
// through the Viewport interface so it is testable without a browser.
package chatsession

import (
	"context"
	"time"
)

// Sender identifies who produced a chat message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

// Message is one rendered chat entry. History is append-only within a
// session; insertion order is display order.
type Message struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// Viewport is the thin rendering surface the controller drives.
type Viewport interface {
	// AppendMessage renders a message at the end of the chat window.
	AppendMessage(msg Message)

	// ShowTyping renders the ephemeral typing placeholder.
	ShowTyping()

	// RemoveTyping removes the typing placeholder.
	RemoveTyping()

	// ResetComposer clears the input control and refocuses it.
	ResetComposer()

	// SetComposerEnabled enables or disables the input and send controls.
	SetComposerEnabled(enabled bool)

	// SetQuotaBanner updates the remaining-allowance banner.
	SetQuotaBanner(remaining, limit int)

	// ClearMessages empties the chat window.
	ClearMessages()
}

// WidgetHandle is an opaque handle to a rendered challenge widget.
type WidgetHandle interface{}

// ChallengeWidget mirrors the invisible challenge widget script.
// At most one handle is created per controller lifetime.
type ChallengeWidget interface {
	// Available reports whether the widget script has loaded.
	Available() bool

	// Render mounts an invisible widget and returns its handle.
	Render(siteKey, action string) (WidgetHandle, error)

	// GetResponse returns an already-cached token, or empty.
	GetResponse(handle WidgetHandle) (string, error)

	// Execute runs the challenge and returns a fresh token.
	Execute(ctx context.Context, handle WidgetHandle, action string) (string, error)

	// Reset clears widget state so Execute can run again.
	Reset(handle WidgetHandle) error
}

// TrustStore persists the client-side trust hint across sessions.
// The hint only skips redundant challenge solving; the server still
// verifies every request on its own.
type TrustStore interface {
	// ExpiresAt returns the stored expiry. ok is false when no hint
	// has ever been stored.
	ExpiresAt() (expiry time.Time, ok bool)

	// SetExpiresAt overwrites the stored expiry.
	SetExpiresAt(expiry time.Time) error
}

// HistoryStore persists the session-scoped message history.
type HistoryStore interface {
	Load() ([]Message, error)
	Save(messages []Message) error
	Clear() error
}
