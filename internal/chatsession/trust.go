package chatsession

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileTrustStore keeps the trust hint in a small JSON file, typically
// under the user config directory. Mirrors the browser localStorage
// entry used by the web client.
type FileTrustStore struct {
	path string
}

type trustHint struct {
	ExpiresAtMS int64 `json:"expires_at_ms"`
}

// NewFileTrustStore returns a store backed by the given file path.
// The parent directory is created on first write.
func NewFileTrustStore(path string) *FileTrustStore {
	return &FileTrustStore{path: path}
}

func (s *FileTrustStore) ExpiresAt() (time.Time, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return time.Time{}, false
	}
	var hint trustHint
	if err := json.Unmarshal(data, &hint); err != nil || hint.ExpiresAtMS == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(hint.ExpiresAtMS), true
}

func (s *FileTrustStore) SetExpiresAt(expiry time.Time) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create trust store directory: %w", err)
	}
	data, err := json.Marshal(trustHint{ExpiresAtMS: expiry.UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to encode trust hint: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write trust hint: %w", err)
	}
	return nil
}

// MemoryTrustStore is a TrustStore for tests and ephemeral sessions.
type MemoryTrustStore struct {
	expiry time.Time
	set    bool
}

func (s *MemoryTrustStore) ExpiresAt() (time.Time, bool) { return s.expiry, s.set }

func (s *MemoryTrustStore) SetExpiresAt(expiry time.Time) error {
	s.expiry, s.set = expiry, true
	return nil
}

// MemoryHistory is a HistoryStore scoped to the process lifetime,
// the terminal analogue of browser sessionStorage.
type MemoryHistory struct {
	messages []Message
}

func (h *MemoryHistory) Load() ([]Message, error) {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out, nil
}

func (h *MemoryHistory) Save(messages []Message) error {
	h.messages = make([]Message, len(messages))
	copy(h.messages, messages)
	return nil
}

func (h *MemoryHistory) Clear() error {
	h.messages = nil
	return nil
}
