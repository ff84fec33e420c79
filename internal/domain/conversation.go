package domain

import (
	"time"
)

// Turn is a single role/content pair in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation holds server-side conversation state for one client.
// Cleared on request via the clear-chat endpoint.
type Conversation struct {
	ClientID  string    `json:"client_id"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Append records a turn and bumps the update timestamp.
func (c *Conversation) Append(role, content string, now time.Time) {
	c.Turns = append(c.Turns, Turn{Role: role, Content: content})
	c.UpdatedAt = now
}

// Recent returns the last n turns.
func (c *Conversation) Recent(n int) []Turn {
	if n >= len(c.Turns) {
		return c.Turns
	}
	return c.Turns[len(c.Turns)-n:]
}
