// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/majidkhoshrou/mr-m/internal/domain"
)

// Repository defines the interface for persisting visits, knowledge
// chunks, and server-side conversation state.
type Repository interface {
	// InsertVisit records a single page visit.
	InsertVisit(ctx context.Context, visit *domain.Visit) error

	// ListVisits retrieves visits recorded at or after the given time.
	ListVisits(ctx context.Context, since time.Time) ([]*domain.Visit, error)

	// PruneVisits deletes visits older than the cutoff and returns the
	// number of rows removed.
	PruneVisits(ctx context.Context, cutoff time.Time) (int64, error)

	// ReplaceChunks atomically swaps the knowledge base contents.
	ReplaceChunks(ctx context.Context, chunks []*domain.Chunk) error

	// ListChunks retrieves all knowledge chunks with their embeddings.
	ListChunks(ctx context.Context) ([]*domain.Chunk, error)

	// CountChunks returns the number of stored knowledge chunks.
	CountChunks(ctx context.Context) (int64, error)

	// GetConversation retrieves conversation state for a client.
	// Returns (nil, nil) when no conversation exists.
	GetConversation(ctx context.Context, clientID string) (*domain.Conversation, error)

	// UpsertConversation creates or updates conversation state.
	UpsertConversation(ctx context.Context, conv *domain.Conversation) error

	// DeleteConversation removes conversation state for a client.
	DeleteConversation(ctx context.Context, clientID string) error

	// CleanupStaleConversations removes conversations idle longer than TTL.
	CleanupStaleConversations(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
