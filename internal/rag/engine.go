package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/majidkhoshrou/mr-m/internal/domain"
)

const (
	// maxHistoryTurns bounds how much prior conversation is replayed to
	// the model.
	maxHistoryTurns = 12

	// queryTokenBudget bounds the retrieval query built from the
	// current message plus recent user turns.
	queryTokenBudget = 2500

	defaultTopK = 5

	systemPrompt = "Hello! I am Mr M — Majid's professional AI assistant. " +
		"I specialize in answering questions about Majid's background, research, publications, work experience, and projects. " +
		"You may only answer using the provided CONTEXT. " +
		"If the context does not include the answer, politely say you don't know. Never make assumptions."
)

// Engine ties retrieval and generation together for one chat turn.
type Engine struct {
	embedder  Embedder
	completer Completer
	index     *Index
	query     *QueryBuilder
	topK      int
}

// NewEngine creates a chat engine over the given index and model clients.
func NewEngine(embedder Embedder, completer Completer, index *Index) (*Engine, error) {
	query, err := NewQueryBuilder(queryTokenBudget)
	if err != nil {
		return nil, err
	}
	return &Engine{
		embedder:  embedder,
		completer: completer,
		index:     index,
		query:     query,
		topK:      defaultTopK,
	}, nil
}

// Answer runs the full pipeline for one user message: build the
// retrieval query, fetch the most relevant chunks, and ask the model
// with the context and trimmed history.
func (e *Engine) Answer(ctx context.Context, message string, history []domain.Turn) (string, error) {
	ragQuery, err := e.query.Build(history, message)
	if err != nil {
		return "", fmt.Errorf("build retrieval query: %w", err)
	}

	queryVec, err := e.embedder.Embed(ctx, ragQuery)
	if err != nil {
		return "", fmt.Errorf("embed retrieval query: %w", err)
	}

	chunks := e.index.Search(queryVec, e.topK)

	var contextParts []string
	for _, chunk := range chunks {
		contextParts = append(contextParts, "Source: "+chunk.SourcePath+"\n"+chunk.Text)
	}

	turns := make([]domain.Turn, 0, len(history)+3)
	turns = append(turns,
		domain.Turn{Role: "system", Content: systemPrompt},
		domain.Turn{Role: "system", Content: "CONTEXT:\n" + strings.Join(contextParts, "\n\n")},
	)

	trimmed := history
	if len(trimmed) > maxHistoryTurns {
		trimmed = trimmed[len(trimmed)-maxHistoryTurns:]
	}
	turns = append(turns, trimmed...)
	turns = append(turns, domain.Turn{Role: "user", Content: message})

	reply, err := e.completer.Complete(ctx, turns)
	if err != nil {
		return "", fmt.Errorf("complete chat: %w", err)
	}

	return strings.TrimSpace(reply), nil
}
