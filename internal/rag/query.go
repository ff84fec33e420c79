package rag

import (
	"fmt"
	"strings"

	"github.com/majidkhoshrou/mr-m/internal/domain"
	"github.com/tiktoken-go/tokenizer"
)

// QueryBuilder assembles the retrieval query from the current message
// plus as many recent user turns as fit in a token budget.
type QueryBuilder struct {
	codec     tokenizer.Codec
	maxTokens int
}

// NewQueryBuilder creates a query builder with the given token budget.
func NewQueryBuilder(maxTokens int) (*QueryBuilder, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &QueryBuilder{codec: codec, maxTokens: maxTokens}, nil
}

// Build returns the retrieval query text. The current message always
// fits (truncated to the budget if needed); prior user turns are added
// newest-first until the budget runs out, then joined oldest-first.
func (b *QueryBuilder) Build(history []domain.Turn, current string) (string, error) {
	currentIDs, _, err := b.codec.Encode(current)
	if err != nil {
		return "", fmt.Errorf("encode current message: %w", err)
	}

	remaining := b.maxTokens - len(currentIDs)
	if remaining < 0 {
		truncated, err := b.codec.Decode(currentIDs[:b.maxTokens])
		if err != nil {
			return "", fmt.Errorf("truncate current message: %w", err)
		}
		return strings.TrimSpace(truncated), nil
	}

	var selected []string
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != "user" {
			continue
		}
		ids, _, err := b.codec.Encode(history[i].Content)
		if err != nil {
			return "", fmt.Errorf("encode history turn: %w", err)
		}
		if total+len(ids) > remaining {
			break
		}
		selected = append([]string{history[i].Content}, selected...)
		total += len(ids)
	}

	selected = append(selected, current)
	return strings.TrimSpace(strings.Join(selected, " ")), nil
}
