// Package rag implements retrieval-augmented generation over the
// embedded knowledge base: chunk retrieval, token-budgeted query
// building, and the model call that produces Mr M's replies.
package rag

import (
	"math"
	"sort"

	"github.com/majidkhoshrou/mr-m/internal/domain"
)

// Index is an in-memory vector index over knowledge chunks. Chunks are
// loaded once at startup; the corpus is small (a personal site), so
// brute-force cosine search is fast enough.
type Index struct {
	chunks []*domain.Chunk
	norms  []float64
}

// NewIndex builds an index over the given chunks.
func NewIndex(chunks []*domain.Chunk) *Index {
	norms := make([]float64, len(chunks))
	for i, chunk := range chunks {
		norms[i] = vectorNorm(chunk.Embedding)
	}
	return &Index{chunks: chunks, norms: norms}
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	return len(ix.chunks)
}

// Search returns the topK chunks most similar to the query vector,
// best match first.
func (ix *Index) Search(query []float32, topK int) []*domain.Chunk {
	if topK <= 0 || len(ix.chunks) == 0 {
		return nil
	}

	queryNorm := vectorNorm(query)
	if queryNorm == 0 {
		return nil
	}

	type scored struct {
		chunk *domain.Chunk
		score float64
	}

	results := make([]scored, 0, len(ix.chunks))
	for i, chunk := range ix.chunks {
		if ix.norms[i] == 0 || len(chunk.Embedding) != len(query) {
			continue
		}
		score := dotProduct(query, chunk.Embedding) / (queryNorm * ix.norms[i])
		results = append(results, scored{chunk: chunk, score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if topK > len(results) {
		topK = len(results)
	}
	matches := make([]*domain.Chunk, topK)
	for i := 0; i < topK; i++ {
		matches[i] = results[i].chunk
	}
	return matches
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
