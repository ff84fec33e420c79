// Ingest rebuilds the Mr M knowledge base: it chunks the documents in
// a directory, embeds every chunk, and swaps the stored knowledge in
// one transaction.
package main

import (
	"context"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/majidkhoshrou/mr-m/internal/config"
	"github.com/majidkhoshrou/mr-m/internal/domain"
	"github.com/majidkhoshrou/mr-m/internal/rag"
	"github.com/majidkhoshrou/mr-m/internal/store"
)

const chunkSize = 200 // words per chunk

var htmlTagRe = regexp.MustCompile(`(?s)<[^>]*>`)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	dir := flag.String("dir", "data/knowledge", "directory of documents to ingest")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	embedder := rag.NewOpenAIClient(cfg.OpenAI)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	chunks, err := ingestDir(ctx, *dir, embedder)
	if err != nil {
		slog.Error("Ingestion failed", "error", err)
		os.Exit(1)
	}
	if len(chunks) == 0 {
		slog.Error("No chunks produced, refusing to wipe the knowledge base", "dir", *dir)
		os.Exit(1)
	}

	if err := repo.ReplaceChunks(ctx, chunks); err != nil {
		slog.Error("Failed to store chunks", "error", err)
		os.Exit(1)
	}
	slog.Info("Knowledge base rebuilt", "chunks", len(chunks), "dir", *dir)
}

func ingestDir(ctx context.Context, dir string, embedder rag.Embedder) ([]*domain.Chunk, error) {
	var chunks []*domain.Chunk

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !supportedFile(path) {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		text := string(raw)
		if strings.EqualFold(filepath.Ext(path), ".html") {
			text = htmlTagRe.ReplaceAllString(text, " ")
		}
		text = rag.CleanText(text)

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}

		pieces := rag.SplitText(text, chunkSize)
		slog.Info("Chunked document", "path", rel, "chunks", len(pieces))

		for _, piece := range pieces {
			embedding, err := embedder.Embed(ctx, piece)
			if err != nil {
				return err
			}
			chunks = append(chunks, &domain.Chunk{
				ID:         uuid.NewString(),
				SourcePath: rel,
				Text:       piece,
				Embedding:  embedding,
			})
		}
		return nil
	})
	return chunks, err
}

func supportedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".html":
		return true
	}
	return false
}
