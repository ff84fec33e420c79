// Mr M - Personal Portfolio & RAG Assistant Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/majidkhoshrou/mr-m/internal/analytics"
	"github.com/majidkhoshrou/mr-m/internal/api"
	"github.com/majidkhoshrou/mr-m/internal/challenge"
	"github.com/majidkhoshrou/mr-m/internal/config"
	"github.com/majidkhoshrou/mr-m/internal/contact"
	"github.com/majidkhoshrou/mr-m/internal/middleware"
	"github.com/majidkhoshrou/mr-m/internal/rag"
	"github.com/majidkhoshrou/mr-m/internal/ratelimit"
	"github.com/majidkhoshrou/mr-m/internal/store"
	"github.com/majidkhoshrou/mr-m/web"
)

// conversationTTL bounds how long idle server-side conversations are kept.
const conversationTTL = 24 * time.Hour

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Rate limit and trust flags live in Redis when available, with an
	// in-process fallback so a single node still works without it.
	keys := newKeyStore(cfg)
	verifier := challenge.NewVerifier(cfg.Challenge, keys)
	limiter := ratelimit.NewDailyLimiter(keys, cfg.Quota.DailyLimit)

	// Load the knowledge base into the in-memory search index.
	chunks, err := repo.ListChunks(context.Background())
	if err != nil {
		slog.Error("Failed to load knowledge chunks", "error", err)
		os.Exit(1)
	}
	if len(chunks) == 0 {
		slog.Warn("Knowledge base is empty; run cmd/ingest to populate it")
	} else {
		slog.Info("Knowledge base loaded", "chunks", len(chunks))
	}

	openaiClient := rag.NewOpenAIClient(cfg.OpenAI)
	engine, err := rag.NewEngine(openaiClient, openaiClient, rag.NewIndex(chunks))
	if err != nil {
		slog.Error("Failed to initialize answer engine", "error", err)
		os.Exit(1)
	}

	analyticsSvc := analytics.NewService(repo, analytics.NewIPAPIClient(),
		time.Duration(cfg.AnalyticsRetentionDays)*24*time.Hour)
	contactSvc := contact.NewService(cfg.Contact, contact.NewSMTPMailer(cfg.Contact))

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, cfg)
	chatHandler := api.NewChatHandler(baseHandler, verifier, limiter, engine)
	analyticsHandler := api.NewAnalyticsHandler(baseHandler, analyticsSvc)
	contactHandler := api.NewContactHandler(baseHandler, contactSvc)
	healthHandler := api.NewHealthHandler(baseHandler)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(corsOrigins(cfg)))

	healthHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)
	analyticsHandler.RegisterRoutes(r)
	contactHandler.RegisterRoutes(r)

	// Serve embedded portfolio pages.
	r.Handle("/*", web.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second, // model calls can be slow
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMaintenanceWorker(ctx, repo, time.Duration(cfg.AnalyticsRetentionDays)*24*time.Hour)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func corsOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

// newKeyStore picks Redis when configured and reachable, otherwise an
// in-process store.
func newKeyStore(cfg *config.Config) ratelimit.Store {
	if cfg.Redis.Addr == "" {
		slog.Info("Redis not configured, using in-memory rate limit store")
		return ratelimit.NewMemoryStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("Redis unreachable, using in-memory rate limit store", "error", err)
		return ratelimit.NewMemoryStore()
	}

	slog.Info("Redis connected", "addr", cfg.Redis.Addr)
	return ratelimit.NewRedisStore(client)
}

// startMaintenanceWorker periodically drops stale conversations and
// visits past the retention window.
func startMaintenanceWorker(ctx context.Context, repo store.Repository, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := repo.CleanupStaleConversations(ctx, conversationTTL); err != nil {
					slog.Error("Conversation cleanup failed", "error", err)
				} else if n > 0 {
					slog.Info("Stale conversations removed", "count", n)
				}
				if n, err := repo.PruneVisits(ctx, time.Now().UTC().Add(-retention)); err != nil {
					slog.Error("Visit pruning failed", "error", err)
				} else if n > 0 {
					slog.Info("Old visits pruned", "count", n)
				}
			}
		}
	}()
}
