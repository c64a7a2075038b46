package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/ragbox-backend/internal/bus"
	ragcache "github.com/connexus-ai/ragbox-backend/internal/cache"
	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/gcpclient"
	"github.com/connexus-ai/ragbox-backend/internal/handler"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
	"github.com/connexus-ai/ragbox-backend/internal/router"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

const Version = "1.0.0"

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("server: load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("server: connect database: %w", err)
	}
	defer pool.Close()

	if err := repository.Seed(ctx, pool, repository.SeedDefaults{
		AdminUsername:  "admin",
		AdminEmail:     "admin@localhost",
		AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
		EmbedLLMName:   "default-embedding",
		EmbedProvider:  "google",
		EmbedModelName: "text-embedding-004",
		ChunkSize:      cfg.DefaultChunkSize,
		ChunkOverlap:   cfg.DefaultChunkOverlap,
	}); err != nil {
		return fmt.Errorf("server: seed: %w", err)
	}

	cache, err := repository.NewCache(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("server: connect redis: %w", err)
	}
	defer cache.Close()

	invertedIndex, err := repository.NewInvertedIndex(ctx, []string{cfg.ElasticsearchURL}, cfg.ElasticsearchIndex, cfg.ElasticsearchCJKAnalyzer)
	if err != nil {
		return fmt.Errorf("server: connect elasticsearch: %w", err)
	}

	b, err := bus.New(ctx, cfg.PubSubProjectID)
	if err != nil {
		return fmt.Errorf("server: connect pubsub: %w", err)
	}
	defer b.Close()

	storageAdapter, err := gcpclient.NewStorageAdapter(ctx)
	if err != nil {
		return fmt.Errorf("server: storage client: %w", err)
	}
	defer storageAdapter.Close()

	userRepo := repository.NewUserRepo(pool)
	llmRepo := repository.NewLLMRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)
	knowledgeRepo := repository.NewKnowledgeRepo(pool)
	docRepo := repository.NewDocumentRepo(pool)
	robotRepo := repository.NewRobotRepo(pool)
	sessionRepo := repository.NewSessionRepo(pool)
	historyRepo := repository.NewChatHistoryRepo(pool)
	vectorStore := repository.NewVectorStore(pool)

	registry := provider.NewRegistry()
	resolver := service.NewLLMResolver(llmRepo, apiKeyRepo, registry, []byte(cfg.AEADKey), cfg.VertexAIProject, cfg.VertexAILocation)

	embedCache := ragcache.NewEmbeddingCache(cache, ragcache.DefaultEmbeddingTTL())
	queryCache := ragcache.New(cache, 5*time.Minute)

	retriever := service.NewRetrieverService(
		ragcache.CachedEmbedder{Inner: resolver, Cache: embedCache},
		service.VectorStoreAdapter{Store: vectorStore},
		service.InvertedIndexAdapter{Index: invertedIndex},
		service.KnowledgeEmbedLookup{Knowledge: knowledgeRepo},
	)
	retriever.SetLocalReranker(service.NewLocalRerankerService(docRepo))
	retriever.SetRemoteReranker(resolver)

	contextTTL := time.Duration(cfg.ContextTTLSeconds) * time.Second
	activeTTL := time.Duration(cfg.ActiveTTLSeconds) * time.Second
	contexts := service.NewContextManager(cache, historyRepo, contextTTL, cfg.MaxContextTurns)
	sessions := service.NewSessionStore(sessionRepo, historyRepo, cache, activeTTL, cfg.ArchiveDays)
	authService := service.NewAuthService(userRepo, []byte(cfg.JWTSigningKey), time.Duration(cfg.JWTAccessTTLMin)*time.Minute)
	evaluator := service.NewRecallEvaluator(retriever, robotRepo, cache)

	prompts, err := service.LoadPromptLibrary(cfg.PromptsPath)
	if err != nil {
		return fmt.Errorf("server: load prompts: %w", err)
	}

	metricsReg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(metricsReg)

	deps := &router.Dependencies{
		DB:            pool,
		ES:            invertedIndex,
		Version:       Version,
		FrontendURL:   cfg.CORSOrigins,
		Metrics:       metrics,
		MetricsReg:    metricsReg,
		JWTSigningKey: []byte(cfg.JWTSigningKey),
		Users:         userRepo,
		AuthService:   authService,
		KnowledgeDeps: handler.KnowledgeDeps{
			Knowledge:  knowledgeRepo,
			LLMs:       llmRepo,
			Vectors:    vectorStore,
			Keyword:    invertedIndex,
			Dimensions: cfg.VectorDimensions,
		},
		DocumentDeps: handler.DocumentDeps{
			Docs:         docRepo,
			Knowledge:    knowledgeRepo,
			Counters:     knowledgeRepo,
			Blobs:        storageAdapter,
			Vectors:      vectorStore,
			Keyword:      invertedIndex,
			Publisher:    b,
			Bucket:       cfg.GCSBucketName,
			MaxFileBytes: cfg.FileMaxSizeBytes,
		},
		IngestDeps: handler.IngestDeps{
			DocRepo:   docRepo,
			Knowledge: knowledgeRepo,
			Publisher: b,
		},
		DocService: service.NewDocumentService(storageAdapter, docRepo, knowledgeRepo, cfg.GCSBucketName, 15*time.Minute),
		RobotDeps: handler.RobotDeps{
			Robots:    robotRepo,
			Knowledge: knowledgeRepo,
			Retriever: retriever,
			Cache:     queryCache,
		},
		ChatDeps: handler.ChatDeps{
			Sessions:  sessions,
			Contexts:  contexts,
			Retriever: retriever,
			Robots:    robotRepo,
			Knowledge: knowledgeRepo,
			Provider:  resolver,
			Metrics:   metrics,
			Prompts:   prompts,
		},
		SessionDeps: handler.SessionDeps{
			Sessions: sessions,
			Contexts: contexts,
			Robots:   robotRepo,
		},
		RecallDeps: handler.RecallDeps{
			Evaluator: evaluator,
			Publisher: b,
		},
		RetrievalRateLimiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			MaxRequests: cfg.RetrievalTestRateLimitPerMin,
			Window:      time.Minute,
		}),
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router.New(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE responses outlive any fixed write deadline
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[SERVER] listening", "port", cfg.Port, "version", Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("[SERVER] received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("[SERVER] stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
