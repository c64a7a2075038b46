package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/bus"
	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/gcpclient"
	"github.com/connexus-ai/ragbox-backend/internal/ingestion"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// Pull subscriptions, one consumer group per stage. Provisioned out of
// band alongside their topics.
const (
	DocUploadSubscription  = "doc-upload-worker"
	RecallTestSubscription = "recall-test-worker"
)

// archiveSweepInterval is how often the stale-session archiver runs.
const archiveSweepInterval = time.Hour

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("worker: load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("worker: connect database: %w", err)
	}
	defer pool.Close()

	cache, err := repository.NewCache(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("worker: connect redis: %w", err)
	}
	defer cache.Close()

	invertedIndex, err := repository.NewInvertedIndex(ctx, []string{cfg.ElasticsearchURL}, cfg.ElasticsearchIndex, cfg.ElasticsearchCJKAnalyzer)
	if err != nil {
		return fmt.Errorf("worker: connect elasticsearch: %w", err)
	}

	b, err := bus.New(ctx, cfg.PubSubProjectID)
	if err != nil {
		return fmt.Errorf("worker: connect pubsub: %w", err)
	}
	defer b.Close()

	docRepo := repository.NewDocumentRepo(pool)
	knowledgeRepo := repository.NewKnowledgeRepo(pool)
	llmRepo := repository.NewLLMRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)
	robotRepo := repository.NewRobotRepo(pool)
	sessionRepo := repository.NewSessionRepo(pool)
	historyRepo := repository.NewChatHistoryRepo(pool)
	vectorStore := repository.NewVectorStore(pool)

	registry := provider.NewRegistry()
	resolver := service.NewLLMResolver(llmRepo, apiKeyRepo, registry, []byte(cfg.AEADKey), cfg.VertexAIProject, cfg.VertexAILocation)

	storageAdapter, err := gcpclient.NewStorageAdapter(ctx)
	if err != nil {
		return fmt.Errorf("worker: storage client: %w", err)
	}
	defer storageAdapter.Close()

	docaiAdapter, err := gcpclient.NewDocumentAIAdapter(ctx, cfg.VertexAIProject, cfg.VertexAILocation)
	if err != nil {
		return fmt.Errorf("worker: document ai client: %w", err)
	}
	parserService := service.NewParserService(docaiAdapter, cfg.DocAIProcessor, storageAdapter, cfg.GCSBucketName)
	parser := &ingestion.ServiceParserAdapter{Parser: parserService}

	vectorizer := ingestion.NewVectorizer(resolver, vectorStore, invertedIndex)
	vectorizer.SetBatchSize(cfg.EmbedBatchSize)
	vectorizer.SetRateLimit(cfg.EmbedRatePerSec)
	pipeline := ingestion.NewPipeline(docRepo, knowledgeRepo, cache, parser, func(objectPath string) string {
		return fmt.Sprintf("gs://%s/%s", cfg.GCSBucketName, objectPath)
	})

	retriever := service.NewRetrieverService(
		resolver,
		service.VectorStoreAdapter{Store: vectorStore},
		service.InvertedIndexAdapter{Index: invertedIndex},
		service.KnowledgeEmbedLookup{Knowledge: knowledgeRepo},
	)
	retriever.SetLocalReranker(service.NewLocalRerankerService(docRepo))
	retriever.SetRemoteReranker(resolver)
	evaluator := service.NewRecallEvaluator(retriever, robotRepo, cache)

	activeTTL := time.Duration(cfg.ActiveTTLSeconds) * time.Second
	sessions := service.NewSessionStore(sessionRepo, historyRepo, cache, activeTTL, cfg.ArchiveDays)

	errCh := make(chan error, 2)

	slog.Info("[WORKER] subscribing", "subscription", DocUploadSubscription)
	go func() {
		errCh <- b.Subscribe(ctx, DocUploadSubscription, func(ctx context.Context, data []byte) error {
			return handleDocUpload(ctx, data, pipeline, vectorizer)
		})
	}()

	slog.Info("[WORKER] subscribing", "subscription", RecallTestSubscription)
	go func() {
		errCh <- b.Subscribe(ctx, RecallTestSubscription, func(ctx context.Context, data []byte) error {
			return handleRecallTest(ctx, data, evaluator)
		})
	}()

	// The stale-session archiver is a cron-style ticker, not a bus
	// consumer — it needs no trigger, only a clock.
	go func() {
		ticker := time.NewTicker(archiveSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := sessions.ArchiveInactiveSessions(ctx)
				if err != nil {
					slog.Error("[WORKER] archive sweep failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("[WORKER] archived inactive sessions", "count", n)
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("[WORKER] received signal, shutting down", "signal", sig.String())
		cancel()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("worker: subscribe: %w", err)
		}
	}

	return nil
}

func handleDocUpload(ctx context.Context, data []byte, pipeline *ingestion.Pipeline, vectorizer *ingestion.Vectorizer) error {
	msg, err := bus.DecodeDocUpload(data)
	if err != nil {
		slog.Error("[WORKER] decode doc.upload failed", "error", err)
		return err
	}
	if err := pipeline.ProcessDocument(ctx, msg.DocumentID, vectorizer); err != nil {
		slog.Error("[WORKER] process document failed", "document_id", msg.DocumentID, "error", err)
		return err
	}
	slog.Info("[WORKER] document processed", "document_id", msg.DocumentID)
	return nil
}

func handleRecallTest(ctx context.Context, data []byte, evaluator *service.RecallEvaluator) error {
	msg, err := bus.DecodeRecallTest(data)
	if err != nil {
		slog.Error("[WORKER] decode recall.test failed", "error", err)
		return err
	}
	if err := evaluator.Run(ctx, msg); err != nil {
		slog.Error("[WORKER] recall run failed", "task_id", msg.TaskID, "error", err)
		// the task blob already records the failure; ack so Pub/Sub
		// doesn't replay a job the user will just restart
		return nil
	}
	slog.Info("[WORKER] recall task finished", "task_id", msg.TaskID)
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
