package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
)

// lockTTL bounds how long a document can hold the cross-process
// ingestion lock before a crashed worker's lock is reclaimable.
const lockTTL = 10 * time.Minute

var (
	processingMu sync.Mutex
	processing   = make(map[string]bool)
)

// Parser abstracts Stage A text extraction, matching
// service.ParserService.Extract's signature.
type Parser interface {
	Extract(ctx context.Context, gcsURI string) (*ParseResult, error)
}

// ParseResult mirrors service.ParseResult without importing the service
// package's provider-facing Entity type — Stage A only needs the text.
type ParseResult struct {
	Text  string
	Pages int
}

// KnowledgeLookup resolves the chunking policy and embedding model a
// document's knowledge base was created with.
type KnowledgeLookup interface {
	GetByID(ctx context.Context, id string) (*model.Knowledge, error)
	IncrementCounts(ctx context.Context, id string, docDelta, chunkDelta int) error
}

// Pipeline runs the three ingestion stages for one document: parse,
// split, vectorize. Each stage updates model.Document.Status so a
// caller can poll progress; a failure at any stage records which stage
// failed via DocumentRepo.MarkFailed.
type Pipeline struct {
	docs      *repository.DocumentRepo
	knowledge KnowledgeLookup
	cache     *repository.Cache
	parser    Parser
	gcsPrefix func(filePath string) string
}

func NewPipeline(docs *repository.DocumentRepo, knowledge KnowledgeLookup, cache *repository.Cache, parser Parser, gcsPrefix func(string) string) *Pipeline {
	return &Pipeline{docs: docs, knowledge: knowledge, cache: cache, parser: parser, gcsPrefix: gcsPrefix}
}

// ProcessDocument runs parse → split → vectorize for docID. Idempotency
// is guarded twice: an in-process map rejects a duplicate call racing
// within this worker, and a Redis SETNX lock rejects one racing across
// workers consuming the same bus message twice.
func (p *Pipeline) ProcessDocument(ctx context.Context, docID string, vectorizer *Vectorizer) error {
	processingMu.Lock()
	if processing[docID] {
		processingMu.Unlock()
		return fmt.Errorf("ingestion.ProcessDocument: document %s is already processing in this worker", docID)
	}
	processing[docID] = true
	processingMu.Unlock()
	defer func() {
		processingMu.Lock()
		delete(processing, docID)
		processingMu.Unlock()
	}()

	acquired, err := p.cache.AcquireLock(ctx, docID, lockTTL)
	if err != nil {
		return fmt.Errorf("ingestion.ProcessDocument: acquire lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("ingestion.ProcessDocument: document %s is locked by another worker", docID)
	}
	defer p.cache.ReleaseLock(ctx, docID)

	doc, err := p.docs.GetByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("ingestion.ProcessDocument: get document: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("ingestion.ProcessDocument: document %s not found", docID)
	}
	// At-least-once delivery can replay doc.upload for a document that
	// already finished. The per-document chunk writes are idempotent,
	// but the knowledge-level counters are not — ack and skip instead
	// of incrementing them again.
	if doc.Status == model.DocumentCompleted {
		slog.Info("ingestion skipping completed document", "document_id", docID)
		return nil
	}

	kb, err := p.knowledge.GetByID(ctx, doc.KnowledgeID)
	if err != nil {
		return fmt.Errorf("ingestion.ProcessDocument: get knowledge: %w", err)
	}
	if kb == nil {
		return fmt.Errorf("ingestion.ProcessDocument: knowledge %s not found", doc.KnowledgeID)
	}

	slog.Info("ingestion pipeline starting", "document_id", docID, "knowledge_id", doc.KnowledgeID, "file_name", doc.FileName)

	// Stage A: parse
	if err := p.docs.UpdateStatus(ctx, docID, model.DocumentParsing); err != nil {
		return fmt.Errorf("ingestion.ProcessDocument: set parsing: %w", err)
	}
	parsed, err := p.parser.Extract(ctx, p.gcsPrefix(doc.FilePath))
	if err != nil {
		p.fail(ctx, docID, "parse", err)
		return fmt.Errorf("ingestion.ProcessDocument: parse: %w", err)
	}
	slog.Info("ingestion parsed", "document_id", docID, "chars", len(parsed.Text), "pages", parsed.Pages)

	// Stage B: split
	if err := p.docs.UpdateStatus(ctx, docID, model.DocumentSplitting); err != nil {
		return fmt.Errorf("ingestion.ProcessDocument: set splitting: %w", err)
	}
	splitter := NewSplitter(kb.ChunkSize, kb.ChunkOverlap)
	pieces, err := splitter.Split(parsed.Text)
	if err != nil {
		p.fail(ctx, docID, "split", err)
		return fmt.Errorf("ingestion.ProcessDocument: split: %w", err)
	}
	slog.Info("ingestion split", "document_id", docID, "piece_count", len(pieces))

	// Stage C: vectorize (dual write, compensating delete on partial failure)
	if err := p.docs.UpdateStatus(ctx, docID, model.DocumentEmbedding); err != nil {
		return fmt.Errorf("ingestion.ProcessDocument: set embedding: %w", err)
	}
	chunkCount, err := vectorizer.Vectorize(ctx, docID, doc.KnowledgeID, doc.FileName, kb.EmbedLLMID, pieces)
	if err != nil {
		p.fail(ctx, docID, "vectorize", err)
		return fmt.Errorf("ingestion.ProcessDocument: vectorize: %w", err)
	}

	if err := p.docs.UpdateStatus(ctx, docID, model.DocumentCompleted); err != nil {
		return fmt.Errorf("ingestion.ProcessDocument: set completed: %w", err)
	}
	if err := p.docs.UpdateChunkCount(ctx, docID, chunkCount); err != nil {
		slog.Warn("ingestion chunk count update failed", "document_id", docID, "error", err)
	}
	if err := p.knowledge.IncrementCounts(ctx, doc.KnowledgeID, 1, chunkCount); err != nil {
		slog.Warn("ingestion knowledge counter update failed", "knowledge_id", doc.KnowledgeID, "error", err)
	}

	slog.Info("ingestion pipeline completed", "document_id", docID, "chunk_count", chunkCount)
	return nil
}

func (p *Pipeline) fail(ctx context.Context, docID, stage string, origErr error) {
	slog.Error("ingestion pipeline stage failed", "document_id", docID, "stage", stage, "error", origErr)
	if err := p.docs.MarkFailed(ctx, docID, fmt.Sprintf("%s: %v", stage, origErr)); err != nil {
		slog.Error("ingestion mark failed also failed", "document_id", docID, "error", err)
	}
}
