package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// defaultEmbedBatch bounds how many chunk texts go into one provider
// embed call.
const defaultEmbedBatch = 64

// Embedder abstracts the provider call that turns chunk text into
// vectors. Shared with service.QueryEmbedder's signature so the same
// provider client serves both ingestion and query-time embedding.
type Embedder interface {
	Embed(ctx context.Context, texts []string, embedModel string) ([][]float32, error)
}

// VectorWriter abstracts the vector store leg of the dual write.
type VectorWriter interface {
	Upsert(ctx context.Context, chunks []model.Chunk) error
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

// KeywordWriter abstracts the inverted index leg of the dual write.
type KeywordWriter interface {
	Upsert(ctx context.Context, chunks []model.Chunk) error
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

// Vectorizer embeds split text and writes it to the vector store, then
// the inverted index, in that order. If the inverted index write fails
// after the vector store succeeded, it runs a compensating delete
// against the vector store so a document never ends up indexed in one
// leg and missing from the other.
type Vectorizer struct {
	embedder  Embedder
	vectors   VectorWriter
	keyword   KeywordWriter
	batchSize int
	limiter   *rate.Limiter // nil disables embed-call throttling
}

func NewVectorizer(embedder Embedder, vectors VectorWriter, keyword KeywordWriter) *Vectorizer {
	return &Vectorizer{embedder: embedder, vectors: vectors, keyword: keyword, batchSize: defaultEmbedBatch}
}

// SetBatchSize overrides how many texts go into one embed call.
func (v *Vectorizer) SetBatchSize(n int) {
	if n > 0 {
		v.batchSize = n
	}
}

// SetRateLimit caps embed calls per second across all documents this
// worker processes, so a burst of uploads can't exhaust the provider's
// quota.
func (v *Vectorizer) SetRateLimit(callsPerSecond float64) {
	if callsPerSecond > 0 {
		v.limiter = rate.NewLimiter(rate.Limit(callsPerSecond), 1)
	}
}

// Vectorize embeds pieces in batches and dual-writes them as chunks of
// documentID, returning the chunk count written. Chunk IDs are
// "{document_id}_{index}" in both stores, so re-processing the same
// document lands on the same IDs.
func (v *Vectorizer) Vectorize(ctx context.Context, documentID, knowledgeID, fileName, embedModel string, pieces []string) (int, error) {
	if len(pieces) == 0 {
		return 0, fmt.Errorf("ingestion.Vectorize: no pieces to embed")
	}

	vectors := make([][]float32, 0, len(pieces))
	for start := 0; start < len(pieces); start += v.batchSize {
		end := start + v.batchSize
		if end > len(pieces) {
			end = len(pieces)
		}
		if v.limiter != nil {
			if err := v.limiter.Wait(ctx); err != nil {
				return 0, fmt.Errorf("ingestion.Vectorize: rate wait: %w", err)
			}
		}
		batch, err := v.embedder.Embed(ctx, pieces[start:end], embedModel)
		if err != nil {
			return 0, fmt.Errorf("ingestion.Vectorize: embed batch %d: %w", start/v.batchSize, err)
		}
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(pieces) {
		return 0, fmt.Errorf("ingestion.Vectorize: got %d vectors for %d pieces", len(vectors), len(pieces))
	}

	chunks := make([]model.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = model.Chunk{
			ChunkID:     fmt.Sprintf("%s_%d", documentID, i),
			DocumentID:  documentID,
			KnowledgeID: knowledgeID,
			Content:     p,
			Vector:      vectors[i],
			ChunkIndex:  i,
			FileName:    fileName,
		}
	}

	// At-least-once delivery means a redelivered message may find
	// partial writes from an earlier attempt; clear both stores first
	// so the rewrite below is the only copy.
	if err := v.vectors.DeleteByDocumentID(ctx, documentID); err != nil {
		return 0, fmt.Errorf("ingestion.Vectorize: clear vector store: %w", err)
	}
	if err := v.keyword.DeleteByDocumentID(ctx, documentID); err != nil {
		return 0, fmt.Errorf("ingestion.Vectorize: clear inverted index: %w", err)
	}

	if err := v.vectors.Upsert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("ingestion.Vectorize: vector store: %w", err)
	}

	if err := v.keyword.Upsert(ctx, chunks); err != nil {
		if delErr := v.vectors.DeleteByDocumentID(ctx, documentID); delErr != nil {
			slog.Error("ingestion vectorize compensating delete failed",
				"document_id", documentID, "error", delErr)
		}
		return 0, fmt.Errorf("ingestion.Vectorize: inverted index: %w", err)
	}

	return len(chunks), nil
}
