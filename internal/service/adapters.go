package service

import (
	"context"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
)

// VectorStoreAdapter satisfies VectorSearcher over repository.VectorStore,
// converting its Postgres-shaped VectorResult into the VectorHit the
// retriever fuses.
type VectorStoreAdapter struct {
	Store *repository.VectorStore
}

func (a VectorStoreAdapter) Search(ctx context.Context, queryVec []float32, knowledgeIDs []string, topK int) ([]VectorHit, error) {
	hits, err := a.Store.Search(ctx, queryVec, knowledgeIDs, topK)
	if err != nil {
		return nil, err
	}
	out := make([]VectorHit, len(hits))
	for i, h := range hits {
		out[i] = VectorHit{Chunk: h.Chunk, Score: h.Score}
	}
	return out, nil
}

// InvertedIndexAdapter satisfies KeywordSearcher over
// repository.InvertedIndex, converting its KeywordResult into KeywordHit.
type InvertedIndexAdapter struct {
	Index *repository.InvertedIndex
}

func (a InvertedIndexAdapter) Search(ctx context.Context, query string, knowledgeIDs []string, topK int) ([]KeywordHit, error) {
	hits, err := a.Index.Search(ctx, query, knowledgeIDs, topK)
	if err != nil {
		return nil, err
	}
	out := make([]KeywordHit, len(hits))
	for i, h := range hits {
		out[i] = KeywordHit{Chunk: h.Chunk, Score: h.Score}
	}
	return out, nil
}

func (a InvertedIndexAdapter) GetByIDs(ctx context.Context, chunkIDs []string) (map[string]model.Chunk, error) {
	return a.Index.GetByIDs(ctx, chunkIDs)
}
