package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// DocumentLookup resolves the document metadata a reranked chunk needs
// but doesn't carry itself (Chunk lives only in the vector/inverted
// stores, so it has no CreatedAt or sibling chunk count).
type DocumentLookup interface {
	GetByID(ctx context.Context, id string) (*model.Document, error)
}

// LocalRerankerService is the fallback cross-encoder substitute used
// when a robot has no remote rerank LLM bound: a weighted blend of
// fused similarity, document recency, and parent-document size.
type LocalRerankerService struct {
	docs DocumentLookup
	now  func() time.Time
}

func NewLocalRerankerService(docs DocumentLookup) *LocalRerankerService {
	return &LocalRerankerService{docs: docs, now: time.Now}
}

// Rerank scores each candidate as
// FinalScore = 0.70*similarity + 0.15*recencyBoost + 0.15*parentDocBoost.
// The query itself doesn't enter the formula — this is a metadata
// reranker, not a cross-encoder — but the parameter stays so it can be
// swapped for a remote rerank LLM without changing the interface.
func (s *LocalRerankerService) Rerank(ctx context.Context, query string, candidates []RankedChunk) ([]RankedChunk, error) {
	now := s.now().UTC()
	docCache := make(map[string]*model.Document)

	out := make([]RankedChunk, len(candidates))
	for i, c := range candidates {
		doc, ok := docCache[c.Chunk.DocumentID]
		if !ok {
			d, err := s.docs.GetByID(ctx, c.Chunk.DocumentID)
			if err != nil {
				return nil, fmt.Errorf("service.LocalRerankerService.Rerank: document %s: %w", c.Chunk.DocumentID, err)
			}
			docCache[c.Chunk.DocumentID] = d
			doc = d
		}

		var recency, parentDoc float64
		if doc != nil {
			recency = recencyBoost(doc.CreatedAt, now)
			parentDoc = parentDocBoost(doc.ChunkCount)
		}

		out[i] = RankedChunk{
			Chunk:      c.Chunk,
			Similarity: c.Similarity,
			FinalScore: weightSimilarity*c.Similarity + weightRecency*recency + weightParentDoc*parentDoc,
		}
	}
	return out, nil
}

// recencyBoost scores [0,1]: documents within the last 7 days score
// 1.0, decaying linearly to 0 at 365 days.
func recencyBoost(docCreated, now time.Time) float64 {
	daysSince := now.Sub(docCreated).Hours() / 24
	if daysSince < 0 {
		daysSince = 0
	}
	if daysSince <= 7 {
		return 1.0
	}
	if daysSince >= 365 {
		return 0.0
	}
	return 1.0 - (daysSince-7)/(365-7)
}

// parentDocBoost scores [0,1]: documents with more chunks (more
// content) score higher, capped at 50 chunks.
func parentDocBoost(chunkCount int) float64 {
	if chunkCount <= 0 {
		return 0.0
	}
	const cap = 50.0
	return math.Min(float64(chunkCount)/cap, 1.0)
}
