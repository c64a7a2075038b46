package service

import (
	"context"
	"fmt"

	"github.com/connexus-ai/ragbox-backend/internal/repository"
)

// KnowledgeEmbedLookup satisfies RetrieverService's KnowledgeLookup over
// repository.KnowledgeRepo, resolving a knowledge base's embed_llm_id so
// the vector leg can group knowledgeIDs by embedder before fanning out.
type KnowledgeEmbedLookup struct {
	Knowledge *repository.KnowledgeRepo
}

func (l KnowledgeEmbedLookup) EmbedModelFor(ctx context.Context, knowledgeID string) (string, string, error) {
	kb, err := l.Knowledge.GetByID(ctx, knowledgeID)
	if err != nil {
		return "", "", fmt.Errorf("service.KnowledgeEmbedLookup: %w", err)
	}
	if kb == nil {
		return "", "", fmt.Errorf("service.KnowledgeEmbedLookup: knowledge %s not found", knowledgeID)
	}
	return kb.EmbedLLMID, "", nil
}
