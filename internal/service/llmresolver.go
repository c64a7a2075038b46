package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/connexus-ai/ragbox-backend/internal/crypto"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
)

// LLMResolver turns an LLM row ID into a ready-to-call provider.Provider:
// it looks up the LLM's vendor tag and model name, round-robins an
// active API key, decrypts it, and builds (and caches) the client via
// the provider registry. Every provider-facing service — retrieval's
// QueryEmbedder, ingestion's Embedder, the chat orchestrator, the local
// reranker's remote fallback — goes through this one resolver so key
// rotation and provider construction happen in exactly one place.
type LLMResolver struct {
	llms        *repository.LLMRepo
	apiKeys     *repository.APIKeyRepo
	registry    *provider.Registry
	aeadKey     []byte
	gcpProject  string
	gcpLocation string

	mu      sync.Mutex
	clients map[string]provider.Provider
}

func NewLLMResolver(llms *repository.LLMRepo, apiKeys *repository.APIKeyRepo, registry *provider.Registry, aeadKey []byte, gcpProject, gcpLocation string) *LLMResolver {
	return &LLMResolver{
		llms: llms, apiKeys: apiKeys, registry: registry, aeadKey: aeadKey,
		gcpProject: gcpProject, gcpLocation: gcpLocation,
		clients: make(map[string]provider.Provider),
	}
}

func (r *LLMResolver) resolve(ctx context.Context, llmID string) (provider.Provider, *model.LLM, error) {
	llm, err := r.llms.GetByID(ctx, llmID)
	if err != nil {
		return nil, nil, fmt.Errorf("service.LLMResolver: lookup llm %s: %w", llmID, err)
	}
	if llm == nil {
		return nil, nil, fmt.Errorf("service.LLMResolver: llm %s not found", llmID)
	}

	r.mu.Lock()
	if p, ok := r.clients[llmID]; ok {
		r.mu.Unlock()
		return p, llm, nil
	}
	r.mu.Unlock()

	key, err := r.apiKeys.NextActive(ctx, llmID)
	if err != nil {
		return nil, nil, fmt.Errorf("service.LLMResolver: next key for %s: %w", llmID, err)
	}
	if key == nil {
		return nil, nil, fmt.Errorf("service.LLMResolver: no active api key for llm %s", llmID)
	}
	plaintext, err := crypto.Decrypt(string(key.APIKeyEncrypted), r.aeadKey)
	if err != nil {
		return nil, nil, fmt.Errorf("service.LLMResolver: decrypt key for %s: %w", llmID, err)
	}

	cfg := provider.Config{
		APIKey:      plaintext,
		BaseURL:     derefStr(llm.BaseURL),
		GCPProject:  r.gcpProject,
		GCPLocation: r.gcpLocation,
	}
	p, err := r.registry.Build(ctx, llm.Provider, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("service.LLMResolver: build provider %s: %w", llm.Provider, err)
	}

	r.mu.Lock()
	r.clients[llmID] = p
	r.mu.Unlock()

	return p, llm, nil
}

// Embed satisfies both retriever.QueryEmbedder and ingestion.Embedder —
// both pass a knowledge's embed_llm_id as the "model" argument.
func (r *LLMResolver) Embed(ctx context.Context, texts []string, llmID string) ([][]float32, error) {
	p, llm, err := r.resolve(ctx, llmID)
	if err != nil {
		return nil, err
	}
	return p.Embed(ctx, texts, llm.ModelName)
}

func (r *LLMResolver) Chat(ctx context.Context, llmID string, req provider.Request) (*provider.Response, error) {
	p, llm, err := r.resolve(ctx, llmID)
	if err != nil {
		return nil, err
	}
	req.Model = llm.ModelName
	return p.Chat(ctx, req)
}

func (r *LLMResolver) ChatStream(ctx context.Context, llmID string, req provider.Request) (<-chan provider.StreamChunk, error) {
	p, llm, err := r.resolve(ctx, llmID)
	if err != nil {
		return nil, err
	}
	req.Model = llm.ModelName
	return p.ChatStream(ctx, req)
}

func (r *LLMResolver) Rerank(ctx context.Context, llmID, query string, texts []string, topN int) ([]provider.RerankResult, error) {
	p, llm, err := r.resolve(ctx, llmID)
	if err != nil {
		return nil, err
	}
	return p.Rerank(ctx, query, texts, llm.ModelName, topN)
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
