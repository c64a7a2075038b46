// Package cache wraps internal/repository.Cache (Redis) with
// query-shaped and embedding-shaped convenience layers, keeping the
// hit/miss slog lines the in-memory version used to log.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/repository"
)

// EmbeddingCache caches query->vector mappings keyed by normalized
// query hash, backed by Redis GET/SETEX instead of an in-process map —
// entries expire natively so no cleanup goroutine is needed.
type EmbeddingCache struct {
	store *repository.Cache
	ttl   time.Duration
}

// DefaultEmbeddingTTL is 15 minutes unless overridden by EMBEDDING_CACHE_TTL env var.
func DefaultEmbeddingTTL() time.Duration {
	if v := os.Getenv("EMBEDDING_CACHE_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 15 * time.Minute
}

func NewEmbeddingCache(store *repository.Cache, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{store: store, ttl: ttl}
}

func (c *EmbeddingCache) Get(ctx context.Context, queryHash string) ([]float32, bool) {
	raw, ok, err := c.store.Get(ctx, queryHash)
	if err != nil || !ok {
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, false
	}

	slog.Info("[EMBED-CACHE] hit", "query_hash", queryHash)
	return vec, true
}

func (c *EmbeddingCache) Set(ctx context.Context, queryHash string, vec []float32) {
	payload, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, queryHash, string(payload), c.ttl); err != nil {
		slog.Error("[EMBED-CACHE] set failed", "query_hash", queryHash, "error", err)
		return
	}

	slog.Info("[EMBED-CACHE] set", "query_hash", queryHash, "vec_dim", len(vec), "ttl_s", int(c.ttl.Seconds()))
}

// EmbeddingQueryHash returns a deterministic cache key for a query
// embedded by one specific model — the same text embedded by two
// different models must never share a cache slot. Normalizes by
// lowercasing and trimming whitespace before hashing.
func EmbeddingQueryHash(llmID, query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	h := sha256.Sum256([]byte(llmID + "\x00" + normalized))
	return fmt.Sprintf("rag:emb:%x", h[:16])
}

// Embedder matches the provider-facing embed signature the retriever
// and vectorizer share.
type Embedder interface {
	Embed(ctx context.Context, texts []string, llmID string) ([][]float32, error)
}

// CachedEmbedder decorates an Embedder with the Redis embedding cache.
// Only single-text calls (query embedding on the retrieval hot path)
// consult the cache; bulk ingestion batches pass straight through.
type CachedEmbedder struct {
	Inner Embedder
	Cache *EmbeddingCache
}

func (c CachedEmbedder) Embed(ctx context.Context, texts []string, llmID string) ([][]float32, error) {
	if c.Cache == nil || len(texts) != 1 {
		return c.Inner.Embed(ctx, texts, llmID)
	}
	hash := EmbeddingQueryHash(llmID, texts[0])
	if vec, ok := c.Cache.Get(ctx, hash); ok {
		return [][]float32{vec}, nil
	}
	vecs, err := c.Inner.Embed(ctx, texts, llmID)
	if err != nil {
		return nil, err
	}
	c.Cache.Set(ctx, hash, vecs[0])
	return vecs, nil
}
