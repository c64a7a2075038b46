package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
)

// QueryCache caches hybrid-retrieve results by (robotID, query),
// backed by Redis GET/SETEX — entries expire natively, no cleanup
// goroutine needed.
type QueryCache struct {
	store *repository.Cache
	ttl   time.Duration
}

func New(store *repository.Cache, ttl time.Duration) *QueryCache {
	return &QueryCache{store: store, ttl: ttl}
}

func (c *QueryCache) Get(ctx context.Context, robotID, query string) ([]model.RetrievedContext, bool) {
	key := cacheKey(robotID, query)
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}

	var result []model.RetrievedContext
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, false
	}

	slog.Info("[CACHE] hit", "robot_id", robotID)
	return result, true
}

func (c *QueryCache) Set(ctx context.Context, robotID, query string, result []model.RetrievedContext) {
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	key := cacheKey(robotID, query)
	if err := c.store.Set(ctx, key, string(payload), c.ttl); err != nil {
		slog.Error("[CACHE] set failed", "robot_id", robotID, "error", err)
		return
	}
	slog.Info("[CACHE] set", "robot_id", robotID, "ttl_s", int(c.ttl.Seconds()))
}

// InvalidateRobot removes all cached retrieval results for a robot,
// called when its bound knowledge bases change.
func (c *QueryCache) InvalidateRobot(ctx context.Context, robotID string) {
	prefix := "rag:qc:" + robotID + ":"
	removed, err := c.store.DeletePrefix(ctx, prefix)
	if err != nil {
		slog.Error("[CACHE] invalidate robot failed", "robot_id", robotID, "error", err)
		return
	}
	if removed > 0 {
		slog.Info("[CACHE] invalidated robot", "robot_id", robotID, "entries_removed", removed)
	}
}

// cacheKey builds a deterministic key: "rag:qc:{robotID}:{sha256(query)}"
func cacheKey(robotID, query string) string {
	h := sha256.Sum256([]byte(query))
	return fmt.Sprintf("rag:qc:%s:%x", robotID, h[:8])
}
