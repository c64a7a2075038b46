package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client with the hash/list/sorted-set/SETNX
// primitives the session layer needs: rolling context windows, active
// session tracking, recall-task progress blobs, and a distributed
// ingestion lock, all under the "rag:" key prefix.
type Cache struct {
	rdb *redis.Client
}

func NewCache(redisURL string) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("repository.NewCache: parse url: %w", err)
	}
	return &Cache{rdb: redis.NewClient(opt)}, nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

func sessionContextKey(sessionID string) string  { return "rag:session:" + sessionID + ":context" }
func sessionMessagesKey(sessionID string) string { return "rag:session:" + sessionID + ":messages" }
func sessionLockKey(sessionID string) string     { return "rag:session:" + sessionID + ":lock" }
func activeSessionsKey(userID string) string     { return "rag:user:" + userID + ":active_sessions" }
func recallTaskKey(taskID string) string         { return "rag:recall:" + taskID }

// SetContextField writes one field of the session's context hash
// (system prompt, robot config, etc.) and refreshes its TTL.
func (c *Cache) SetContextField(ctx context.Context, sessionID, field, value string, ttl time.Duration) error {
	key := sessionContextKey(sessionID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, field, value)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("repository.Cache.SetContextField: %w", err)
	}
	return nil
}

func (c *Cache) GetContext(ctx context.Context, sessionID string) (map[string]string, error) {
	out, err := c.rdb.HGetAll(ctx, sessionContextKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("repository.Cache.GetContext: %w", err)
	}
	return out, nil
}

func (c *Cache) RefreshContextTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	if err := c.rdb.Expire(ctx, sessionContextKey(sessionID), ttl).Err(); err != nil {
		return fmt.Errorf("repository.Cache.RefreshContextTTL: %w", err)
	}
	return nil
}

// PushMessage appends one serialized turn to the session's rolling
// window and trims it to maxTurns, keeping the list dense and bounded
// without a separate cleanup pass.
func (c *Cache) PushMessage(ctx context.Context, sessionID, payload string, maxTurns int, ttl time.Duration) error {
	key := sessionMessagesKey(sessionID)
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, int64(-maxTurns), -1)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("repository.Cache.PushMessage: %w", err)
	}
	return nil
}

func (c *Cache) Messages(ctx context.Context, sessionID string) ([]string, error) {
	out, err := c.rdb.LRange(ctx, sessionMessagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("repository.Cache.Messages: %w", err)
	}
	return out, nil
}

func (c *Cache) ClearMessages(ctx context.Context, sessionID string) error {
	if err := c.rdb.Del(ctx, sessionMessagesKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("repository.Cache.ClearMessages: %w", err)
	}
	return nil
}

// AcquireLock SETNX's the session's ingestion/turn lock, returning
// false if another process already holds it.
func (c *Cache) AcquireLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, sessionLockKey(sessionID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("repository.Cache.AcquireLock: %w", err)
	}
	return ok, nil
}

func (c *Cache) ReleaseLock(ctx context.Context, sessionID string) error {
	if err := c.rdb.Del(ctx, sessionLockKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("repository.Cache.ReleaseLock: %w", err)
	}
	return nil
}

// TouchActiveSession records sessionID in the user's active-session
// sorted set, scored by last-activity unix time so the oldest sessions
// sort first and can be trimmed or archived by age.
func (c *Cache) TouchActiveSession(ctx context.Context, userID, sessionID string, at time.Time, ttl time.Duration) error {
	key := activeSessionsKey(userID)
	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.Unix()), Member: sessionID})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("repository.Cache.TouchActiveSession: %w", err)
	}
	return nil
}

func (c *Cache) ActiveSessions(ctx context.Context, userID string) ([]string, error) {
	out, err := c.rdb.ZRevRange(ctx, activeSessionsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("repository.Cache.ActiveSessions: %w", err)
	}
	return out, nil
}

func (c *Cache) RemoveActiveSession(ctx context.Context, userID, sessionID string) error {
	if err := c.rdb.ZRem(ctx, activeSessionsKey(userID), sessionID).Err(); err != nil {
		return fmt.Errorf("repository.Cache.RemoveActiveSession: %w", err)
	}
	return nil
}

// SetRecallTask writes the recall task's progress/result JSON blob,
// called every 10 evaluated queries and once more at completion.
func (c *Cache) SetRecallTask(ctx context.Context, taskID, payload string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, recallTaskKey(taskID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("repository.Cache.SetRecallTask: %w", err)
	}
	return nil
}

func (c *Cache) GetRecallTask(ctx context.Context, taskID string) (string, error) {
	out, err := c.rdb.Get(ctx, recallTaskKey(taskID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("repository.Cache.GetRecallTask: %w", err)
	}
	return out, nil
}

// Get/Set/Delete expose the plain string GET/SETEX primitives the
// query and embedding caches in internal/cache wrap.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	out, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("repository.Cache.Get: %w", err)
	}
	return out, true, nil
}

func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("repository.Cache.Set: %w", err)
	}
	return nil
}

func (c *Cache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var cursor uint64
	var removed int
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("repository.Cache.DeletePrefix: scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("repository.Cache.DeletePrefix: del: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}
