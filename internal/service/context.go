package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
)

const sessionLockTTL = 30 * time.Second

// ContextHistoryRepo is the relational fallback GetOrLoadContext rebuilds
// from when the Redis window has expired or never existed.
type ContextHistoryRepo interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]model.ChatHistory, error)
}

// ContextCache is the slice of the cache adapter the context manager
// uses. Satisfied by *repository.Cache.
type ContextCache interface {
	SetContextField(ctx context.Context, sessionID, field, value string, ttl time.Duration) error
	GetContext(ctx context.Context, sessionID string) (map[string]string, error)
	RefreshContextTTL(ctx context.Context, sessionID string, ttl time.Duration) error
	PushMessage(ctx context.Context, sessionID, payload string, maxTurns int, ttl time.Duration) error
	Messages(ctx context.Context, sessionID string) ([]string, error)
	AcquireLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, sessionID string) error
}

// ContextManager owns the per-session rolling chat window cached in
// Redis: rag:session:{id}:context (system prompt + bookkeeping) and
// rag:session:{id}:messages (bounded turn history, capped at
// 2*maxTurns entries). Every read and write refreshes both TTLs so an
// active session's window never expires out from under it mid-
// conversation.
type ContextManager struct {
	cache      ContextCache
	history    ContextHistoryRepo
	contextTTL time.Duration
	maxTurns   int
}

func NewContextManager(cache ContextCache, history ContextHistoryRepo, contextTTL time.Duration, maxTurns int) *ContextManager {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &ContextManager{cache: cache, history: history, contextTTL: contextTTL, maxTurns: maxTurns}
}

type cachedMessage struct {
	Role    model.MessageRole `json:"role"`
	Content string            `json:"content"`
}

// InitContext seeds a brand-new session's context hash. Called once,
// right after the session row is created.
func (m *ContextManager) InitContext(ctx context.Context, sessionID, userID, robotID, systemPrompt string) error {
	fields := map[string]string{
		"userId":       userID,
		"robotId":      robotID,
		"systemPrompt": systemPrompt,
		"turnCount":    "0",
	}
	for field, value := range fields {
		if err := m.cache.SetContextField(ctx, sessionID, field, value, m.contextTTL); err != nil {
			return fmt.Errorf("service.ContextManager.InitContext: %w", err)
		}
	}
	return nil
}

// GetOrLoadContext returns the session's turn history, oldest first. A
// cache hit just refreshes the TTL and returns what's there; a miss
// (expiry, cold start, or a session resumed on a new process) rebuilds
// the window from the last 2*maxTurns persisted ChatHistory rows and
// re-seeds the cache so the next call hits.
func (m *ContextManager) GetOrLoadContext(ctx context.Context, sessionID, userID, robotID, systemPrompt string) ([]provider.Message, error) {
	raw, err := m.cache.Messages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service.ContextManager.GetOrLoadContext: %w", err)
	}
	if len(raw) > 0 {
		if err := m.cache.RefreshContextTTL(ctx, sessionID, m.contextTTL); err != nil {
			return nil, fmt.Errorf("service.ContextManager.GetOrLoadContext: refresh ttl: %w", err)
		}
		return decodeMessages(raw)
	}

	rows, err := m.history.ListBySession(ctx, sessionID, 2*m.maxTurns)
	if err != nil {
		return nil, fmt.Errorf("service.ContextManager.GetOrLoadContext: load history: %w", err)
	}
	if err := m.InitContext(ctx, sessionID, userID, robotID, systemPrompt); err != nil {
		return nil, err
	}

	msgs := make([]provider.Message, 0, len(rows))
	for _, row := range rows {
		if row.Role == model.RoleSystem {
			continue
		}
		payload, err := json.Marshal(cachedMessage{Role: row.Role, Content: row.Content})
		if err != nil {
			return nil, fmt.Errorf("service.ContextManager.GetOrLoadContext: marshal: %w", err)
		}
		if err := m.cache.PushMessage(ctx, sessionID, string(payload), 2*m.maxTurns, m.contextTTL); err != nil {
			return nil, fmt.Errorf("service.ContextManager.GetOrLoadContext: seed cache: %w", err)
		}
		msgs = append(msgs, provider.Message{Role: string(row.Role), Content: row.Content})
	}
	if err := m.setTurnCount(ctx, sessionID, len(msgs)); err != nil {
		return nil, err
	}
	return msgs, nil
}

func decodeMessages(raw []string) ([]provider.Message, error) {
	out := make([]provider.Message, 0, len(raw))
	for _, r := range raw {
		var cm cachedMessage
		if err := json.Unmarshal([]byte(r), &cm); err != nil {
			return nil, fmt.Errorf("service.ContextManager: decode cached message: %w", err)
		}
		out = append(out, provider.Message{Role: string(cm.Role), Content: cm.Content})
	}
	return out, nil
}

// AddUserMessage pushes a user turn into the rolling window.
func (m *ContextManager) AddUserMessage(ctx context.Context, sessionID, content string) error {
	return m.pushTurn(ctx, sessionID, model.RoleUser, content)
}

// AddAssistantMessage pushes an assistant turn into the rolling window.
func (m *ContextManager) AddAssistantMessage(ctx context.Context, sessionID, content string) error {
	return m.pushTurn(ctx, sessionID, model.RoleAssistant, content)
}

func (m *ContextManager) pushTurn(ctx context.Context, sessionID string, role model.MessageRole, content string) error {
	payload, err := json.Marshal(cachedMessage{Role: role, Content: content})
	if err != nil {
		return fmt.Errorf("service.ContextManager: marshal turn: %w", err)
	}
	// PushMessage appends then trims to the cap, so the oldest entry is
	// evicted once the window exceeds 2*maxTurns messages.
	if err := m.cache.PushMessage(ctx, sessionID, string(payload), 2*m.maxTurns, m.contextTTL); err != nil {
		return fmt.Errorf("service.ContextManager: push turn: %w", err)
	}
	raw, err := m.cache.Messages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("service.ContextManager: reread window: %w", err)
	}
	if err := m.setTurnCount(ctx, sessionID, len(raw)); err != nil {
		return err
	}
	return m.cache.RefreshContextTTL(ctx, sessionID, m.contextTTL)
}

func (m *ContextManager) setTurnCount(ctx context.Context, sessionID string, windowLen int) error {
	turnCount := (windowLen + 1) / 2
	if turnCount > m.maxTurns {
		turnCount = m.maxTurns
	}
	return m.cache.SetContextField(ctx, sessionID, "turnCount", strconv.Itoa(turnCount), m.contextTTL)
}

const knowledgeInstruction = "Answer using only the knowledge above. If it does not contain the answer, say so plainly instead of guessing."

// BuildLLMMessages assembles the full message list for a provider.Request:
// system prompt, then the cached turn history oldest-first, then the
// current question. When hybrid_retrieve found contexts, the question is
// wrapped with them; a context-free follow-up question is passed
// through unwrapped.
func (m *ContextManager) BuildLLMMessages(ctx context.Context, sessionID, systemPrompt, question string, contexts []model.RetrievedContext) ([]provider.Message, error) {
	raw, err := m.cache.Messages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service.ContextManager.BuildLLMMessages: %w", err)
	}
	turns, err := decodeMessages(raw)
	if err != nil {
		return nil, err
	}

	msgs := make([]provider.Message, 0, len(turns)+2)
	msgs = append(msgs, provider.Message{Role: string(model.RoleSystem), Content: systemPrompt})
	msgs = append(msgs, turns...)

	userContent := question
	if len(contexts) > 0 {
		parts := make([]string, len(contexts))
		for i, c := range contexts {
			parts[i] = c.Content
		}
		userContent = fmt.Sprintf("## Knowledge:\n%s\n\n## Question:\n%s\n%s",
			strings.Join(parts, "\n---\n"), question, knowledgeInstruction)
	}
	msgs = append(msgs, provider.Message{Role: string(model.RoleUser), Content: userContent})
	return msgs, nil
}

// AcquireSessionLock enforces single-writer turns: a second ask/
// ask-stream call racing in on the same session while one is already in
// flight is rejected rather than interleaved into the shared window.
func (m *ContextManager) AcquireSessionLock(ctx context.Context, sessionID string) (bool, error) {
	ok, err := m.cache.AcquireLock(ctx, sessionID, sessionLockTTL)
	if err != nil {
		return false, fmt.Errorf("service.ContextManager.AcquireSessionLock: %w", err)
	}
	return ok, nil
}

func (m *ContextManager) ReleaseSessionLock(ctx context.Context, sessionID string) error {
	if err := m.cache.ReleaseLock(ctx, sessionID); err != nil {
		return fmt.Errorf("service.ContextManager.ReleaseSessionLock: %w", err)
	}
	return nil
}
