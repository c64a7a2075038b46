package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// ChatHistoryRepo persists the durable record of a session's messages,
// independent of the Redis-backed rolling context window the chat
// orchestrator reads from turn to turn.
type ChatHistoryRepo struct {
	pool *pgxpool.Pool
}

func NewChatHistoryRepo(pool *pgxpool.Pool) *ChatHistoryRepo {
	return &ChatHistoryRepo{pool: pool}
}

func (r *ChatHistoryRepo) Append(ctx context.Context, m *model.ChatHistory) error {
	contexts, err := json.Marshal(m.RetrievedContexts)
	if err != nil {
		return fmt.Errorf("repository.ChatHistoryRepo.Append: marshal contexts: %w", err)
	}

	feedback := model.FeedbackNone
	if m.Feedback != nil {
		feedback = *m.Feedback
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO chat_history (session_id, sequence, role, content, retrieved_contexts, prompt_tokens, completion_tokens, total_tokens, feedback)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING message_id, created_at`,
		m.SessionID, m.Sequence, string(m.Role), m.Content, contexts, m.PromptTokens, m.CompletionTokens, m.TotalTokens, int(feedback),
	).Scan(&m.MessageID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository.ChatHistoryRepo.Append: %w", err)
	}
	return nil
}

// ListBySession returns messages in chronological order, most useful
// for rebuilding the rolling context window after a cache eviction.
func (r *ChatHistoryRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]model.ChatHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT message_id, session_id, sequence, role, content, retrieved_contexts, prompt_tokens, completion_tokens, total_tokens, feedback, created_at
		FROM chat_history WHERE session_id = $1 ORDER BY sequence DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository.ChatHistoryRepo.ListBySession: %w", err)
	}
	defer rows.Close()

	var out []model.ChatHistory
	for rows.Next() {
		var m model.ChatHistory
		var role string
		var feedback int
		var contexts []byte
		if err := rows.Scan(&m.MessageID, &m.SessionID, &m.Sequence, &role, &m.Content, &contexts,
			&m.PromptTokens, &m.CompletionTokens, &m.TotalTokens, &feedback, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.ChatHistoryRepo.ListBySession: scan: %w", err)
		}
		m.Role = model.MessageRole(role)
		fb := model.Feedback(feedback)
		m.Feedback = &fb
		if len(contexts) > 0 {
			if err := json.Unmarshal(contexts, &m.RetrievedContexts); err != nil {
				return nil, fmt.Errorf("repository.ChatHistoryRepo.ListBySession: unmarshal contexts: %w", err)
			}
		}
		out = append(out, m)
	}
	// rows arrive newest-first; reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AppendWithSequence computes the session's next dense sequence number
// (current row count + 1) and inserts the message within the same
// transaction, so two turns racing on the same session can never land
// on the same sequence.
func (r *ChatHistoryRepo) AppendWithSequence(ctx context.Context, m *model.ChatHistory) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository.ChatHistoryRepo.AppendWithSequence: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM chat_history WHERE session_id = $1`, m.SessionID).Scan(&count); err != nil {
		return fmt.Errorf("repository.ChatHistoryRepo.AppendWithSequence: count: %w", err)
	}
	m.Sequence = count + 1

	contexts, err := json.Marshal(m.RetrievedContexts)
	if err != nil {
		return fmt.Errorf("repository.ChatHistoryRepo.AppendWithSequence: marshal contexts: %w", err)
	}
	feedback := model.FeedbackNone
	if m.Feedback != nil {
		feedback = *m.Feedback
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO chat_history (session_id, sequence, role, content, retrieved_contexts, prompt_tokens, completion_tokens, total_tokens, feedback)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING message_id, created_at`,
		m.SessionID, m.Sequence, string(m.Role), m.Content, contexts, m.PromptTokens, m.CompletionTokens, m.TotalTokens, int(feedback),
	).Scan(&m.MessageID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository.ChatHistoryRepo.AppendWithSequence: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository.ChatHistoryRepo.AppendWithSequence: commit: %w", err)
	}
	return nil
}

// GetByID fetches one message, used to resolve its owning session
// before a feedback write.
func (r *ChatHistoryRepo) GetByID(ctx context.Context, messageID string) (*model.ChatHistory, error) {
	m := &model.ChatHistory{}
	var role string
	var feedback int
	var contexts []byte
	err := r.pool.QueryRow(ctx, `
		SELECT message_id, session_id, sequence, role, content, retrieved_contexts, prompt_tokens, completion_tokens, total_tokens, feedback, created_at
		FROM chat_history WHERE message_id = $1`, messageID,
	).Scan(&m.MessageID, &m.SessionID, &m.Sequence, &role, &m.Content, &contexts,
		&m.PromptTokens, &m.CompletionTokens, &m.TotalTokens, &feedback, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.ChatHistoryRepo.GetByID: %w", err)
	}
	m.Role = model.MessageRole(role)
	fb := model.Feedback(feedback)
	m.Feedback = &fb
	if len(contexts) > 0 {
		if err := json.Unmarshal(contexts, &m.RetrievedContexts); err != nil {
			return nil, fmt.Errorf("repository.ChatHistoryRepo.GetByID: unmarshal contexts: %w", err)
		}
	}
	return m, nil
}

func (r *ChatHistoryRepo) SetFeedback(ctx context.Context, messageID string, feedback model.Feedback) error {
	_, err := r.pool.Exec(ctx, `UPDATE chat_history SET feedback = $1 WHERE message_id = $2`, int(feedback), messageID)
	if err != nil {
		return fmt.Errorf("repository.ChatHistoryRepo.SetFeedback: %w", err)
	}
	return nil
}
