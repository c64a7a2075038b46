package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// SessionRepo implements chat session persistence with pgx.
type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO sessions (user_id, robot_id, title, status, is_pinned, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING session_id`,
		s.UserID, s.RobotID, s.Title, string(s.Status), s.IsPinned, now,
	).Scan(&s.SessionID)
	if err != nil {
		return fmt.Errorf("repository.SessionRepo.Create: %w", err)
	}
	s.CreatedAt, s.UpdatedAt = now, now
	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	s := &model.Session{}
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT session_id, user_id, robot_id, title, message_count, status, is_pinned, last_message_at, created_at, updated_at
		FROM sessions WHERE session_id = $1`, id,
	).Scan(&s.SessionID, &s.UserID, &s.RobotID, &s.Title, &s.MessageCount, &status, &s.IsPinned,
		&s.LastMessageAt, &s.CreatedAt, &s.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.SessionRepo.GetByID: %w", err)
	}
	s.Status = model.SessionStatus(status)
	return s, nil
}

func (r *SessionRepo) ListByUser(ctx context.Context, userID string, includeArchived bool) ([]model.Session, error) {
	query := `
		SELECT session_id, user_id, robot_id, title, message_count, status, is_pinned, last_message_at, created_at, updated_at
		FROM sessions WHERE user_id = $1 AND status != 'deleted'`
	if !includeArchived {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY is_pinned DESC, last_message_at DESC NULLS LAST, created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository.SessionRepo.ListByUser: %w", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var s model.Session
		var status string
		if err := rows.Scan(&s.SessionID, &s.UserID, &s.RobotID, &s.Title, &s.MessageCount, &status,
			&s.IsPinned, &s.LastMessageAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository.SessionRepo.ListByUser: scan: %w", err)
		}
		s.Status = model.SessionStatus(status)
		out = append(out, s)
	}
	return out, nil
}

// BumpOnMessage increments message_count and stamps last_message_at,
// called once per turn after a chat exchange is persisted.
func (r *SessionRepo) BumpOnMessage(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET message_count = message_count + 1, last_message_at = $1, updated_at = $1
		WHERE session_id = $2`, now, id)
	if err != nil {
		return fmt.Errorf("repository.SessionRepo.BumpOnMessage: %w", err)
	}
	return nil
}

// ListStaleActive returns active sessions whose last_message_at
// predates cutoff — candidates for the archive sweep. Sessions that
// have never received a message are never swept.
func (r *SessionRepo) ListStaleActive(ctx context.Context, cutoff time.Time) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT session_id, user_id, robot_id, title, message_count, status, is_pinned, last_message_at, created_at, updated_at
		FROM sessions WHERE status = 'active' AND last_message_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("repository.SessionRepo.ListStaleActive: %w", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var s model.Session
		var status string
		if err := rows.Scan(&s.SessionID, &s.UserID, &s.RobotID, &s.Title, &s.MessageCount, &status,
			&s.IsPinned, &s.LastMessageAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository.SessionRepo.ListStaleActive: scan: %w", err)
		}
		s.Status = model.SessionStatus(status)
		out = append(out, s)
	}
	return out, nil
}

func (r *SessionRepo) Rename(ctx context.Context, id, title string) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET title = $1, updated_at = now() WHERE session_id = $2`, title, id)
	if err != nil {
		return fmt.Errorf("repository.SessionRepo.Rename: %w", err)
	}
	return nil
}

func (r *SessionRepo) SetPinned(ctx context.Context, id string, pinned bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET is_pinned = $1, updated_at = now() WHERE session_id = $2`, pinned, id)
	if err != nil {
		return fmt.Errorf("repository.SessionRepo.SetPinned: %w", err)
	}
	return nil
}

func (r *SessionRepo) SetStatus(ctx context.Context, id string, status model.SessionStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET status = $1, updated_at = now() WHERE session_id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("repository.SessionRepo.SetStatus: %w", err)
	}
	return nil
}
