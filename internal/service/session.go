package service

import (
	"context"
	"fmt"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

const titleMaxRunes = 50

// SessionPersistence is the relational surface the session store
// drives. Satisfied by *repository.SessionRepo.
type SessionPersistence interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, id string) (*model.Session, error)
	ListByUser(ctx context.Context, userID string, includeArchived bool) ([]model.Session, error)
	BumpOnMessage(ctx context.Context, id string) error
	ListStaleActive(ctx context.Context, cutoff time.Time) ([]model.Session, error)
	Rename(ctx context.Context, id, title string) error
	SetPinned(ctx context.Context, id string, pinned bool) error
	SetStatus(ctx context.Context, id string, status model.SessionStatus) error
}

// HistoryPersistence is the chat-history surface. Satisfied by
// *repository.ChatHistoryRepo.
type HistoryPersistence interface {
	AppendWithSequence(ctx context.Context, m *model.ChatHistory) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]model.ChatHistory, error)
	GetByID(ctx context.Context, messageID string) (*model.ChatHistory, error)
	SetFeedback(ctx context.Context, messageID string, feedback model.Feedback) error
}

// SessionCache is the cache surface for active-session tracking and
// window cleanup. Satisfied by *repository.Cache.
type SessionCache interface {
	TouchActiveSession(ctx context.Context, userID, sessionID string, at time.Time, ttl time.Duration) error
	RemoveActiveSession(ctx context.Context, userID, sessionID string) error
	ClearMessages(ctx context.Context, sessionID string) error
}

// SessionStore owns the lifecycle of a chat Session: creation, listing,
// soft-delete/archive, and the transactional append that turns one chat
// exchange into a durable ChatHistory row plus the bookkeeping
// (message_count, last_message_at, title) that rides along with it.
type SessionStore struct {
	sessions    SessionPersistence
	history     HistoryPersistence
	cache       SessionCache
	activeTTL   time.Duration
	archiveDays int
}

func NewSessionStore(sessions SessionPersistence, history HistoryPersistence, cache SessionCache, activeTTL time.Duration, archiveDays int) *SessionStore {
	return &SessionStore{sessions: sessions, history: history, cache: cache, activeTTL: activeTTL, archiveDays: archiveDays}
}

func (s *SessionStore) Create(ctx context.Context, userID, robotID string) (*model.Session, error) {
	session := &model.Session{UserID: userID, RobotID: robotID, Status: model.SessionActive}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("service.SessionStore.Create: %w", err)
	}
	if err := s.cache.TouchActiveSession(ctx, userID, session.SessionID, time.Now(), s.activeTTL); err != nil {
		return nil, fmt.Errorf("service.SessionStore.Create: touch active: %w", err)
	}
	return session, nil
}

// Get loads a session and checks userID owns it.
func (s *SessionStore) Get(ctx context.Context, userID, sessionID string) (*model.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service.SessionStore.Get: %w", err)
	}
	if session == nil {
		return nil, apperr.New(apperr.KindNotFound, "session not found")
	}
	if session.UserID != userID {
		return nil, apperr.New(apperr.KindAuthorization, "session belongs to another user")
	}
	return session, nil
}

func (s *SessionStore) List(ctx context.Context, userID string, includeArchived bool) ([]model.Session, error) {
	out, err := s.sessions.ListByUser(ctx, userID, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("service.SessionStore.List: %w", err)
	}
	return out, nil
}

func (s *SessionStore) Rename(ctx context.Context, userID, sessionID, title string) error {
	if _, err := s.Get(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := s.sessions.Rename(ctx, sessionID, title); err != nil {
		return fmt.Errorf("service.SessionStore.Rename: %w", err)
	}
	return nil
}

func (s *SessionStore) SetPinned(ctx context.Context, userID, sessionID string, pinned bool) error {
	if _, err := s.Get(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := s.sessions.SetPinned(ctx, sessionID, pinned); err != nil {
		return fmt.Errorf("service.SessionStore.SetPinned: %w", err)
	}
	return nil
}

// Delete soft-deletes the session and drops it from the active-session
// set. The rolling cache window is left to expire on its own TTL since
// a deleted session is never read from again.
func (s *SessionStore) Delete(ctx context.Context, userID, sessionID string) error {
	session, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if err := s.sessions.SetStatus(ctx, sessionID, model.SessionDeleted); err != nil {
		return fmt.Errorf("service.SessionStore.Delete: %w", err)
	}
	if err := s.cache.RemoveActiveSession(ctx, session.UserID, sessionID); err != nil {
		return fmt.Errorf("service.SessionStore.Delete: %w", err)
	}
	return nil
}

// Archive flips a session to archived and clears its rolling context
// window — an archived session resumes from relational history only.
func (s *SessionStore) Archive(ctx context.Context, session *model.Session) error {
	if err := s.sessions.SetStatus(ctx, session.SessionID, model.SessionArchived); err != nil {
		return fmt.Errorf("service.SessionStore.Archive: %w", err)
	}
	if err := s.cache.ClearMessages(ctx, session.SessionID); err != nil {
		return fmt.Errorf("service.SessionStore.Archive: %w", err)
	}
	if err := s.cache.RemoveActiveSession(ctx, session.UserID, session.SessionID); err != nil {
		return fmt.Errorf("service.SessionStore.Archive: %w", err)
	}
	return nil
}

// ArchiveInactiveSessions sweeps active sessions whose last_message_at
// is older than archiveDays and archives each. Run on a schedule from
// cmd/worker.
func (s *SessionStore) ArchiveInactiveSessions(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.archiveDays)
	stale, err := s.sessions.ListStaleActive(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("service.SessionStore.ArchiveInactiveSessions: %w", err)
	}
	for i := range stale {
		if err := s.Archive(ctx, &stale[i]); err != nil {
			return 0, fmt.Errorf("service.SessionStore.ArchiveInactiveSessions: archive %s: %w", stale[i].SessionID, err)
		}
	}
	return len(stale), nil
}

// SaveChatMessage persists one turn: AppendWithSequence computes the
// dense sequence inside a transaction, then message_count/
// last_message_at are bumped and, on the session's first user message,
// the title is synthesized from it.
func (s *SessionStore) SaveChatMessage(ctx context.Context, session *model.Session, role model.MessageRole, content string, contexts []model.RetrievedContext, promptTokens, completionTokens, totalTokens int) (*model.ChatHistory, error) {
	msg := &model.ChatHistory{
		SessionID:         session.SessionID,
		Role:              role,
		Content:           content,
		RetrievedContexts: contexts,
		PromptTokens:      promptTokens,
		CompletionTokens:  completionTokens,
		TotalTokens:       totalTokens,
	}
	if err := s.history.AppendWithSequence(ctx, msg); err != nil {
		return nil, fmt.Errorf("service.SessionStore.SaveChatMessage: %w", err)
	}
	if err := s.sessions.BumpOnMessage(ctx, session.SessionID); err != nil {
		return nil, fmt.Errorf("service.SessionStore.SaveChatMessage: %w", err)
	}
	if err := s.cache.TouchActiveSession(ctx, session.UserID, session.SessionID, time.Now(), s.activeTTL); err != nil {
		return nil, fmt.Errorf("service.SessionStore.SaveChatMessage: %w", err)
	}
	if msg.Sequence == 1 && role == model.RoleUser {
		if err := s.sessions.Rename(ctx, session.SessionID, synthesizeTitle(content)); err != nil {
			return nil, fmt.Errorf("service.SessionStore.SaveChatMessage: title: %w", err)
		}
	}
	return msg, nil
}

func synthesizeTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleMaxRunes {
		return content
	}
	return string(runes[:titleMaxRunes]) + "..."
}

// UpdateFeedback records a thumbs up/down, checking userID owns the
// message's session.
func (s *SessionStore) UpdateFeedback(ctx context.Context, userID, messageID string, feedback model.Feedback) error {
	msg, err := s.history.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("service.SessionStore.UpdateFeedback: %w", err)
	}
	if msg == nil {
		return apperr.New(apperr.KindNotFound, "message not found")
	}
	if _, err := s.Get(ctx, userID, msg.SessionID); err != nil {
		return err
	}
	if err := s.history.SetFeedback(ctx, messageID, feedback); err != nil {
		return fmt.Errorf("service.SessionStore.UpdateFeedback: %w", err)
	}
	return nil
}

func (s *SessionStore) History(ctx context.Context, userID, sessionID string, limit int) ([]model.ChatHistory, error) {
	if _, err := s.Get(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.history.ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("service.SessionStore.History: %w", err)
	}
	return rows, nil
}
