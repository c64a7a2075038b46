package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

type fakeSessionRepo struct {
	sessions map[string]*model.Session
	nextID   int
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]*model.Session{}}
}

func (f *fakeSessionRepo) Create(ctx context.Context, s *model.Session) error {
	f.nextID++
	s.SessionID = "sess-" + strings.Repeat("0", 2) + string(rune('a'+f.nextID))
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	f.sessions[s.SessionID] = &cp
	return nil
}

func (f *fakeSessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionRepo) ListByUser(ctx context.Context, userID string, includeArchived bool) ([]model.Session, error) {
	var out []model.Session
	for _, s := range f.sessions {
		if s.UserID != userID || s.Status == model.SessionDeleted {
			continue
		}
		if !includeArchived && s.Status != model.SessionActive {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeSessionRepo) BumpOnMessage(ctx context.Context, id string) error {
	s := f.sessions[id]
	s.MessageCount++
	now := time.Now()
	s.LastMessageAt = &now
	return nil
}

func (f *fakeSessionRepo) ListStaleActive(ctx context.Context, cutoff time.Time) ([]model.Session, error) {
	var out []model.Session
	for _, s := range f.sessions {
		if s.Status == model.SessionActive && s.LastMessageAt != nil && s.LastMessageAt.Before(cutoff) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) Rename(ctx context.Context, id, title string) error {
	f.sessions[id].Title = title
	return nil
}

func (f *fakeSessionRepo) SetPinned(ctx context.Context, id string, pinned bool) error {
	f.sessions[id].IsPinned = pinned
	return nil
}

func (f *fakeSessionRepo) SetStatus(ctx context.Context, id string, status model.SessionStatus) error {
	f.sessions[id].Status = status
	return nil
}

type fakeHistoryRepo struct {
	rows map[string][]model.ChatHistory
}

func newFakeHistoryRepo() *fakeHistoryRepo {
	return &fakeHistoryRepo{rows: map[string][]model.ChatHistory{}}
}

func (f *fakeHistoryRepo) AppendWithSequence(ctx context.Context, m *model.ChatHistory) error {
	m.Sequence = len(f.rows[m.SessionID]) + 1
	m.MessageID = "msg-" + m.SessionID + "-" + string(rune('a'+m.Sequence))
	m.CreatedAt = time.Now()
	f.rows[m.SessionID] = append(f.rows[m.SessionID], *m)
	return nil
}

func (f *fakeHistoryRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]model.ChatHistory, error) {
	return f.rows[sessionID], nil
}

func (f *fakeHistoryRepo) GetByID(ctx context.Context, messageID string) (*model.ChatHistory, error) {
	for _, rows := range f.rows {
		for i := range rows {
			if rows[i].MessageID == messageID {
				cp := rows[i]
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeHistoryRepo) SetFeedback(ctx context.Context, messageID string, feedback model.Feedback) error {
	for sid, rows := range f.rows {
		for i := range rows {
			if rows[i].MessageID == messageID {
				fb := feedback
				f.rows[sid][i].Feedback = &fb
			}
		}
	}
	return nil
}

type fakeSessionCache struct {
	active  map[string]map[string]bool
	cleared []string
}

func newFakeSessionCache() *fakeSessionCache {
	return &fakeSessionCache{active: map[string]map[string]bool{}}
}

func (f *fakeSessionCache) TouchActiveSession(ctx context.Context, userID, sessionID string, at time.Time, ttl time.Duration) error {
	if f.active[userID] == nil {
		f.active[userID] = map[string]bool{}
	}
	f.active[userID][sessionID] = true
	return nil
}

func (f *fakeSessionCache) RemoveActiveSession(ctx context.Context, userID, sessionID string) error {
	delete(f.active[userID], sessionID)
	return nil
}

func (f *fakeSessionCache) ClearMessages(ctx context.Context, sessionID string) error {
	f.cleared = append(f.cleared, sessionID)
	return nil
}

func newTestSessionStore() (*SessionStore, *fakeSessionRepo, *fakeHistoryRepo, *fakeSessionCache) {
	sessions := newFakeSessionRepo()
	history := newFakeHistoryRepo()
	cache := newFakeSessionCache()
	return NewSessionStore(sessions, history, cache, 24*time.Hour, 7), sessions, history, cache
}

func TestSessionStore_SaveChatMessageSequencesAreDense(t *testing.T) {
	store, _, history, _ := newTestSessionStore()
	ctx := context.Background()

	session, err := store.Create(ctx, "u1", "r1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i, role := range []model.MessageRole{model.RoleUser, model.RoleAssistant, model.RoleUser, model.RoleAssistant} {
		msg, err := store.SaveChatMessage(ctx, session, role, "turn", nil, 0, 0, 0)
		if err != nil {
			t.Fatalf("SaveChatMessage %d: %v", i, err)
		}
		if msg.Sequence != i+1 {
			t.Errorf("sequence = %d, want %d", msg.Sequence, i+1)
		}
	}
	rows := history.rows[session.SessionID]
	for i, r := range rows {
		if r.Sequence != i+1 {
			t.Errorf("stored sequence at %d = %d", i, r.Sequence)
		}
	}
}

func TestSessionStore_TitleSynthesizedFromFirstUserMessage(t *testing.T) {
	store, sessions, _, _ := newTestSessionStore()
	ctx := context.Background()

	session, _ := store.Create(ctx, "u1", "r1")
	long := strings.Repeat("白", 60)
	if _, err := store.SaveChatMessage(ctx, session, model.RoleUser, long, nil, 0, 0, 0); err != nil {
		t.Fatalf("SaveChatMessage: %v", err)
	}

	title := sessions.sessions[session.SessionID].Title
	if !strings.HasSuffix(title, "...") {
		t.Errorf("long title not ellipsized: %q", title)
	}
	if got := len([]rune(strings.TrimSuffix(title, "..."))); got != 50 {
		t.Errorf("title rune length = %d, want 50", got)
	}

	// second message must not retitle
	store.SaveChatMessage(ctx, session, model.RoleAssistant, "answer", nil, 0, 0, 0)
	if sessions.sessions[session.SessionID].Title != title {
		t.Error("title changed after the first message")
	}
}

func TestSessionStore_GetEnforcesOwnership(t *testing.T) {
	store, _, _, _ := newTestSessionStore()
	ctx := context.Background()
	session, _ := store.Create(ctx, "u1", "r1")

	_, err := store.Get(ctx, "intruder", session.SessionID)
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindAuthorization {
		t.Errorf("err = %v, want authorization error", err)
	}

	_, err = store.Get(ctx, "u1", "missing")
	appErr, ok = apperr.As(err)
	if !ok || appErr.Kind != apperr.KindNotFound {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestSessionStore_DeleteIsSoft(t *testing.T) {
	store, sessions, _, cache := newTestSessionStore()
	ctx := context.Background()
	session, _ := store.Create(ctx, "u1", "r1")

	if err := store.Delete(ctx, "u1", session.SessionID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if sessions.sessions[session.SessionID].Status != model.SessionDeleted {
		t.Error("session not soft-deleted")
	}
	if cache.active["u1"][session.SessionID] {
		t.Error("session still in the active set")
	}
	list, _ := store.List(ctx, "u1", true)
	if len(list) != 0 {
		t.Errorf("deleted session still listed: %v", list)
	}
}

func TestSessionStore_ArchiveClearsWindow(t *testing.T) {
	store, sessions, _, cache := newTestSessionStore()
	ctx := context.Background()
	session, _ := store.Create(ctx, "u1", "r1")

	if err := store.Archive(ctx, session); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if sessions.sessions[session.SessionID].Status != model.SessionArchived {
		t.Error("status not archived")
	}
	if len(cache.cleared) != 1 || cache.cleared[0] != session.SessionID {
		t.Errorf("window not cleared: %v", cache.cleared)
	}
}

func TestSessionStore_ArchiveInactiveSessionsSweep(t *testing.T) {
	store, sessions, _, _ := newTestSessionStore()
	ctx := context.Background()

	stale, _ := store.Create(ctx, "u1", "r1")
	old := time.Now().AddDate(0, 0, -10)
	sessions.sessions[stale.SessionID].LastMessageAt = &old

	fresh, _ := store.Create(ctx, "u1", "r1")
	now := time.Now()
	sessions.sessions[fresh.SessionID].LastMessageAt = &now

	n, err := store.ArchiveInactiveSessions(ctx)
	if err != nil {
		t.Fatalf("ArchiveInactiveSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("archived %d sessions, want 1", n)
	}
	if sessions.sessions[stale.SessionID].Status != model.SessionArchived {
		t.Error("stale session not archived")
	}
	if sessions.sessions[fresh.SessionID].Status != model.SessionActive {
		t.Error("fresh session should stay active")
	}
}

func TestSessionStore_FeedbackIsOwnerGated(t *testing.T) {
	store, _, history, _ := newTestSessionStore()
	ctx := context.Background()
	session, _ := store.Create(ctx, "u1", "r1")
	msg, _ := store.SaveChatMessage(ctx, session, model.RoleAssistant, "answer", nil, 0, 0, 0)

	err := store.UpdateFeedback(ctx, "intruder", msg.MessageID, model.FeedbackPositive)
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindAuthorization {
		t.Errorf("err = %v, want authorization error", err)
	}

	if err := store.UpdateFeedback(ctx, "u1", msg.MessageID, model.FeedbackPositive); err != nil {
		t.Fatalf("UpdateFeedback: %v", err)
	}
	stored, _ := history.GetByID(ctx, msg.MessageID)
	if stored.Feedback == nil || *stored.Feedback != model.FeedbackPositive {
		t.Error("feedback not persisted")
	}
}
