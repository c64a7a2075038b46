package service

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// fakeContextCache mimics the Redis list/hash semantics the context
// manager relies on: RPUSH + LTRIM-to-tail, field hash, SETNX lock.
type fakeContextCache struct {
	fields   map[string]map[string]string
	messages map[string][]string
	locks    map[string]bool
}

func newFakeContextCache() *fakeContextCache {
	return &fakeContextCache{
		fields:   map[string]map[string]string{},
		messages: map[string][]string{},
		locks:    map[string]bool{},
	}
}

func (f *fakeContextCache) SetContextField(ctx context.Context, sessionID, field, value string, ttl time.Duration) error {
	if f.fields[sessionID] == nil {
		f.fields[sessionID] = map[string]string{}
	}
	f.fields[sessionID][field] = value
	return nil
}

func (f *fakeContextCache) GetContext(ctx context.Context, sessionID string) (map[string]string, error) {
	return f.fields[sessionID], nil
}

func (f *fakeContextCache) RefreshContextTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	return nil
}

func (f *fakeContextCache) PushMessage(ctx context.Context, sessionID, payload string, maxTurns int, ttl time.Duration) error {
	list := append(f.messages[sessionID], payload)
	if len(list) > maxTurns {
		list = list[len(list)-maxTurns:]
	}
	f.messages[sessionID] = list
	return nil
}

func (f *fakeContextCache) Messages(ctx context.Context, sessionID string) ([]string, error) {
	return f.messages[sessionID], nil
}

func (f *fakeContextCache) AcquireLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	if f.locks[sessionID] {
		return false, nil
	}
	f.locks[sessionID] = true
	return true, nil
}

func (f *fakeContextCache) ReleaseLock(ctx context.Context, sessionID string) error {
	delete(f.locks, sessionID)
	return nil
}

type fakeHistory struct {
	rows []model.ChatHistory
}

func (f *fakeHistory) ListBySession(ctx context.Context, sessionID string, limit int) ([]model.ChatHistory, error) {
	return f.rows, nil
}

func newTestContextManager(cache *fakeContextCache, history *fakeHistory) *ContextManager {
	if history == nil {
		history = &fakeHistory{}
	}
	return NewContextManager(cache, history, 2*time.Hour, 3)
}

func TestContextManager_WindowCapEvictsOldest(t *testing.T) {
	cache := newFakeContextCache()
	m := newTestContextManager(cache, nil)
	ctx := context.Background()

	if err := m.InitContext(ctx, "s1", "u1", "r1", "be helpful"); err != nil {
		t.Fatalf("InitContext: %v", err)
	}
	// 5 full turns into a window capped at 2*3=6 messages
	for i := 0; i < 5; i++ {
		if err := m.AddUserMessage(ctx, "s1", "q"+strconv.Itoa(i)); err != nil {
			t.Fatalf("AddUserMessage: %v", err)
		}
		if err := m.AddAssistantMessage(ctx, "s1", "a"+strconv.Itoa(i)); err != nil {
			t.Fatalf("AddAssistantMessage: %v", err)
		}
	}

	if got := len(cache.messages["s1"]); got != 6 {
		t.Errorf("window length = %d, want 6", got)
	}
	// oldest messages evicted, newest kept
	joined := strings.Join(cache.messages["s1"], " ")
	if strings.Contains(joined, "q0") || strings.Contains(joined, "q1") {
		t.Error("oldest turns were not evicted")
	}
	if !strings.Contains(joined, "a4") {
		t.Error("newest turn missing")
	}
	if cache.fields["s1"]["turnCount"] != "3" {
		t.Errorf("turnCount = %s, want capped at 3", cache.fields["s1"]["turnCount"])
	}
}

func TestContextManager_GetOrLoadRebuildsFromHistory(t *testing.T) {
	cache := newFakeContextCache()
	history := &fakeHistory{rows: []model.ChatHistory{
		{Role: model.RoleUser, Content: "hello"},
		{Role: model.RoleAssistant, Content: "hi!"},
		{Role: model.RoleSystem, Content: "internal"},
	}}
	m := newTestContextManager(cache, history)

	msgs, err := m.GetOrLoadContext(context.Background(), "s1", "u1", "r1", "sys")
	if err != nil {
		t.Fatalf("GetOrLoadContext: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("rebuilt %d messages, want 2 (system rows excluded)", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hello" {
		t.Errorf("first rebuilt message = %+v", msgs[0])
	}
	// the cache was reseeded
	if len(cache.messages["s1"]) != 2 {
		t.Errorf("cache window = %d entries after rebuild, want 2", len(cache.messages["s1"]))
	}
}

func TestContextManager_BuildLLMMessages(t *testing.T) {
	cache := newFakeContextCache()
	m := newTestContextManager(cache, nil)
	ctx := context.Background()

	m.InitContext(ctx, "s1", "u1", "r1", "sys")
	m.AddUserMessage(ctx, "s1", "earlier question")
	m.AddAssistantMessage(ctx, "s1", "earlier answer")

	contexts := []model.RetrievedContext{
		{Content: "fact one"},
		{Content: "fact two"},
	}
	msgs, err := m.BuildLLMMessages(ctx, "s1", "sys", "what now?", contexts)
	if err != nil {
		t.Fatalf("BuildLLMMessages: %v", err)
	}

	if len(msgs) != 4 {
		t.Fatalf("message count = %d, want system + 2 history + user", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "sys" {
		t.Errorf("system message = %+v", msgs[0])
	}
	if msgs[1].Content != "earlier question" || msgs[2].Content != "earlier answer" {
		t.Errorf("history order wrong: %+v", msgs[1:3])
	}
	last := msgs[3]
	if last.Role != "user" {
		t.Errorf("final role = %q", last.Role)
	}
	for _, want := range []string{"## Knowledge:", "fact one", "fact two", "## Question:", "what now?"} {
		if !strings.Contains(last.Content, want) {
			t.Errorf("final user message missing %q:\n%s", want, last.Content)
		}
	}
}

func TestContextManager_BuildLLMMessagesWithoutContexts(t *testing.T) {
	cache := newFakeContextCache()
	m := newTestContextManager(cache, nil)

	msgs, err := m.BuildLLMMessages(context.Background(), "s1", "sys", "bare question", nil)
	if err != nil {
		t.Fatalf("BuildLLMMessages: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Content != "bare question" {
		t.Errorf("question should pass through unwrapped, got %q", last.Content)
	}
}

func TestContextManager_SessionLockIsExclusive(t *testing.T) {
	cache := newFakeContextCache()
	m := newTestContextManager(cache, nil)
	ctx := context.Background()

	ok, err := m.AcquireSessionLock(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("first acquire = (%v,%v)", ok, err)
	}
	ok, _ = m.AcquireSessionLock(ctx, "s1")
	if ok {
		t.Error("second acquire should fail while held")
	}
	if err := m.ReleaseSessionLock(ctx, "s1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = m.AcquireSessionLock(ctx, "s1")
	if !ok {
		t.Error("acquire after release should succeed")
	}
}
