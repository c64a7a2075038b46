package handler

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
)

// drainEventTypes parses the recorded SSE body into the ordered list of
// payload "type" discriminators.
func drainEventTypes(t *testing.T, body string) []string {
	t.Helper()
	var types []string
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			if strings.HasPrefix(line, "event: ") && line != "event: "+speechEvent {
				t.Fatalf("unexpected event name line %q", line)
			}
			continue
		}
		var payload struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload); err != nil {
			t.Fatalf("bad data line %q: %v", line, err)
		}
		types = append(types, payload.Type)
	}
	return types
}

func runStream(t *testing.T, contexts []model.RetrievedContext, chunks []provider.StreamChunk) (*streamEmitter, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	e := newStreamEmitter(rec, rec, "sess-1")
	e.SendSearchGuid("hello")
	e.SendContexts(contexts)
	for _, c := range chunks {
		e.OnChunk(c)
	}
	e.Finish(TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	return e, rec.Body.String()
}

func TestStream_NoReasoningPath(t *testing.T) {
	contexts := []model.RetrievedContext{
		{ChunkID: "d1_0", DocumentID: "d1", Content: "ctx", Score: 0.8, Source: "hybrid"},
	}
	chunks := []provider.StreamChunk{
		{ContentDelta: "Hi"},
		{ContentDelta: " there"},
		{FinishReason: "stop"},
	}
	_, body := runStream(t, contexts, chunks)

	got := drainEventTypes(t, body)
	want := []string{"searchGuid", "context", "text", "text", "text", "finished"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("event order = %v, want %v", got, want)
	}
}

func TestStream_ReasoningPath(t *testing.T) {
	chunks := []provider.StreamChunk{
		{ReasoningDelta: "thinking"},
		{ReasoningDelta: " harder"},
		{ContentDelta: "answer"},
		{FinishReason: "stop"},
	}
	e, body := runStream(t, nil, chunks)

	got := drainEventTypes(t, body)
	want := []string{"searchGuid", "reasoner", "think", "think", "text", "think", "finished"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("event order = %v, want %v", got, want)
	}
	if e.FullAnswer() != "answer" {
		t.Errorf("full answer = %q", e.FullAnswer())
	}
	if e.FullReasoning() != "thinking harder" {
		t.Errorf("full reasoning = %q", e.FullReasoning())
	}

	// the closing think frame carries status 2
	var lastThink thinkPayload
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, `"think"`) {
			json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &lastThink)
		}
	}
	if lastThink.Status != 2 {
		t.Errorf("closing think status = %d, want 2", lastThink.Status)
	}
}

func TestStream_ExactlyOneFinished(t *testing.T) {
	_, body := runStream(t, nil, []provider.StreamChunk{{ContentDelta: "x"}, {FinishReason: "stop"}})
	if n := strings.Count(body, `"finished"`); n != 1 {
		t.Errorf("finished frames = %d, want 1", n)
	}
}

func TestStream_FinishIsIdempotent(t *testing.T) {
	rec := httptest.NewRecorder()
	e := newStreamEmitter(rec, rec, "s")
	e.Finish(TokenUsage{})
	e.Finish(TokenUsage{})
	if n := strings.Count(rec.Body.String(), `"finished"`); n != 1 {
		t.Errorf("finished frames = %d, want 1", n)
	}
}

func TestStream_FinishedCarriesSessionAndUsage(t *testing.T) {
	_, body := runStream(t, nil, []provider.StreamChunk{{ContentDelta: "ok"}, {FinishReason: "stop"}})

	var finished finishedPayload
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, `"finished"`) {
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &finished); err != nil {
				t.Fatalf("decode finished: %v", err)
			}
		}
	}
	if finished.SessionID != "sess-1" {
		t.Errorf("session_id = %q", finished.SessionID)
	}
	if finished.TokenUsage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", finished.TokenUsage.TotalTokens)
	}
	if finished.FullAnswer != "ok" {
		t.Errorf("full answer = %q", finished.FullAnswer)
	}
}

func TestSendContexts_FieldMapping(t *testing.T) {
	long := strings.Repeat("字", 600)
	contexts := []model.RetrievedContext{
		{ChunkID: "d1_0", DocumentID: "d1", FileName: "a.pdf", Content: long, Score: 0.85, Source: "hybrid"},
	}
	rec := httptest.NewRecorder()
	e := newStreamEmitter(rec, rec, "s")
	e.SendContexts(contexts)

	var payload contextPayload
	line := strings.TrimPrefix(strings.Split(rec.Body.String(), "\n")[1], "data: ")
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("decode context: %v", err)
	}
	if payload.Index != 1 || payload.DocID != "d1" || payload.Title != "a.pdf" {
		t.Errorf("context payload = %+v", payload)
	}
	if payload.RefSourceWeight != 4 {
		t.Errorf("ref_source_weight = %d, want floor(0.85*5)=4", payload.RefSourceWeight)
	}
	if got := len([]rune(payload.Quote)); got != 500 {
		t.Errorf("quote length = %d runes, want 500", got)
	}
	if len([]rune(payload.Content)) != 600 {
		t.Errorf("content should stay untruncated")
	}
}

func TestStream_ErrorSurfacesAsTextThenFinished(t *testing.T) {
	rec := httptest.NewRecorder()
	e := newStreamEmitter(rec, rec, "s")
	e.SendError(errTest("upstream exploded"))
	e.Finish(TokenUsage{})

	got := drainEventTypes(t, rec.Body.String())
	want := []string{"text", "finished"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("event order = %v, want %v", got, want)
	}
	if !strings.Contains(rec.Body.String(), "upstream exploded") {
		t.Error("error text missing from stream")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
