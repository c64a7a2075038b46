package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
)

// speechEvent is the single SSE event name; payloads are distinguished
// by their JSON "type" field.
const speechEvent = "speech_type"

const quoteMaxRunes = 500

type searchGuidPayload struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

type contextPayload struct {
	Type            string `json:"type"`
	Index           int    `json:"index"`
	DocID           string `json:"docId"`
	Title           string `json:"title"`
	URL             string `json:"url"`
	SourceType      string `json:"sourceType"`
	Quote           string `json:"quote"`
	PublishTime     string `json:"publish_time"`
	IconURL         string `json:"icon_url"`
	WebSiteName     string `json:"web_site_name"`
	RefSourceWeight int    `json:"ref_source_weight"`
	Content         string `json:"content"`
}

type reasonerPayload struct {
	Type string `json:"type"`
}

type thinkPayload struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	IconType string `json:"iconType"`
	Content  string `json:"content"`
	Status   int    `json:"status"`
}

type textPayload struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type finishedPayload struct {
	Type                 string     `json:"type"`
	SessionID            string     `json:"session_id"`
	TokenUsage           TokenUsage `json:"token_usage"`
	FullAnswer           string     `json:"full_answer"`
	FullReasoningContent string     `json:"full_reasoning_content"`
}

// TokenUsage is the wire shape of a turn's token accounting.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// streamEmitter drives the speech_type event protocol over one SSE
// response. States: Idle → SentContexts → (Reasoning | Text) → Text →
// Finished; each provider chunk advances the machine and the header
// events (reasoner, the empty text frame) fire exactly once.
type streamEmitter struct {
	w http.ResponseWriter
	f http.Flusher

	sessionID string

	seenReasoning  bool
	sentReasoner   bool
	sentTextHeader bool
	finished       bool

	answer    []byte
	reasoning []byte
}

func newStreamEmitter(w http.ResponseWriter, f http.Flusher, sessionID string) *streamEmitter {
	return &streamEmitter{w: w, f: f, sessionID: sessionID}
}

func (e *streamEmitter) send(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", speechEvent, data)
	e.f.Flush()
}

// SendSearchGuid announces retrieval, once, before any token.
func (e *streamEmitter) SendSearchGuid(title string) {
	e.send(searchGuidPayload{Type: "searchGuid", Title: title})
}

// SendContexts emits one context frame per retrieved chunk.
func (e *streamEmitter) SendContexts(contexts []model.RetrievedContext) {
	for i, c := range contexts {
		e.send(contextPayload{
			Type:            "context",
			Index:           i + 1,
			DocID:           c.DocumentID,
			Title:           c.FileName,
			SourceType:      c.Source,
			Quote:           truncateRunes(c.Content, quoteMaxRunes),
			WebSiteName:     c.FileName,
			RefSourceWeight: int(c.Score * 5),
			Content:         c.Content,
		})
	}
}

// OnChunk advances the state machine for one provider StreamChunk.
func (e *streamEmitter) OnChunk(chunk provider.StreamChunk) {
	if chunk.ReasoningDelta != "" {
		if !e.sentReasoner {
			e.send(reasonerPayload{Type: "reasoner"})
			e.sentReasoner = true
		}
		e.seenReasoning = true
		e.reasoning = append(e.reasoning, chunk.ReasoningDelta...)
		e.send(thinkPayload{Type: "think", Title: "思考中", IconType: "thinking", Content: chunk.ReasoningDelta, Status: 1})
	}

	if chunk.ContentDelta != "" {
		if !e.sentTextHeader {
			if e.seenReasoning {
				if !e.sentReasoner {
					e.send(reasonerPayload{Type: "reasoner"})
					e.sentReasoner = true
				}
			} else {
				e.send(textPayload{Type: "text"})
			}
			e.sentTextHeader = true
		}
		e.answer = append(e.answer, chunk.ContentDelta...)
		e.send(textPayload{Type: "text", Msg: chunk.ContentDelta})
	}
}

// SendError surfaces an upstream stream failure as a text frame; the
// finished frame still follows so the client always sees exactly one.
func (e *streamEmitter) SendError(err error) {
	e.send(textPayload{Type: "text", Msg: err.Error()})
}

// Finish closes the reasoning block if one was opened and emits the
// single finished frame.
func (e *streamEmitter) Finish(usage TokenUsage) {
	if e.finished {
		return
	}
	e.finished = true
	if e.seenReasoning {
		e.send(thinkPayload{Type: "think", Title: "思考完成", IconType: "thinking", Status: 2})
	}
	e.send(finishedPayload{
		Type:                 "finished",
		SessionID:            e.sessionID,
		TokenUsage:           usage,
		FullAnswer:           string(e.answer),
		FullReasoningContent: string(e.reasoning),
	})
}

func (e *streamEmitter) FullAnswer() string    { return string(e.answer) }
func (e *streamEmitter) FullReasoning() string { return string(e.reasoning) }

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
