package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// persistTimeout bounds the post-stream save that runs after the SSE
// response is closed, possibly against an already-disconnected client.
const persistTimeout = 30 * time.Second

const upstreamApology = "抱歉，我现在无法回答。请稍后再试。(The model service is temporarily unavailable, please retry shortly.)"

// ChatRequest is the body of /chat/ask and /chat/ask/stream.
type ChatRequest struct {
	SessionID string `json:"sessionId"`
	RobotID   string `json:"robotId"`
	Question  string `json:"question"`
}

// ChatResponse is the unary chat reply.
type ChatResponse struct {
	SessionID      string                   `json:"session_id"`
	Question       string                   `json:"question"`
	Answer         string                   `json:"answer"`
	Contexts       []model.RetrievedContext `json:"contexts"`
	TokenUsage     TokenUsage               `json:"token_usage"`
	ResponseTimeMs int64                    `json:"response_time"`
}

// RobotSource resolves robots and their knowledge bindings.
type RobotSource interface {
	GetByID(ctx context.Context, id string) (*model.Robot, error)
	KnowledgeIDs(ctx context.Context, robotID string) ([]string, error)
}

// KnowledgeStatusLookup filters a robot's bindings to enabled bases.
type KnowledgeStatusLookup interface {
	GetByID(ctx context.Context, id string) (*model.Knowledge, error)
}

// ChatProvider is the slice of LLMResolver chat needs.
type ChatProvider interface {
	Chat(ctx context.Context, llmID string, req provider.Request) (*provider.Response, error)
	ChatStream(ctx context.Context, llmID string, req provider.Request) (<-chan provider.StreamChunk, error)
}

// ChatDeps bundles everything the chat orchestrator composes: session
// store, context manager, hybrid retriever, robot/knowledge lookup, and
// the provider resolver.
type ChatDeps struct {
	Sessions  *service.SessionStore
	Contexts  *service.ContextManager
	Retriever *service.RetrieverService
	Robots    RobotSource
	Knowledge KnowledgeStatusLookup
	Provider  ChatProvider
	Metrics   *middleware.Metrics    // optional
	Prompts   *service.PromptLibrary // optional, fallback prompt text
}

// systemPromptFor prefers the robot's own prompt, falling back to the
// prompt library's default.
func (d ChatDeps) systemPromptFor(robot *model.Robot) string {
	if d.Prompts != nil {
		return d.Prompts.SystemPromptFor(robot.SystemPrompt)
	}
	return robot.SystemPrompt
}

func (d ChatDeps) apology() string {
	if d.Prompts != nil {
		return d.Prompts.UpstreamApology
	}
	return upstreamApology
}

func (d ChatDeps) noteUpstreamFailure() {
	if d.Metrics != nil {
		d.Metrics.IncrementUpstreamFailure()
	}
}

// chatTurn is the shared state both endpoints build before diverging
// into unary vs streaming generation.
type chatTurn struct {
	session  *model.Session
	robot    *model.Robot
	contexts []model.RetrievedContext
	messages []provider.Message
	question string
}

// prepareTurn runs spec steps 1-5: resolve or create the session (robot
// mismatch is a 400), load the robot's enabled knowledge bases, hybrid
// retrieve, load the cached window, build the provider messages, and
// persist the user turn. The caller must hold the session lock.
func (d ChatDeps) prepareTurn(ctx context.Context, userID string, req ChatRequest) (*chatTurn, error) {
	robot, err := d.Robots.GetByID(ctx, req.RobotID)
	if err != nil {
		return nil, err
	}
	if robot == nil {
		return nil, apperr.New(apperr.KindNotFound, "robot not found")
	}
	if robot.UserID != userID {
		return nil, apperr.New(apperr.KindAuthorization, "robot belongs to another user")
	}

	var session *model.Session
	if req.SessionID == "" {
		session, err = d.Sessions.Create(ctx, userID, robot.ID)
		if err != nil {
			return nil, err
		}
		if err := d.Contexts.InitContext(ctx, session.SessionID, userID, robot.ID, d.systemPromptFor(robot)); err != nil {
			return nil, err
		}
	} else {
		session, err = d.Sessions.Get(ctx, userID, req.SessionID)
		if err != nil {
			return nil, err
		}
		if session.RobotID != robot.ID {
			return nil, apperr.New(apperr.KindConflict, "session is bound to a different robot")
		}
	}

	knowledgeIDs, err := d.activeKnowledgeIDs(ctx, robot.ID)
	if err != nil {
		return nil, err
	}
	if len(knowledgeIDs) == 0 {
		return nil, apperr.New(apperr.KindConflict, "robot has no knowledge")
	}

	contexts, err := d.Retriever.HybridRetrieve(ctx, robot, knowledgeIDs, req.Question, robot.TopK)
	if err != nil {
		return nil, err
	}

	systemPrompt := d.systemPromptFor(robot)
	if _, err := d.Contexts.GetOrLoadContext(ctx, session.SessionID, userID, robot.ID, systemPrompt); err != nil {
		return nil, err
	}
	messages, err := d.Contexts.BuildLLMMessages(ctx, session.SessionID, systemPrompt, req.Question, contexts)
	if err != nil {
		return nil, err
	}

	if _, err := d.Sessions.SaveChatMessage(ctx, session, model.RoleUser, req.Question, nil, 0, 0, 0); err != nil {
		return nil, err
	}
	if err := d.Contexts.AddUserMessage(ctx, session.SessionID, req.Question); err != nil {
		return nil, err
	}

	return &chatTurn{session: session, robot: robot, contexts: contexts, messages: messages, question: req.Question}, nil
}

// activeKnowledgeIDs filters the robot's bindings to status=1 bases —
// only enabled knowledge is ever retrieved against.
func (d ChatDeps) activeKnowledgeIDs(ctx context.Context, robotID string) ([]string, error) {
	ids, err := d.Robots.KnowledgeIDs(ctx, robotID)
	if err != nil {
		return nil, err
	}
	active := make([]string, 0, len(ids))
	for _, id := range ids {
		kb, err := d.Knowledge.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if kb != nil && kb.Status == model.KnowledgeEnabled {
			active = append(active, id)
		}
	}
	return active, nil
}

// persistAssistantTurn saves the assistant message with its contexts
// and token usage, and rolls the cache window forward.
func (d ChatDeps) persistAssistantTurn(ctx context.Context, turn *chatTurn, answer string, usage TokenUsage) {
	if answer == "" {
		return
	}
	if _, err := d.Sessions.SaveChatMessage(ctx, turn.session, model.RoleAssistant, answer, turn.contexts,
		usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens); err != nil {
		slog.Error("[DEBUG-CHAT] persist assistant turn failed", "session_id", turn.session.SessionID, "error", err)
		return
	}
	if err := d.Contexts.AddAssistantMessage(ctx, turn.session.SessionID, answer); err != nil {
		slog.Error("[DEBUG-CHAT] cache window update failed", "session_id", turn.session.SessionID, "error", err)
	}
}

func decodeChatRequest(r *http.Request) (ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, apperr.New(apperr.KindValidation, "invalid request body")
	}
	if req.Question == "" {
		return req, apperr.New(apperr.KindValidation, "question is required")
	}
	if req.RobotID == "" {
		return req, apperr.New(apperr.KindValidation, "robotId is required")
	}
	return req, nil
}

// Ask is the unary chat endpoint: POST /api/v1/chat/ask.
func Ask(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		start := time.Now()

		req, err := decodeChatRequest(r)
		if err != nil {
			respondErr(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
		defer cancel()

		turn, release, err := deps.lockedTurn(ctx, userID, req)
		if err != nil {
			respondErr(w, err)
			return
		}
		defer release()

		resp, err := deps.Provider.Chat(ctx, turn.robot.ChatLLMID, provider.Request{
			Messages:    turn.messages,
			Temperature: turn.robot.Temperature,
			MaxTokens:   turn.robot.MaxTokens,
		})
		if err != nil {
			// The user turn is already persisted; answer with an apology
			// instead of a 500 so the conversation stays usable.
			slog.Error("[DEBUG-CHAT] provider chat failed", "session_id", turn.session.SessionID, "error", err)
			deps.noteUpstreamFailure()
			respondJSON(w, http.StatusOK, ChatResponse{
				SessionID:      turn.session.SessionID,
				Question:       req.Question,
				Answer:         deps.apology(),
				Contexts:       turn.contexts,
				ResponseTimeMs: time.Since(start).Milliseconds(),
			})
			return
		}

		usage := TokenUsage{
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			TotalTokens:      resp.TotalTokens,
		}
		deps.persistAssistantTurn(ctx, turn, resp.Content, usage)

		respondJSON(w, http.StatusOK, ChatResponse{
			SessionID:      turn.session.SessionID,
			Question:       req.Question,
			Answer:         resp.Content,
			Contexts:       turn.contexts,
			TokenUsage:     usage,
			ResponseTimeMs: time.Since(start).Milliseconds(),
		})
	}
}

// lockedTurn acquires the per-session single-writer lock, then prepares
// the turn. For a brand-new session there is nothing to lock against
// yet — the lock is taken after creation inside prepareTurn's caller
// path, keyed by the resolved session ID.
func (d ChatDeps) lockedTurn(ctx context.Context, userID string, req ChatRequest) (*chatTurn, func(), error) {
	release := func() {}
	if req.SessionID != "" {
		ok, err := d.Contexts.AcquireSessionLock(ctx, req.SessionID)
		if err != nil {
			return nil, release, err
		}
		if !ok {
			return nil, release, apperr.New(apperr.KindConflict, "another request is already running in this session")
		}
		sid := req.SessionID
		release = func() {
			if err := d.Contexts.ReleaseSessionLock(context.Background(), sid); err != nil {
				slog.Error("[DEBUG-CHAT] release session lock failed", "session_id", sid, "error", err)
			}
		}
	}
	turn, err := d.prepareTurn(ctx, userID, req)
	if err != nil {
		release()
		return nil, func() {}, err
	}
	return turn, release, nil
}

// AskStream is the SSE chat endpoint: POST /api/v1/chat/ask/stream.
// Event order: searchGuid, one context per chunk, then the reasoning/
// text frames as the provider streams, then exactly one finished frame.
// Persistence runs after the stream closes, client connected or not.
func AskStream(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())

		req, err := decodeChatRequest(r)
		if err != nil {
			respondErr(w, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			respondError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 300*time.Second)
		defer cancel()

		turn, release, err := deps.lockedTurn(ctx, userID, req)
		if err != nil {
			respondErr(w, err)
			return
		}
		defer release()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		emitter := newStreamEmitter(w, flusher, turn.session.SessionID)
		emitter.SendSearchGuid(req.Question)
		emitter.SendContexts(turn.contexts)

		var usage TokenUsage

		// The save must survive a client disconnect, so it runs in a
		// defer on a fresh context once the stream is over.
		defer func() {
			persistCtx, persistCancel := context.WithTimeout(context.Background(), persistTimeout)
			defer persistCancel()
			deps.persistAssistantTurn(persistCtx, turn, emitter.FullAnswer(), usage)
		}()

		stream, err := deps.Provider.ChatStream(ctx, turn.robot.ChatLLMID, provider.Request{
			Messages:    turn.messages,
			Temperature: turn.robot.Temperature,
			MaxTokens:   turn.robot.MaxTokens,
			Stream:      true,
		})
		if err != nil {
			slog.Error("[DEBUG-CHAT] provider stream open failed", "session_id", turn.session.SessionID, "error", err)
			deps.noteUpstreamFailure()
			emitter.SendError(err)
			emitter.Finish(usage)
			return
		}

		for chunk := range stream {
			if chunk.Err != nil {
				slog.Error("[DEBUG-CHAT] provider stream error", "session_id", turn.session.SessionID, "error", chunk.Err)
				deps.noteUpstreamFailure()
				emitter.SendError(chunk.Err)
				break
			}
			emitter.OnChunk(chunk)
			if chunk.Usage != nil {
				usage = TokenUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}
			if chunk.FinishReason != "" {
				break
			}
			if ctx.Err() != nil {
				break
			}
		}
		emitter.Finish(usage)
	}
}
