package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// SessionDeps bundles the session-management dependencies.
type SessionDeps struct {
	Sessions *service.SessionStore
	Contexts *service.ContextManager
	Robots   RobotSource
}

type createSessionRequest struct {
	RobotID string `json:"robotId"`
	Title   string `json:"title,omitempty"`
}

// CreateSession handles POST /api/v1/chat/sessions.
func CreateSession(deps SessionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())

		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		robot, err := deps.Robots.GetByID(r.Context(), req.RobotID)
		if err != nil {
			respondErr(w, err)
			return
		}
		if robot == nil || robot.UserID != userID {
			respondError(w, http.StatusNotFound, "robot not found")
			return
		}

		session, err := deps.Sessions.Create(r.Context(), userID, robot.ID)
		if err != nil {
			respondErr(w, err)
			return
		}
		if req.Title != "" {
			if err := deps.Sessions.Rename(r.Context(), userID, session.SessionID, req.Title); err != nil {
				respondErr(w, err)
				return
			}
			session.Title = req.Title
		}
		if err := deps.Contexts.InitContext(r.Context(), session.SessionID, userID, robot.ID, robot.SystemPrompt); err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, session)
	}
}

// ListSessions handles GET /api/v1/chat/sessions?include_archived=.
func ListSessions(deps SessionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		includeArchived := r.URL.Query().Get("include_archived") == "true"
		out, err := deps.Sessions.List(r.Context(), middleware.UserIDFromContext(r.Context()), includeArchived)
		if err != nil {
			respondErr(w, err)
			return
		}
		if out == nil {
			out = []model.Session{}
		}
		respondJSON(w, http.StatusOK, out)
	}
}

// GetSession handles GET /api/v1/chat/sessions/{sid}, returning the
// session with its message history.
func GetSession(deps SessionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		sid := chi.URLParam(r, "sid")

		session, err := deps.Sessions.Get(r.Context(), userID, sid)
		if err != nil {
			respondErr(w, err)
			return
		}
		history, err := deps.Sessions.History(r.Context(), userID, sid, 0)
		if err != nil {
			respondErr(w, err)
			return
		}
		if history == nil {
			history = []model.ChatHistory{}
		}
		respondJSON(w, http.StatusOK, map[string]any{"session": session, "messages": history})
	}
}

// SessionHistory handles GET /api/v1/chat/history/{sid}.
func SessionHistory(deps SessionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := deps.Sessions.History(r.Context(), middleware.UserIDFromContext(r.Context()), chi.URLParam(r, "sid"), 0)
		if err != nil {
			respondErr(w, err)
			return
		}
		if history == nil {
			history = []model.ChatHistory{}
		}
		respondJSON(w, http.StatusOK, history)
	}
}

type updateSessionRequest struct {
	Title    *string `json:"title,omitempty"`
	IsPinned *bool   `json:"isPinned,omitempty"`
	Status   *string `json:"status,omitempty"`
}

// UpdateSession handles PUT /api/v1/chat/sessions/{sid}: rename, pin,
// or archive. Archiving clears the rolling cache window.
func UpdateSession(deps SessionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		sid := chi.URLParam(r, "sid")

		var req updateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		session, err := deps.Sessions.Get(r.Context(), userID, sid)
		if err != nil {
			respondErr(w, err)
			return
		}

		if req.Title != nil {
			if err := deps.Sessions.Rename(r.Context(), userID, sid, *req.Title); err != nil {
				respondErr(w, err)
				return
			}
		}
		if req.IsPinned != nil {
			if err := deps.Sessions.SetPinned(r.Context(), userID, sid, *req.IsPinned); err != nil {
				respondErr(w, err)
				return
			}
		}
		if req.Status != nil {
			switch model.SessionStatus(*req.Status) {
			case model.SessionArchived:
				if err := deps.Sessions.Archive(r.Context(), session); err != nil {
					respondErr(w, err)
					return
				}
			default:
				respondError(w, http.StatusBadRequest, "status can only be set to archived")
				return
			}
		}

		updated, err := deps.Sessions.Get(r.Context(), userID, sid)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, updated)
	}
}

// DeleteSession handles DELETE /api/v1/chat/sessions/{sid}.
func DeleteSession(deps SessionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sessions.Delete(r.Context(), middleware.UserIDFromContext(r.Context()), chi.URLParam(r, "sid")); err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

type feedbackRequest struct {
	MessageID string `json:"messageId"`
	Feedback  int    `json:"feedback"`
}

// Feedback handles POST /api/v1/chat/feedback.
func Feedback(deps SessionDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Feedback < -1 || req.Feedback > 1 {
			respondError(w, http.StatusUnprocessableEntity, "feedback must be -1, 0, or 1")
			return
		}
		if err := deps.Sessions.UpdateFeedback(r.Context(), middleware.UserIDFromContext(r.Context()), req.MessageID, model.Feedback(req.Feedback)); err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
