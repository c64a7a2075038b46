package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/bus"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

const (
	recallMaxQueries = 5000
	recallMaxTopN    = 100
)

// RecallTestRequest is the body of POST /api/v1/recall/test.
type RecallTestRequest struct {
	Queries      []bus.RecallQuery `json:"queries"`
	TopN         int               `json:"topN"`
	Threshold    float64           `json:"threshold"`
	KnowledgeIDs []string          `json:"knowledge_ids"`
	RobotID      *string           `json:"robot_id,omitempty"`
}

// RecallDeps bundles the recall endpoints' dependencies.
type RecallDeps struct {
	Evaluator *service.RecallEvaluator
	Publisher Publisher
}

// StartRecallTest validates the job, seeds the pending task blob, and
// publishes recall.test for a worker to pick up.
func StartRecallTest(deps RecallDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())

		var req RecallTestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Queries) < 1 || len(req.Queries) > recallMaxQueries {
			respondError(w, http.StatusBadRequest, "queries must contain between 1 and 5000 entries")
			return
		}
		if req.TopN <= 0 || req.TopN > recallMaxTopN {
			respondError(w, http.StatusBadRequest, "topN must be in [1,100]")
			return
		}
		if req.Threshold < 0 || req.Threshold > 1 {
			respondError(w, http.StatusBadRequest, "threshold must be in [0,1]")
			return
		}
		if len(req.KnowledgeIDs) == 0 {
			respondError(w, http.StatusBadRequest, "knowledge_ids is required")
			return
		}

		taskID := uuid.NewString()
		task := &model.RecallTask{
			TaskID:    taskID,
			Status:    model.RecallPending,
			StartedAt: time.Now().UTC(),
		}
		if err := deps.Evaluator.SaveTask(r.Context(), task); err != nil {
			respondErr(w, err)
			return
		}

		msg := bus.RecallTestMessage{
			TaskID:       taskID,
			Queries:      req.Queries,
			TopN:         req.TopN,
			Threshold:    req.Threshold,
			KnowledgeIDs: req.KnowledgeIDs,
			RobotID:      req.RobotID,
			UserID:       userID,
		}
		if err := deps.Publisher.Publish(r.Context(), bus.TopicRecallTest, msg); err != nil {
			respondErr(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"taskId": taskID, "status": string(model.RecallPending)})
	}
}

// RecallStatus polls a task: GET /api/v1/recall/status/{taskId}.
func RecallStatus(deps RecallDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "taskId")
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		task, err := deps.Evaluator.LoadTask(ctx, taskID)
		if err != nil {
			respondErr(w, err)
			return
		}
		if task == nil {
			respondError(w, http.StatusNotFound, "task not found or expired")
			return
		}
		respondJSON(w, http.StatusOK, task)
	}
}
