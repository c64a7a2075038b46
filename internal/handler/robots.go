package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

const (
	topKMin        = 1
	topKMax        = 20
	temperatureMax = 2.0
)

// RetrievalCache memoizes retrieval-test results per (robot, query).
type RetrievalCache interface {
	Get(ctx context.Context, robotID, query string) ([]model.RetrievedContext, bool)
	Set(ctx context.Context, robotID, query string, result []model.RetrievedContext)
}

// RobotDeps bundles the robot CRUD + retrieval-test dependencies.
type RobotDeps struct {
	Robots    *repository.RobotRepo
	Knowledge *repository.KnowledgeRepo
	Retriever *service.RetrieverService
	Cache     RetrievalCache // optional
}

type createRobotRequest struct {
	Name         string   `json:"name"`
	ChatLLMID    string   `json:"chat_llm_id"`
	RerankLLMID  *string  `json:"rerank_llm_id,omitempty"`
	EnableRerank bool     `json:"enable_rerank"`
	TopK         int      `json:"top_k"`
	Temperature  float64  `json:"temperature"`
	MaxTokens    int      `json:"max_tokens"`
	SystemPrompt string   `json:"system_prompt"`
	KnowledgeIDs []string `json:"knowledge_ids"`
}

// CreateRobot handles POST /api/v1/robots, creating the robot and its
// knowledge bindings. Every bound KB must exist and belong to the
// caller.
func CreateRobot(deps RobotDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())

		var req createRobotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name == "" || req.ChatLLMID == "" {
			respondError(w, http.StatusUnprocessableEntity, "name and chat_llm_id are required")
			return
		}
		if req.TopK < topKMin || req.TopK > topKMax {
			respondError(w, http.StatusUnprocessableEntity, "top_k must be in [1,20]")
			return
		}
		if req.Temperature < 0 || req.Temperature > temperatureMax {
			respondError(w, http.StatusUnprocessableEntity, "temperature must be in [0,2]")
			return
		}

		for _, kid := range req.KnowledgeIDs {
			kb, err := deps.Knowledge.GetByID(r.Context(), kid)
			if err != nil {
				respondErr(w, err)
				return
			}
			if kb == nil {
				respondError(w, http.StatusNotFound, "knowledge base not found: "+kid)
				return
			}
			if kb.UserID != userID {
				respondError(w, http.StatusForbidden, "knowledge base belongs to another user: "+kid)
				return
			}
		}

		robot := &model.Robot{
			UserID:       userID,
			Name:         req.Name,
			ChatLLMID:    req.ChatLLMID,
			RerankLLMID:  req.RerankLLMID,
			EnableRerank: req.EnableRerank,
			TopK:         req.TopK,
			Temperature:  req.Temperature,
			MaxTokens:    req.MaxTokens,
			SystemPrompt: req.SystemPrompt,
		}
		if err := deps.Robots.Create(r.Context(), robot); err != nil {
			respondErr(w, err)
			return
		}
		for _, kid := range req.KnowledgeIDs {
			if err := deps.Robots.BindKnowledge(r.Context(), robot.ID, kid); err != nil {
				respondErr(w, err)
				return
			}
		}
		respondJSON(w, http.StatusOK, robot)
	}
}

// ListRobots handles GET /api/v1/robots.
func ListRobots(deps RobotDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := deps.Robots.ListByUser(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			respondErr(w, err)
			return
		}
		if out == nil {
			out = []model.Robot{}
		}
		respondJSON(w, http.StatusOK, out)
	}
}

func ownedRobot(deps RobotDeps, w http.ResponseWriter, r *http.Request) *model.Robot {
	robot, err := deps.Robots.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return nil
	}
	if robot == nil {
		respondError(w, http.StatusNotFound, "robot not found")
		return nil
	}
	if robot.UserID != middleware.UserIDFromContext(r.Context()) {
		respondError(w, http.StatusForbidden, "robot belongs to another user")
		return nil
	}
	return robot
}

// GetRobot handles GET /api/v1/robots/{id}, including its bound
// knowledge IDs.
func GetRobot(deps RobotDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		robot := ownedRobot(deps, w, r)
		if robot == nil {
			return
		}
		kids, err := deps.Robots.KnowledgeIDs(r.Context(), robot.ID)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"robot": robot, "knowledge_ids": kids})
	}
}

type retrievalTestRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// RetrievalTest handles POST /api/v1/robots/{id}/retrieval-test — an
// ad-hoc hybrid retrieve against the robot's enabled knowledge bases.
// The per-user rate limit is enforced by middleware on this route.
func RetrievalTest(deps RobotDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		robot := ownedRobot(deps, w, r)
		if robot == nil {
			return
		}

		var req retrievalTestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Query == "" {
			respondError(w, http.StatusUnprocessableEntity, "query is required")
			return
		}
		topK := req.TopK
		if topK <= 0 {
			topK = robot.TopK
		}

		kids, err := deps.Robots.KnowledgeIDs(r.Context(), robot.ID)
		if err != nil {
			respondErr(w, err)
			return
		}
		active := kids[:0]
		for _, kid := range kids {
			kb, err := deps.Knowledge.GetByID(r.Context(), kid)
			if err != nil {
				respondErr(w, err)
				return
			}
			if kb != nil && kb.Status == model.KnowledgeEnabled {
				active = append(active, kid)
			}
		}

		if deps.Cache != nil {
			if cached, ok := deps.Cache.Get(r.Context(), robot.ID, req.Query); ok {
				respondJSON(w, http.StatusOK, map[string]any{"query": req.Query, "contexts": cached})
				return
			}
		}

		contexts, err := deps.Retriever.HybridRetrieve(r.Context(), robot, active, req.Query, topK)
		if err != nil {
			respondErr(w, err)
			return
		}
		if deps.Cache != nil {
			deps.Cache.Set(r.Context(), robot.ID, req.Query, contexts)
		}
		respondJSON(w, http.StatusOK, map[string]any{"query": req.Query, "contexts": contexts})
	}
}
