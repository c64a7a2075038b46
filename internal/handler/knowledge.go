package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
)

const (
	chunkSizeMin    = 100
	chunkSizeMax    = 2000
	chunkOverlapMax = 500
)

// VectorCollections is the slice of the vector store the knowledge
// handlers need: collection lifecycle, not search.
type VectorCollections interface {
	CreateCollection(ctx context.Context, knowledgeID string, dim int) error
	DropCollection(ctx context.Context, knowledgeID string) error
}

// KeywordKnowledgeDeleter removes every indexed chunk of a knowledge
// base from the inverted index.
type KeywordKnowledgeDeleter interface {
	DeleteByKnowledgeID(ctx context.Context, knowledgeID string) error
}

// KnowledgeDeps bundles the knowledge-base CRUD dependencies.
type KnowledgeDeps struct {
	Knowledge  *repository.KnowledgeRepo
	LLMs       *repository.LLMRepo
	Vectors    VectorCollections
	Keyword    KeywordKnowledgeDeleter
	Dimensions int
}

type createKnowledgeRequest struct {
	Name         string `json:"name"`
	EmbedLLMID   string `json:"embed_llm_id"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

type updateKnowledgeRequest struct {
	Name         string `json:"name"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	Status       *int   `json:"status,omitempty"`
}

func validateChunking(size, overlap int) string {
	if size < chunkSizeMin || size > chunkSizeMax {
		return fmt.Sprintf("chunk_size must be in [%d,%d]", chunkSizeMin, chunkSizeMax)
	}
	if overlap < 0 || overlap > chunkOverlapMax {
		return fmt.Sprintf("chunk_overlap must be in [0,%d]", chunkOverlapMax)
	}
	if overlap >= size {
		return "chunk_overlap must be smaller than chunk_size"
	}
	return ""
}

// CreateKnowledge handles POST /api/v1/knowledge. The vector collection
// name is minted here and never changes; the embedding model binds for
// the knowledge base's lifetime because changing it would invalidate
// every stored vector.
func CreateKnowledge(deps KnowledgeDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())

		var req createKnowledgeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name == "" {
			respondError(w, http.StatusUnprocessableEntity, "name is required")
			return
		}
		if msg := validateChunking(req.ChunkSize, req.ChunkOverlap); msg != "" {
			respondError(w, http.StatusUnprocessableEntity, msg)
			return
		}

		llm, err := deps.LLMs.GetByID(r.Context(), req.EmbedLLMID)
		if err != nil {
			respondErr(w, err)
			return
		}
		if llm == nil || llm.ModelType != model.ModelTypeEmbedding {
			respondError(w, http.StatusNotFound, "embedding model not found")
			return
		}

		kb := &model.Knowledge{
			UserID:               userID,
			Name:                 req.Name,
			EmbedLLMID:           req.EmbedLLMID,
			VectorCollectionName: "kb_" + uuid.NewString(),
			ChunkSize:            req.ChunkSize,
			ChunkOverlap:         req.ChunkOverlap,
			Status:               model.KnowledgeEnabled,
		}
		if err := deps.Knowledge.Create(r.Context(), kb); err != nil {
			respondErr(w, err)
			return
		}
		if err := deps.Vectors.CreateCollection(r.Context(), kb.ID, deps.Dimensions); err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, kb)
	}
}

// ListKnowledge handles GET /api/v1/knowledge.
func ListKnowledge(deps KnowledgeDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := deps.Knowledge.ListByUser(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			respondErr(w, err)
			return
		}
		if out == nil {
			out = []model.Knowledge{}
		}
		respondJSON(w, http.StatusOK, out)
	}
}

// ownedKnowledge loads the KB at {id} and enforces ownership, writing
// the error response itself on failure.
func ownedKnowledge(deps KnowledgeDeps, w http.ResponseWriter, r *http.Request) *model.Knowledge {
	kb, err := deps.Knowledge.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return nil
	}
	if kb == nil {
		respondError(w, http.StatusNotFound, "knowledge base not found")
		return nil
	}
	if kb.UserID != middleware.UserIDFromContext(r.Context()) {
		respondError(w, http.StatusForbidden, "knowledge base belongs to another user")
		return nil
	}
	return kb
}

// GetKnowledge handles GET /api/v1/knowledge/{id}.
func GetKnowledge(deps KnowledgeDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if kb := ownedKnowledge(deps, w, r); kb != nil {
			respondJSON(w, http.StatusOK, kb)
		}
	}
}

// UpdateKnowledge handles PUT /api/v1/knowledge/{id}. Only the mutable
// fields are accepted; embed_llm_id and vector_collection_name stay
// fixed for the KB's lifetime.
func UpdateKnowledge(deps KnowledgeDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kb := ownedKnowledge(deps, w, r)
		if kb == nil {
			return
		}

		var req updateKnowledgeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name == "" {
			req.Name = kb.Name
		}
		if req.ChunkSize == 0 {
			req.ChunkSize = kb.ChunkSize
		}
		if req.ChunkOverlap == 0 && req.ChunkSize == kb.ChunkSize {
			req.ChunkOverlap = kb.ChunkOverlap
		}
		if msg := validateChunking(req.ChunkSize, req.ChunkOverlap); msg != "" {
			respondError(w, http.StatusUnprocessableEntity, msg)
			return
		}
		status := kb.Status
		if req.Status != nil {
			status = model.KnowledgeStatus(*req.Status)
		}

		if err := deps.Knowledge.Update(r.Context(), kb.ID, req.Name, req.ChunkSize, req.ChunkOverlap, status); err != nil {
			respondErr(w, err)
			return
		}
		updated, err := deps.Knowledge.GetByID(r.Context(), kb.ID)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, updated)
	}
}

// DeleteKnowledge handles DELETE /api/v1/knowledge/{id}: soft-deletes
// the row, drops the vector collection (and its chunks), and clears the
// inverted index, so no store keeps orphaned chunks.
func DeleteKnowledge(deps KnowledgeDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kb := ownedKnowledge(deps, w, r)
		if kb == nil {
			return
		}
		if err := deps.Knowledge.SoftDelete(r.Context(), kb.ID); err != nil {
			respondErr(w, err)
			return
		}
		if err := deps.Vectors.DropCollection(r.Context(), kb.ID); err != nil {
			respondErr(w, err)
			return
		}
		if err := deps.Keyword.DeleteByKnowledgeID(r.Context(), kb.ID); err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"id": kb.ID, "status": "deleted"})
	}
}
