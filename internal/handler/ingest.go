package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragbox-backend/internal/bus"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// Publisher abstracts the bus for testability.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// IngestDeps bundles dependencies for the ingest handler.
type IngestDeps struct {
	DocRepo   service.DocumentRepository
	Knowledge service.KnowledgeOwnerLookup
	Publisher Publisher
}

// IngestDocument handles POST /api/v1/documents/{id}/ingest — the
// companion to the signed-URL upload path: once the client has PUT the
// bytes directly to storage, this checks ownership and that the
// document is still waiting, then publishes doc.upload so a worker
// picks it up. Returns 202 immediately; ingestion runs asynchronously.
func IngestDocument(deps IngestDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())

		docID := chi.URLParam(r, "id")
		if docID == "" {
			respondError(w, http.StatusBadRequest, "document id required")
			return
		}

		doc, err := deps.DocRepo.GetByID(r.Context(), docID)
		if err != nil || doc == nil {
			respondError(w, http.StatusNotFound, "document not found")
			return
		}

		kb, err := deps.Knowledge.GetByID(r.Context(), doc.KnowledgeID)
		if err != nil || kb == nil || kb.UserID != userID {
			respondError(w, http.StatusForbidden, "access denied")
			return
		}

		if doc.Status != model.DocumentUploading && doc.Status != model.DocumentFailed {
			respondError(w, http.StatusBadRequest, "document is not waiting to be processed")
			return
		}

		if err := deps.Publisher.Publish(r.Context(), bus.TopicDocUpload, bus.DocUploadMessage{
			DocumentID:  docID,
			FilePath:    doc.FilePath,
			FileName:    doc.FileName,
			KnowledgeID: doc.KnowledgeID,
		}); err != nil {
			slog.Error("[INGEST] publish doc.upload failed", "document_id", docID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to enqueue ingestion")
			return
		}

		respondJSON(w, http.StatusAccepted, map[string]string{
			"documentId": docID,
			"status":     "processing",
		})
	}
}
