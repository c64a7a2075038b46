package handler

import (
	"encoding/json"
	"net/http"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// UploadURLRequest asks for a signed direct-to-storage PUT URL.
type UploadURLRequest struct {
	KnowledgeID string `json:"knowledge_id"`
	Filename    string `json:"filename"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// UploadURL handles POST /api/v1/documents/upload-url — the
// alternative to multipart upload for large files: the client PUTs the
// bytes straight to storage with the signed URL, then calls
// /documents/{id}/ingest.
func UploadURL(docService *service.DocumentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())

		var req UploadURLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.KnowledgeID == "" || req.Filename == "" {
			respondError(w, http.StatusUnprocessableEntity, "knowledge_id and filename are required")
			return
		}

		resp, err := docService.GenerateUploadURL(r.Context(), userID, req.KnowledgeID, req.Filename, req.SizeBytes)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, resp)
	}
}
