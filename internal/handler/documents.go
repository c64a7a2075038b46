package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/bus"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// BlobStore is the document byte storage the upload/preview handlers
// talk to. Backed by Cloud Storage in production, an in-memory map in
// tests.
type BlobStore interface {
	Upload(ctx context.Context, bucket, object string, data []byte, contentType string) error
	Download(ctx context.Context, bucket, object string) ([]byte, error)
}

// ChunkStoreDeleter removes a document's chunks from one of the two
// index stores; the delete handler runs it against both.
type ChunkStoreDeleter interface {
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

// KnowledgeCounter adjusts a knowledge base's document/chunk counters.
type KnowledgeCounter interface {
	IncrementCounts(ctx context.Context, id string, docDelta, chunkDelta int) error
}

// DocumentDeps bundles the document route dependencies.
type DocumentDeps struct {
	Docs         service.DocumentRepository
	Knowledge    service.KnowledgeOwnerLookup
	Counters     KnowledgeCounter
	Blobs        BlobStore
	Vectors      ChunkStoreDeleter
	Keyword      ChunkStoreDeleter
	Publisher    Publisher
	Bucket       string
	MaxFileBytes int64
}

func (d DocumentDeps) maxBytes() int64 {
	if d.MaxFileBytes > 0 {
		return d.MaxFileBytes
	}
	return model.MaxFileSizeBytes
}

// ownedKnowledgeBase resolves knowledgeID and enforces ownership.
func (d DocumentDeps) ownedKnowledgeBase(w http.ResponseWriter, r *http.Request, knowledgeID string) *model.Knowledge {
	if knowledgeID == "" {
		respondError(w, http.StatusBadRequest, "knowledge_id is required")
		return nil
	}
	kb, err := d.Knowledge.GetByID(r.Context(), knowledgeID)
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

// allowedExtensionList renders the accepted extensions for error text.
func allowedExtensionList() string {
	exts := make([]string, 0, len(model.AllowedExtensions))
	for ext := range model.AllowedExtensions {
		exts = append(exts, ext)
	}
	return strings.Join(exts, ", ")
}

// UploadDocument handles POST /api/v1/documents/upload?knowledge_id=
// (multipart field "file"): persists the bytes under
// {knowledge_id}/{YYYYMMDD}/{uuid}.{ext}, creates the document row in
// uploading state, and publishes doc.upload for the ingestion worker.
func UploadDocument(deps DocumentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kb := deps.ownedKnowledgeBase(w, r, r.URL.Query().Get("knowledge_id"))
		if kb == nil {
			return
		}
		if kb.Status != model.KnowledgeEnabled {
			respondError(w, http.StatusBadRequest, "knowledge base is disabled")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, deps.maxBytes())
		file, header, err := r.FormFile("file")
		if err != nil {
			if isTooLarge(err) {
				respondError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("file too large, limit is %d bytes", deps.maxBytes()))
				return
			}
			respondError(w, http.StatusBadRequest, "multipart field 'file' is required")
			return
		}
		defer file.Close()

		if header.Size > deps.maxBytes() {
			respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file too large, limit is %d bytes", deps.maxBytes()))
			return
		}
		ext := strings.ToLower(filepath.Ext(header.Filename))
		ingestible := model.AllowedExtensions[ext]
		if !ingestible && !model.MediaExtensions[ext] {
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("extension %q not allowed, accepted: %s", ext, allowedExtensionList()))
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			if isTooLarge(err) {
				respondError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("file too large, limit is %d bytes", deps.maxBytes()))
				return
			}
			respondErr(w, err)
			return
		}

		docID := uuid.NewString()
		objectPath := fmt.Sprintf("%s/%s/%s%s", kb.ID, time.Now().UTC().Format("20060102"), docID, ext)
		if err := deps.Blobs.Upload(r.Context(), deps.Bucket, objectPath, data, mimeForExtension(ext)); err != nil {
			respondErr(w, err)
			return
		}

		status := model.DocumentUploading
		if !ingestible {
			// media files are stored and previewable but never parsed
			status = model.DocumentCompleted
		}
		doc := &model.Document{
			ID:            docID,
			KnowledgeID:   kb.ID,
			FileName:      header.Filename,
			FilePath:      objectPath,
			FileExtension: ext,
			FileSize:      int64(len(data)),
			MimeType:      mimeForExtension(ext),
			Status:        status,
		}
		if err := deps.Docs.Create(r.Context(), doc); err != nil {
			respondErr(w, err)
			return
		}

		if ingestible {
			if err := deps.Publisher.Publish(r.Context(), bus.TopicDocUpload, bus.DocUploadMessage{
				DocumentID:  doc.ID,
				FilePath:    doc.FilePath,
				FileName:    doc.FileName,
				KnowledgeID: kb.ID,
			}); err != nil {
				respondErr(w, err)
				return
			}
		}
		respondJSON(w, http.StatusOK, doc)
	}
}

func isTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return true
	}
	// multipart parsing can swallow the typed error on some paths
	return err != nil && strings.Contains(err.Error(), "request body too large")
}

// ListDocuments handles GET /api/v1/documents?knowledge_id=&limit=&offset=.
func ListDocuments(deps DocumentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kb := deps.ownedKnowledgeBase(w, r, r.URL.Query().Get("knowledge_id"))
		if kb == nil {
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		docs, total, err := deps.Docs.ListByKnowledge(r.Context(), kb.ID, limit, offset)
		if err != nil {
			respondErr(w, err)
			return
		}
		if docs == nil {
			docs = []model.Document{}
		}
		respondJSON(w, http.StatusOK, map[string]any{"documents": docs, "total": total})
	}
}

// ownedDocument resolves {id}, walking ownership through the owning
// knowledge base since documents carry no user ID of their own.
func (d DocumentDeps) ownedDocument(w http.ResponseWriter, r *http.Request) *model.Document {
	doc, err := d.Docs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return nil
	}
	if doc == nil {
		respondError(w, http.StatusNotFound, "document not found")
		return nil
	}
	if d.ownedKnowledgeBase(w, r, doc.KnowledgeID) == nil {
		return nil
	}
	return doc
}

// GetDocument handles GET /api/v1/documents/{id}.
func GetDocument(deps DocumentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if doc := deps.ownedDocument(w, r); doc != nil {
			respondJSON(w, http.StatusOK, doc)
		}
	}
}

// DeleteDocument handles DELETE /api/v1/documents/{id}: removes the
// chunks from both stores first, then the row, then fixes the knowledge
// counters — after this no store holds any trace of the document.
func DeleteDocument(deps DocumentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := deps.ownedDocument(w, r)
		if doc == nil {
			return
		}
		if err := deps.Vectors.DeleteByDocumentID(r.Context(), doc.ID); err != nil {
			respondErr(w, err)
			return
		}
		if err := deps.Keyword.DeleteByDocumentID(r.Context(), doc.ID); err != nil {
			respondErr(w, err)
			return
		}
		if err := deps.Docs.Delete(r.Context(), doc.ID); err != nil {
			respondErr(w, err)
			return
		}
		if doc.Status == model.DocumentCompleted {
			if err := deps.Counters.IncrementCounts(r.Context(), doc.KnowledgeID, -1, -doc.ChunkCount); err != nil {
				respondErr(w, err)
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"id": doc.ID, "status": "deleted"})
	}
}

// RetryDocument handles POST /api/v1/documents/{id}/retry: only a
// failed document can be retried; retry resets it to uploading and
// republishes the original doc.upload message.
func RetryDocument(deps DocumentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := deps.ownedDocument(w, r)
		if doc == nil {
			return
		}
		if doc.Status != model.DocumentFailed {
			respondError(w, http.StatusBadRequest, "only failed documents can be retried")
			return
		}
		if err := deps.Docs.UpdateStatus(r.Context(), doc.ID, model.DocumentUploading); err != nil {
			respondErr(w, err)
			return
		}
		if err := deps.Publisher.Publish(r.Context(), bus.TopicDocUpload, bus.DocUploadMessage{
			DocumentID:  doc.ID,
			FilePath:    doc.FilePath,
			FileName:    doc.FileName,
			KnowledgeID: doc.KnowledgeID,
		}); err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"id": doc.ID, "status": string(model.DocumentUploading)})
	}
}

// PreviewDocument handles GET /api/v1/documents/{id}/preview, streaming
// the original bytes back with the stored content type.
func PreviewDocument(deps DocumentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := deps.ownedDocument(w, r)
		if doc == nil {
			return
		}
		data, err := deps.Blobs.Download(r.Context(), deps.Bucket, doc.FilePath)
		if err != nil {
			respondError(w, http.StatusNotFound, "stored file not found")
			return
		}
		w.Header().Set("Content-Type", doc.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.FileName))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

// ThumbDocument handles GET /api/v1/documents/{id}/thumb. Thumbnail
// rendering lives outside this service; image uploads are served
// directly and everything else is a 415.
func ThumbDocument(deps DocumentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := deps.ownedDocument(w, r)
		if doc == nil {
			return
		}
		if !strings.HasPrefix(doc.MimeType, "image/") {
			respondError(w, http.StatusUnsupportedMediaType, "no thumbnail for this file type")
			return
		}
		data, err := deps.Blobs.Download(r.Context(), deps.Bucket, doc.FilePath)
		if err != nil {
			respondError(w, http.StatusNotFound, "stored file not found")
			return
		}
		w.Header().Set("Content-Type", doc.MimeType)
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

func mimeForExtension(ext string) string {
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".html":
		return "text/html"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
