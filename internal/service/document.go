package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// StorageClient abstracts Cloud Storage operations for testability.
type StorageClient interface {
	SignedURL(bucket, object string, opts *SignedURLOptions) (string, error)
}

// SignedURLOptions mirrors the options needed for generating signed URLs.
type SignedURLOptions struct {
	Method      string
	Expires     time.Time
	ContentType string
}

// DocumentRepository defines the persistence operations ingest.go and
// the pipeline need against document rows.
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByID(ctx context.Context, id string) (*model.Document, error)
	ListByKnowledge(ctx context.Context, knowledgeID string, limit, offset int) ([]model.Document, int, error)
	UpdateStatus(ctx context.Context, id string, status model.DocumentStatus) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	UpdateChunkCount(ctx context.Context, id string, count int) error
	Delete(ctx context.Context, id string) error
}

// KnowledgeOwnerLookup resolves a knowledge base's owner, since Document
// carries no UserID of its own — ownership flows through KnowledgeID.
type KnowledgeOwnerLookup interface {
	GetByID(ctx context.Context, id string) (*model.Knowledge, error)
}

// SignedURLResponse is returned to the client with the upload URL.
type SignedURLResponse struct {
	URL        string `json:"url"`
	DocumentID string `json:"documentId"`
	ObjectName string `json:"objectName"`
}

// DocumentService handles document upload orchestration: signing the
// client's direct-to-storage PUT and creating the pending document row
// the ingestion pipeline picks up once the bytes land.
type DocumentService struct {
	storage    StorageClient
	docRepo    DocumentRepository
	knowledge  KnowledgeOwnerLookup
	bucketName string
	urlExpiry  time.Duration
}

func NewDocumentService(storage StorageClient, docRepo DocumentRepository, knowledge KnowledgeOwnerLookup, bucketName string, urlExpiry time.Duration) *DocumentService {
	return &DocumentService{
		storage:    storage,
		docRepo:    docRepo,
		knowledge:  knowledge,
		bucketName: bucketName,
		urlExpiry:  urlExpiry,
	}
}

// GenerateUploadURL creates a signed PUT URL for direct client upload to
// Cloud Storage and creates a pending document record scoped to
// knowledgeID, after checking userID owns that knowledge base.
func (s *DocumentService) GenerateUploadURL(ctx context.Context, userID, knowledgeID, filename string, sizeBytes int64) (*SignedURLResponse, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !model.AllowedExtensions[ext] {
		return nil, fmt.Errorf("service.GenerateUploadURL: unsupported file extension %q", ext)
	}
	if sizeBytes > model.MaxFileSizeBytes {
		return nil, fmt.Errorf("service.GenerateUploadURL: file size %d exceeds maximum %d bytes", sizeBytes, model.MaxFileSizeBytes)
	}
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("service.GenerateUploadURL: file size must be positive")
	}

	kb, err := s.knowledge.GetByID(ctx, knowledgeID)
	if err != nil {
		return nil, fmt.Errorf("service.GenerateUploadURL: lookup knowledge: %w", err)
	}
	if kb == nil || kb.UserID != userID {
		return nil, fmt.Errorf("service.GenerateUploadURL: knowledge %s not accessible to user", knowledgeID)
	}

	docID := uuid.New().String()
	objectName := fmt.Sprintf("uploads/%s/%s/%s", knowledgeID, docID, filename)

	url, err := s.storage.SignedURL(s.bucketName, objectName, &SignedURLOptions{
		Method:      "PUT",
		Expires:     time.Now().Add(s.urlExpiry),
		ContentType: mimeForExt(ext),
	})
	if err != nil {
		return nil, fmt.Errorf("service.GenerateUploadURL: sign URL: %w", err)
	}

	doc := &model.Document{
		ID:            docID,
		KnowledgeID:   knowledgeID,
		FileName:      filename,
		FilePath:      objectName,
		FileExtension: ext,
		FileSize:      sizeBytes,
		MimeType:      mimeForExt(ext),
		Status:        model.DocumentUploading,
	}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("service.GenerateUploadURL: create document: %w", err)
	}

	return &SignedURLResponse{
		URL:        url,
		DocumentID: docID,
		ObjectName: objectName,
	}, nil
}

func mimeForExt(ext string) string {
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
	default:
		return "application/octet-stream"
	}
}
