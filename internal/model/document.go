package model

import "time"

type DocumentStatus string

const (
	DocumentUploading DocumentStatus = "uploading"
	DocumentParsing   DocumentStatus = "parsing"
	DocumentSplitting DocumentStatus = "splitting"
	DocumentEmbedding DocumentStatus = "embedding"
	DocumentCompleted DocumentStatus = "completed"
	DocumentFailed    DocumentStatus = "failed"
)

// Document is one uploaded file within a Knowledge. Status moves
// monotonically forward except Failed, which retry resets to Uploading.
type Document struct {
	ID            string         `json:"id"`
	KnowledgeID   string         `json:"knowledgeId"`
	FileName      string         `json:"fileName"`
	FilePath      string         `json:"filePath"`
	FileExtension string         `json:"fileExtension"`
	FileSize      int64          `json:"fileSize"`
	MimeType      string         `json:"mimeType"`
	Status        DocumentStatus `json:"status"`
	ChunkCount    int            `json:"chunkCount"`
	ErrorMsg      *string        `json:"errorMsg,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Chunk is never persisted in the relational store — it lives only in
// the vector store and the inverted index, written together by the
// vectorizer stage and addressed by the same ChunkID in both.
type Chunk struct {
	ChunkID     string    `json:"chunkId"`
	DocumentID  string    `json:"documentId"`
	KnowledgeID string    `json:"knowledgeId"`
	Content     string    `json:"content"`
	Vector      []float32 `json:"-"`
	ChunkIndex  int       `json:"chunkIndex"`
	FileName    string    `json:"fileName"`
}

// AllowedExtensions lists the file extensions accepted for ingestion.
// Images/videos may be uploaded but are never dispatched to the parser.
var AllowedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".md":   true,
	".html": true,
}

// MediaExtensions may be uploaded and previewed but never enter the
// ingestion pipeline.
var MediaExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".mp4":  true,
}

// MaxFileSizeBytes is the default upload size cap (50 MiB), overridable
// via config.FileMaxSizeBytes.
const MaxFileSizeBytes = 50 * 1024 * 1024
