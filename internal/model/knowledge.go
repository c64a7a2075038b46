package model

import "time"

type KnowledgeStatus int

const (
	KnowledgeDisabled KnowledgeStatus = 0
	KnowledgeEnabled  KnowledgeStatus = 1
)

// Knowledge is a tenant-scoped collection of documents sharing a
// chunking policy and an embedding model. VectorCollectionName and
// EmbedLLMID are immutable for the knowledge's lifetime — repository
// Update never writes either column.
type Knowledge struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"userId"`
	Name                 string          `json:"name"`
	EmbedLLMID           string          `json:"embedLlmId"`
	VectorCollectionName string          `json:"vectorCollectionName"`
	ChunkSize            int             `json:"chunkSize"`
	ChunkOverlap         int             `json:"chunkOverlap"`
	DocumentCount        int             `json:"documentCount"`
	TotalChunks          int             `json:"totalChunks"`
	Status               KnowledgeStatus `json:"status"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}
