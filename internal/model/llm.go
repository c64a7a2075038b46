package model

import "time"

type ModelType string

const (
	ModelTypeChat      ModelType = "chat"
	ModelTypeEmbedding ModelType = "embedding"
	ModelTypeRerank    ModelType = "rerank"
)

// LLM registers one callable model: a provider tag (§provider.Registry)
// plus the vendor-side model name and optional endpoint override.
type LLM struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ModelType  ModelType `json:"modelType"`
	Provider   string    `json:"provider"`
	ModelName  string    `json:"modelName"`
	BaseURL    *string   `json:"baseUrl,omitempty"`
	APIVersion *string   `json:"apiVersion,omitempty"`
	Status     int       `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
