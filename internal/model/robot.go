package model

import "time"

// Robot is a chat configuration that binds a chat LLM, an optional
// reranker, generation parameters, and a set of Knowledges.
type Robot struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Name         string    `json:"name"`
	ChatLLMID    string    `json:"chatLlmId"`
	RerankLLMID  *string   `json:"rerankLlmId,omitempty"`
	EnableRerank bool      `json:"enableRerank"`
	TopK         int       `json:"topK"`
	Temperature  float64   `json:"temperature"`
	MaxTokens    int       `json:"maxTokens"`
	SystemPrompt string    `json:"systemPrompt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RobotKnowledge is the join row binding a Robot to a Knowledge it may
// retrieve against. The pair (RobotID, KnowledgeID) is unique.
type RobotKnowledge struct {
	RobotID     string `json:"robotId"`
	KnowledgeID string `json:"knowledgeId"`
}
