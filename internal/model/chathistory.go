package model

import "time"

type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Feedback is the user's thumbs up/down on an assistant message.
type Feedback int

const (
	FeedbackNegative Feedback = -1
	FeedbackNone     Feedback = 0
	FeedbackPositive Feedback = 1
)

// RetrievedContext is one chunk surfaced to the model and, if the turn
// is an assistant message, cited in its answer.
type RetrievedContext struct {
	ChunkID    string  `json:"chunkId"`
	DocumentID string  `json:"documentId"`
	FileName   string  `json:"fileName"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
	Source     string  `json:"source"`
}

// ChatHistory is one turn in a Session. Sequence is per-session
// monotonic starting at 1 and must stay dense.
type ChatHistory struct {
	MessageID         string             `json:"messageId"`
	SessionID         string             `json:"sessionId"`
	Sequence          int                `json:"sequence"`
	Role              MessageRole        `json:"role"`
	Content           string             `json:"content"`
	RetrievedContexts []RetrievedContext `json:"retrievedContexts,omitempty"`
	PromptTokens      int                `json:"promptTokens"`
	CompletionTokens  int                `json:"completionTokens"`
	TotalTokens       int                `json:"totalTokens"`
	Feedback          *Feedback          `json:"feedback,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
}
