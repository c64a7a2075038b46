// Package provider defines a uniform chat/stream/embed/rerank contract
// over N LLM vendors, a registry mapping provider tags to constructors,
// and a Failover decorator composing two Providers. Grounded on
// internal/gcpclient/byollm.go (OpenAI-compatible REST shape),
// internal/gcpclient/genai.go (Google's regional/global dual path), and
// internal/gcpclient/retry.go (retry/backoff idiom).
package provider

import "context"

// Message is one turn in a chat request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the vendor-neutral chat request shape.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
	Stream      bool
	Stop        []string
	ExtraParams map[string]any
}

// Response is the vendor-neutral chat response shape.
type Response struct {
	Content          string
	Role             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ReasoningContent string
	FinishReason     string
}

// StreamChunk is one increment of a streamed chat response.
type StreamChunk struct {
	ContentDelta   string
	ReasoningDelta string
	FinishReason   string
	Usage          *Usage
	Err            error
}

// Usage carries token accounting, present on the final StreamChunk when
// the vendor reports it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// RerankResult is one scored candidate from Rerank.
type RerankResult struct {
	Index int
	Score float64
	Text  string
}

// Provider is the capability set every LLM vendor variant implements.
// Rerank and TokenCount may be unsupported by a given vendor; callers
// check ErrUnsupported.
type Provider interface {
	Chat(ctx context.Context, req Request) (*Response, error)
	ChatStream(ctx context.Context, req Request) (<-chan StreamChunk, error)
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
	Rerank(ctx context.Context, query string, texts []string, model string, topN int) ([]RerankResult, error)
	TokenCount(text string) int
}
