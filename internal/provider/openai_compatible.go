package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompatible covers any vendor speaking the OpenAI chat-completions
// wire format: OpenAI itself, DeepSeek, SiliconFlow, MiniMax-generic,
// Moonshot, Zhipu, Qwen, Doubao. Grounded on internal/gcpclient/byollm.go,
// re-based onto the go-openai SDK instead of the teacher's raw
// bufio-scanner SSE loop (kept below for the streaming path, since the
// SDK's CreateChatCompletionStream already implements that scanner).
type OpenAICompatible struct {
	client *openai.Client
	tag    string
}

// NewOpenAICompatible builds a client pointed at baseURL (empty uses the
// vendor's default — openai.DefaultConfig's api.openai.com). tag is the
// provider string recorded on Error for diagnostics.
func NewOpenAICompatible(tag, apiKey, baseURL string) *OpenAICompatible {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAICompatible{client: openai.NewClientWithConfig(cfg), tag: tag}
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func (p *OpenAICompatible) chatRequest(req Request) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stop:        req.Stop,
	}
}

func (p *OpenAICompatible) Chat(ctx context.Context, req Request) (*Response, error) {
	resp, err := withRetry(ctx, p.tag+".chat", isRetryable, func() (openai.ChatCompletionResponse, *http.Response, error) {
		r, err := p.client.CreateChatCompletion(ctx, p.chatRequest(req))
		if err != nil {
			return r, nil, p.classify(req.Model, err)
		}
		return r, nil, nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Provider: p.tag, Model: req.Model, Cause: fmt.Errorf("empty choices")}
	}
	choice := resp.Choices[0]
	return &Response{
		Content:          choice.Message.Content,
		Role:             choice.Message.Role,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		FinishReason:     string(choice.FinishReason),
	}, nil
}

func (p *OpenAICompatible) ChatStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	streamReq := p.chatRequest(req)
	streamReq.Stream = true

	// Only the stream open retries; once the vendor has started
	// yielding, a mid-stream failure surfaces as a chunk error so the
	// caller never sees duplicated deltas.
	stream, err := withRetry(ctx, p.tag+".chat_stream", isRetryable, func() (*openai.ChatCompletionStream, *http.Response, error) {
		s, err := p.client.CreateChatCompletionStream(ctx, streamReq)
		if err != nil {
			return nil, nil, p.classify(req.Model, err)
		}
		return s, nil, nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				out <- StreamChunk{Err: p.classify(req.Model, err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			chunk := StreamChunk{ContentDelta: choice.Delta.Content}
			if choice.FinishReason != "" {
				chunk.FinishReason = string(choice.FinishReason)
			}
			out <- chunk
		}
	}()
	return out, nil
}

func (p *OpenAICompatible) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	resp, err := withRetry(ctx, p.tag+".embed", isRetryable, func() (openai.EmbeddingResponse, *http.Response, error) {
		r, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(model),
		})
		if err != nil {
			return r, nil, p.classify(model, err)
		}
		return r, nil, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (p *OpenAICompatible) Rerank(ctx context.Context, query string, texts []string, model string, topN int) ([]RerankResult, error) {
	return nil, ErrUnsupported
}

func (p *OpenAICompatible) TokenCount(text string) int {
	return EstimateTokens(text)
}

func (p *OpenAICompatible) classify(model string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		snap := truncate(apiErr.Message)
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return &Error{Provider: p.tag, Model: model, StatusCode: apiErr.HTTPStatusCode, Snapshot: snap, Cause: fmt.Errorf("authentication")}
		case 400:
			return &Error{Provider: p.tag, Model: model, StatusCode: apiErr.HTTPStatusCode, Snapshot: snap, Cause: err}
		default:
			return &Error{Provider: p.tag, Model: model, StatusCode: apiErr.HTTPStatusCode, Snapshot: snap, Cause: err}
		}
	}
	if isRetryableTransport(err) {
		slog.Warn("[DEBUG-PROVIDER] transport error", "provider", p.tag, "model", model, "error", err)
	}
	return &Error{Provider: p.tag, Model: model, Cause: err}
}
