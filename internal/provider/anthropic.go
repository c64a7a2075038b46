package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic hoists the system message out of Messages (Anthropic's API
// takes it as a top-level field, not a role) and maps
// content_block_delta/message_delta stream events to StreamChunk.
type Anthropic struct {
	client *anthropic.Client
}

func NewAnthropic(apiKey string) *Anthropic {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Anthropic{client: c}
}

func splitSystem(msgs []Message) (system string, rest []Message) {
	for _, m := range msgs {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		rest = append(rest, m)
	}
	return
}

func toAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		role := anthropic.MessageParamRoleUser
		if m.Role == "assistant" {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{
			Role:    anthropic.F(role),
			Content: anthropic.F([]anthropic.MessageParamContentUnion{anthropic.NewTextBlock(m.Content)}),
		})
	}
	return out
}

func (p *Anthropic) Chat(ctx context.Context, req Request) (*Response, error) {
	system, rest := splitSystem(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.F(req.Model),
		MaxTokens: anthropic.F(int64(req.MaxTokens)),
		System:    anthropic.F(system),
		Messages:  anthropic.F(toAnthropicMessages(rest)),
	}
	resp, err := withRetry(ctx, "anthropic.chat", isRetryable, func() (*anthropic.Message, *http.Response, error) {
		r, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return nil, nil, p.classify(req.Model, err)
		}
		return r, nil, nil
	})
	if err != nil {
		return nil, err
	}
	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}
	return &Response{
		Content:          content,
		Role:             "assistant",
		Model:            string(resp.Model),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		FinishReason:     string(resp.StopReason),
	}, nil
}

func (p *Anthropic) ChatStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	system, rest := splitSystem(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.F(req.Model),
		MaxTokens: anthropic.F(int64(req.MaxTokens)),
		System:    anthropic.F(system),
		Messages:  anthropic.F(toAnthropicMessages(rest)),
	}

	// The SDK performs the request lazily on the first Next(), so the
	// open-retry loop lives in the pump goroutine: a retryable failure
	// before any chunk reaches the caller recreates the stream on the
	// shared backoff schedule; after the first chunk, errors pass
	// through so deltas are never replayed.
	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		for attempt := 0; ; attempt++ {
			stream := p.client.Messages.NewStreaming(ctx, params)
			yielded := false
			for stream.Next() {
				event := stream.Current()
				switch delta := event.Delta.(type) {
				case anthropic.ContentBlockDeltaEventDelta:
					if delta.Type == anthropic.ContentBlockDeltaEventDeltaTypeTextDelta {
						out <- StreamChunk{ContentDelta: delta.Text}
						yielded = true
					}
				}
				if event.Type == anthropic.MessageStreamEventTypeMessageStop {
					out <- StreamChunk{FinishReason: "stop"}
					yielded = true
				}
			}
			err := stream.Err()
			if err == nil || errors.Is(err, io.EOF) {
				return
			}
			classified := p.classify(req.Model, err)
			if !yielded && attempt < len(retrySchedule) && isRetryable(classified) {
				slog.Warn("[DEBUG-PROVIDER] retrying stream open",
					"operation", "anthropic.chat_stream", "attempt", attempt+2, "error", classified)
				select {
				case <-ctx.Done():
					out <- StreamChunk{Err: classified}
					return
				case <-time.After(retrySchedule[attempt]):
				}
				continue
			}
			out <- StreamChunk{Err: classified}
			return
		}
	}()
	return out, nil
}

func (p *Anthropic) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	return nil, ErrUnsupported
}

func (p *Anthropic) Rerank(ctx context.Context, query string, texts []string, model string, topN int) ([]RerankResult, error) {
	return nil, ErrUnsupported
}

func (p *Anthropic) TokenCount(text string) int {
	return EstimateTokens(text)
}

func (p *Anthropic) classify(model string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &Error{Provider: "anthropic", Model: model, StatusCode: apiErr.StatusCode, Snapshot: truncate(apiErr.Message), Cause: err}
	}
	return &Error{Provider: "anthropic", Model: model, Cause: fmt.Errorf("%w", err)}
}
