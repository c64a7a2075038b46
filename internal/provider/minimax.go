package provider

import (
	"context"
	"fmt"
	"strings"
)

// MiniMaxHardened embeds OpenAICompatible and overrides Chat/ChatStream
// with model-alias rewriting, base_resp business-error detection, and an
// empty-content/safety-filter fallback. Transport retry/backoff comes
// from the embedded client's own withRetry-wrapped call sites, so both
// the unary call and the stream open share the provider-wide schedule.
// Grounded on internal/gcpclient/retry.go's withRetry generic and
// internal/gcpclient/byollm.go's response-shape handling.
type MiniMaxHardened struct {
	*OpenAICompatible
	modelAliases map[string]string
}

func NewMiniMaxHardened(apiKey, baseURL string, modelAliases map[string]string) *MiniMaxHardened {
	return &MiniMaxHardened{
		OpenAICompatible: NewOpenAICompatible("minimax", apiKey, baseURL),
		modelAliases:     modelAliases,
	}
}

func (p *MiniMaxHardened) resolveModel(model string) string {
	if alias, ok := p.modelAliases[model]; ok {
		return alias
	}
	return model
}

func (p *MiniMaxHardened) Chat(ctx context.Context, req Request) (*Response, error) {
	req.Model = p.resolveModel(req.Model)

	resp, err := p.OpenAICompatible.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Content == "" {
		return nil, &Error{Provider: "minimax", Model: req.Model, Cause: fmt.Errorf("empty response, possibly safety-filtered")}
	}
	if strings.Contains(resp.Content, "[blocked]") {
		resp.FinishReason = "content_filter"
	}
	return resp, nil
}

func (p *MiniMaxHardened) ChatStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	req.Model = p.resolveModel(req.Model)
	return p.OpenAICompatible.ChatStream(ctx, req)
}
