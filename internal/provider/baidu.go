package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Baidu implements ERNIE's REST API. When the configured key is
// "client_id:client_secret" it runs a two-step OAuth token exchange
// before every call batch, caching the access token until it nears
// expiry. Grounded on the dual-path REST shape in
// internal/gcpclient/genai.go (the teacher's "global endpoint, no SDK"
// path is the closest analogue to a vendor with no Go SDK at all).
type Baidu struct {
	clientID     string
	clientSecret string
	apiKey       string // used directly when not a client_id:client_secret pair
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func NewBaidu(apiKey string) *Baidu {
	b := &Baidu{httpClient: &http.Client{Timeout: 30 * time.Second}}
	if id, secret, ok := strings.Cut(apiKey, ":"); ok {
		b.clientID = id
		b.clientSecret = secret
	} else {
		b.apiKey = apiKey
	}
	return b
}

func (p *Baidu) token(ctx context.Context) (string, error) {
	if p.clientID == "" {
		return p.apiKey, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accessToken != "" && time.Now().Before(p.expiresAt) {
		return p.accessToken, nil
	}

	endpoint := "https://aip.baidubce.com/oauth/2.0/token?grant_type=client_credentials&client_id=" +
		url.QueryEscape(p.clientID) + "&client_secret=" + url.QueryEscape(p.clientSecret)

	parsed, err := withRetry(ctx, "baidu.token", isRetryable, func() (baiduTokenResponse, *http.Response, error) {
		var tok baiduTokenResponse
		req, err := http.NewRequestWithContext(ctx, "POST", endpoint, nil)
		if err != nil {
			return tok, nil, fmt.Errorf("provider.Baidu: build token request: %w", err)
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return tok, nil, &Error{Provider: "baidu", Cause: err}
		}
		defer resp.Body.Close()

		if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
			return tok, resp, fmt.Errorf("provider.Baidu: decode token response: %w", err)
		}
		if tok.Error != "" {
			return tok, resp, &Error{Provider: "baidu", StatusCode: resp.StatusCode, Cause: fmt.Errorf("%s", tok.Error)}
		}
		return tok, resp, nil
	})
	if err != nil {
		return "", err
	}

	p.accessToken = parsed.AccessToken
	p.expiresAt = time.Now().Add(time.Duration(parsed.ExpiresIn-60) * time.Second)
	return p.accessToken, nil
}

type baiduTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

type baiduChatRequest struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type baiduChatResponse struct {
	Result       string `json:"result"`
	IsEnd        bool   `json:"is_end"`
	ErrorCode    int    `json:"error_code,omitempty"`
	ErrorMsg     string `json:"error_msg,omitempty"`
	Usage        struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Baidu) endpoint(model string) string {
	return fmt.Sprintf("https://aip.baidubce.com/rpc/2.0/ai_custom/v1/wenxinworkshop/chat/%s", model)
}

func (p *Baidu) Chat(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(baiduChatRequest{Messages: req.Messages, Temperature: req.Temperature})
	if err != nil {
		return nil, fmt.Errorf("provider.Baidu: marshal request: %w", err)
	}

	// The raw response rides along so withRetry can honor a
	// server-supplied Retry-After on 429s — this is the one variant
	// where the header is directly visible.
	parsed, err := withRetry(ctx, "baidu.chat", isRetryable, func() (baiduChatResponse, *http.Response, error) {
		return p.chatOnce(ctx, req.Model, body)
	})
	if err != nil {
		return nil, err
	}

	return &Response{
		Content:          parsed.Result,
		Role:             "assistant",
		Model:            req.Model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
		FinishReason:     "stop",
	}, nil
}

func (p *Baidu) chatOnce(ctx context.Context, model string, body []byte) (baiduChatResponse, *http.Response, error) {
	var parsed baiduChatResponse

	token, err := p.token(ctx)
	if err != nil {
		return parsed, nil, err
	}

	endpoint := p.endpoint(model) + "?access_token=" + url.QueryEscape(token)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return parsed, nil, fmt.Errorf("provider.Baidu: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return parsed, nil, &Error{Provider: "baidu", Model: model, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snap, _ := io.ReadAll(io.LimitReader(resp.Body, snapshotLimit))
		return parsed, resp, &Error{Provider: "baidu", Model: model, StatusCode: resp.StatusCode, Snapshot: string(snap), Cause: fmt.Errorf("http %d", resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return parsed, resp, fmt.Errorf("provider.Baidu: decode response: %w", err)
	}
	if parsed.ErrorCode != 0 {
		return parsed, resp, &Error{Provider: "baidu", Model: model, StatusCode: resp.StatusCode, Snapshot: truncate(parsed.ErrorMsg), Cause: fmt.Errorf("baidu error %d", parsed.ErrorCode)}
	}
	return parsed, resp, nil
}

func (p *Baidu) ChatStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamChunk, 1)
	out <- StreamChunk{ContentDelta: resp.Content, FinishReason: resp.FinishReason}
	close(out)
	return out, nil
}

func (p *Baidu) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	return nil, ErrUnsupported
}

func (p *Baidu) Rerank(ctx context.Context, query string, texts []string, model string, topN int) ([]RerankResult, error) {
	return nil, ErrUnsupported
}

func (p *Baidu) TokenCount(text string) int {
	return EstimateTokens(text)
}
