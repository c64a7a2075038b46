package provider

import "context"

// Failover wraps a primary and a fallback Provider: on any error from
// the primary, the fallback is invoked for the same call. For
// ChatStream, if the primary errors before yielding any chunk the
// fallback's stream is returned wholesale; once the primary has
// started yielding, its stream is preserved to the end even if it
// later errors (spec.md §4.1's "preserves stream semantics").
type Failover struct {
	Primary  Provider
	Fallback Provider
}

func NewFailover(primary, fallback Provider) *Failover {
	return &Failover{Primary: primary, Fallback: fallback}
}

func (f *Failover) Chat(ctx context.Context, req Request) (*Response, error) {
	resp, err := f.Primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	return f.Fallback.Chat(ctx, req)
}

func (f *Failover) ChatStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	primaryCh, err := f.Primary.ChatStream(ctx, req)
	if err != nil {
		return f.Fallback.ChatStream(ctx, req)
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		yielded := false
		for chunk := range primaryCh {
			if chunk.Err != nil && !yielded {
				fallbackCh, ferr := f.Fallback.ChatStream(ctx, req)
				if ferr != nil {
					out <- chunk
					return
				}
				for fc := range fallbackCh {
					out <- fc
				}
				return
			}
			if chunk.Err == nil {
				yielded = true
			}
			out <- chunk
		}
	}()
	return out, nil
}

func (f *Failover) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	vecs, err := f.Primary.Embed(ctx, texts, model)
	if err == nil {
		return vecs, nil
	}
	return f.Fallback.Embed(ctx, texts, model)
}

func (f *Failover) Rerank(ctx context.Context, query string, texts []string, model string, topN int) ([]RerankResult, error) {
	res, err := f.Primary.Rerank(ctx, query, texts, model, topN)
	if err == nil {
		return res, nil
	}
	return f.Fallback.Rerank(ctx, query, texts, model, topN)
}

func (f *Failover) TokenCount(text string) int {
	return f.Primary.TokenCount(text)
}
