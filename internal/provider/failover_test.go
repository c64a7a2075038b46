package provider

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVendor scripts one Provider side of a Failover pair.
type fakeVendor struct {
	chatResp *Response
	chatErr  error

	streamChunks  []StreamChunk
	streamOpenErr error

	embedVecs [][]float32
	embedErr  error

	tokenCount int

	chatCalls   int
	streamCalls int
	embedCalls  int
}

func (f *fakeVendor) Chat(ctx context.Context, req Request) (*Response, error) {
	f.chatCalls++
	return f.chatResp, f.chatErr
}

func (f *fakeVendor) ChatStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	f.streamCalls++
	if f.streamOpenErr != nil {
		return nil, f.streamOpenErr
	}
	out := make(chan StreamChunk, len(f.streamChunks))
	for _, c := range f.streamChunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (f *fakeVendor) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	f.embedCalls++
	return f.embedVecs, f.embedErr
}

func (f *fakeVendor) Rerank(ctx context.Context, query string, texts []string, model string, topN int) ([]RerankResult, error) {
	return nil, ErrUnsupported
}

func (f *fakeVendor) TokenCount(text string) int { return f.tokenCount }

func collect(t *testing.T, ch <-chan StreamChunk) []StreamChunk {
	t.Helper()
	var out []StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestFailover_ChatPrimarySuccess(t *testing.T) {
	primary := &fakeVendor{chatResp: &Response{Content: "from primary"}}
	fallback := &fakeVendor{chatResp: &Response{Content: "from fallback"}}
	f := NewFailover(primary, fallback)

	resp, err := f.Chat(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "from primary", resp.Content)
	assert.Equal(t, 0, fallback.chatCalls, "fallback must not be consulted on success")
}

func TestFailover_ChatPrimaryErrorUsesFallback(t *testing.T) {
	primary := &fakeVendor{chatErr: fmt.Errorf("primary down")}
	fallback := &fakeVendor{chatResp: &Response{Content: "from fallback"}}
	f := NewFailover(primary, fallback)

	resp, err := f.Chat(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Content)
	assert.Equal(t, 1, primary.chatCalls)
	assert.Equal(t, 1, fallback.chatCalls)
}

func TestFailover_StreamOpenErrorSwitchesWholesale(t *testing.T) {
	primary := &fakeVendor{streamOpenErr: fmt.Errorf("connect failed")}
	fallback := &fakeVendor{streamChunks: []StreamChunk{
		{ContentDelta: "fb"}, {FinishReason: "stop"},
	}}
	f := NewFailover(primary, fallback)

	ch, err := f.ChatStream(context.Background(), Request{})
	require.NoError(t, err)
	chunks := collect(t, ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, "fb", chunks[0].ContentDelta)
	assert.Equal(t, 1, fallback.streamCalls)
}

func TestFailover_StreamErrorBeforeFirstChunkSwitches(t *testing.T) {
	// primary's stream opens but dies before yielding anything real
	primary := &fakeVendor{streamChunks: []StreamChunk{
		{Err: fmt.Errorf("reset before first token")},
	}}
	fallback := &fakeVendor{streamChunks: []StreamChunk{
		{ContentDelta: "recovered"}, {FinishReason: "stop"},
	}}
	f := NewFailover(primary, fallback)

	ch, err := f.ChatStream(context.Background(), Request{})
	require.NoError(t, err)
	chunks := collect(t, ch)

	require.Len(t, chunks, 2)
	assert.Equal(t, "recovered", chunks[0].ContentDelta)
	assert.Equal(t, "stop", chunks[1].FinishReason)
	for _, c := range chunks {
		assert.NoError(t, c.Err, "the primary's pre-yield error must not leak to the caller")
	}
	assert.Equal(t, 1, fallback.streamCalls)
}

func TestFailover_StreamErrorAfterFirstChunkIsPreserved(t *testing.T) {
	// once the primary has yielded, its stream is kept to the end —
	// switching mid-answer would splice two different completions
	primary := &fakeVendor{streamChunks: []StreamChunk{
		{ContentDelta: "partial "},
		{Err: fmt.Errorf("died mid-stream")},
	}}
	fallback := &fakeVendor{streamChunks: []StreamChunk{
		{ContentDelta: "should never appear"},
	}}
	f := NewFailover(primary, fallback)

	ch, err := f.ChatStream(context.Background(), Request{})
	require.NoError(t, err)
	chunks := collect(t, ch)

	require.Len(t, chunks, 2)
	assert.Equal(t, "partial ", chunks[0].ContentDelta)
	assert.Error(t, chunks[1].Err)
	assert.Equal(t, 0, fallback.streamCalls, "no switchover after the primary has yielded")
}

func TestFailover_StreamBothSidesFailSurfacesPrimaryError(t *testing.T) {
	primary := &fakeVendor{streamChunks: []StreamChunk{
		{Err: fmt.Errorf("primary reset")},
	}}
	fallback := &fakeVendor{streamOpenErr: fmt.Errorf("fallback also down")}
	f := NewFailover(primary, fallback)

	ch, err := f.ChatStream(context.Background(), Request{})
	require.NoError(t, err)
	chunks := collect(t, ch)

	require.Len(t, chunks, 1)
	require.Error(t, chunks[0].Err)
	assert.Contains(t, chunks[0].Err.Error(), "primary reset")
}

func TestFailover_EmbedFallsBack(t *testing.T) {
	primary := &fakeVendor{embedErr: fmt.Errorf("embed down")}
	fallback := &fakeVendor{embedVecs: [][]float32{{1, 2, 3}}}
	f := NewFailover(primary, fallback)

	vecs, err := f.Embed(context.Background(), []string{"x"}, "m")
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, []float32{1, 2, 3}, vecs[0])
}

func TestFailover_TokenCountUsesPrimary(t *testing.T) {
	f := NewFailover(&fakeVendor{tokenCount: 7}, &fakeVendor{tokenCount: 99})
	assert.Equal(t, 7, f.TokenCount("anything"))
}
