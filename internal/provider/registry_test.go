package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_KnownTags(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	cfg := Config{APIKey: "sk-test"}

	tests := []struct {
		tag  string
		want any
	}{
		{"openai", &OpenAICompatible{}},
		{"deepseek", &OpenAICompatible{}},
		{"siliconflow", &OpenAICompatible{}},
		{"moonshot", &OpenAICompatible{}},
		{"zhipu", &OpenAICompatible{}},
		{"qwen", &OpenAICompatible{}},
		{"doubao", &OpenAICompatible{}},
		{"minimax", &MiniMaxHardened{}},
		{"anthropic", &Anthropic{}},
		{"baidu", &Baidu{}},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			p, err := r.Build(ctx, tt.tag, cfg)
			require.NoError(t, err)
			assert.IsType(t, tt.want, p)
		})
	}
}

func TestRegistry_UnknownTagFallsBackToOpenAICompatible(t *testing.T) {
	r := NewRegistry()
	p, err := r.Build(context.Background(), "some-new-vendor", Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAICompatible{}, p)
}

func TestRegistry_RegisterOverrides(t *testing.T) {
	r := NewRegistry()
	custom := &fakeVendor{}
	r.Register("openai", func(ctx context.Context, cfg Config) (Provider, error) {
		return custom, nil
	})

	p, err := r.Build(context.Background(), "openai", Config{})
	require.NoError(t, err)
	assert.Same(t, custom, p)
}

func TestMiniMax_ModelAliasRewriting(t *testing.T) {
	p := NewMiniMaxHardened("key", "", map[string]string{"abab6": "abab6.5s-chat"})
	assert.Equal(t, "abab6.5s-chat", p.resolveModel("abab6"))
	assert.Equal(t, "abab5.5", p.resolveModel("abab5.5"))
}

func TestBaidu_KeyParsing(t *testing.T) {
	pair := NewBaidu("my-id:my-secret")
	assert.Equal(t, "my-id", pair.clientID)
	assert.Equal(t, "my-secret", pair.clientSecret)
	assert.Empty(t, pair.apiKey)

	plain := NewBaidu("a-plain-token")
	assert.Empty(t, plain.clientID)
	assert.Equal(t, "a-plain-token", plain.apiKey)

	// a plain token skips the OAuth exchange entirely
	tok, err := plain.token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a-plain-token", tok)
}
