package provider

import "context"

// Config is the per-LLM wiring a registry constructor needs: the
// vendor's API key, an optional base URL override, and (for the Google
// variant) the GCP project/location since that SDK is constructed
// differently from every REST-backed variant.
type Config struct {
	APIKey         string
	BaseURL        string
	GCPProject     string
	GCPLocation    string
	MiniMaxAliases map[string]string
}

// Constructor builds a Provider from a Config. Registered per provider
// tag; unknown tags fall back to OpenAI-compatible per spec.
type Constructor func(ctx context.Context, cfg Config) (Provider, error)

// Registry maps provider tags to constructors, generalizing the
// teacher's single-vendor BYOLLMClient into the closed sum type
// spec.md's §9 design note calls for.
type Registry struct {
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	r := &Registry{constructors: map[string]Constructor{}}
	r.Register("openai", func(ctx context.Context, cfg Config) (Provider, error) {
		return NewOpenAICompatible("openai", cfg.APIKey, cfg.BaseURL), nil
	})
	r.Register("deepseek", func(ctx context.Context, cfg Config) (Provider, error) {
		return NewOpenAICompatible("deepseek", cfg.APIKey, withDefault(cfg.BaseURL, "https://api.deepseek.com/v1")), nil
	})
	r.Register("siliconflow", func(ctx context.Context, cfg Config) (Provider, error) {
		return NewOpenAICompatible("siliconflow", cfg.APIKey, withDefault(cfg.BaseURL, "https://api.siliconflow.cn/v1")), nil
	})
	r.Register("moonshot", func(ctx context.Context, cfg Config) (Provider, error) {
		return NewOpenAICompatible("moonshot", cfg.APIKey, withDefault(cfg.BaseURL, "https://api.moonshot.cn/v1")), nil
	})
	r.Register("zhipu", func(ctx context.Context, cfg Config) (Provider, error) {
		return NewOpenAICompatible("zhipu", cfg.APIKey, withDefault(cfg.BaseURL, "https://open.bigmodel.cn/api/paas/v4")), nil
	})
	r.Register("qwen", func(ctx context.Context, cfg Config) (Provider, error) {
		return NewOpenAICompatible("qwen", cfg.APIKey, withDefault(cfg.BaseURL, "https://dashscope.aliyuncs.com/compatible-mode/v1")), nil
	})
	r.Register("doubao", func(ctx context.Context, cfg Config) (Provider, error) {
		return NewOpenAICompatible("doubao", cfg.APIKey, withDefault(cfg.BaseURL, "https://ark.cn-beijing.volces.com/api/v3")), nil
	})
	r.Register("minimax", func(ctx context.Context, cfg Config) (Provider, error) {
		return NewMiniMaxHardened(cfg.APIKey, withDefault(cfg.BaseURL, "https://api.minimax.chat/v1"), cfg.MiniMaxAliases), nil
	})
	r.Register("anthropic", func(ctx context.Context, cfg Config) (Provider, error) {
		return NewAnthropic(cfg.APIKey), nil
	})
	r.Register("google", func(ctx context.Context, cfg Config) (Provider, error) {
		return NewGoogle(ctx, cfg.GCPProject, cfg.GCPLocation)
	})
	r.Register("baidu", func(ctx context.Context, cfg Config) (Provider, error) {
		return NewBaidu(cfg.APIKey), nil
	})
	return r
}

func withDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// Register adds or overrides a provider tag's constructor.
func (r *Registry) Register(tag string, ctor Constructor) {
	r.constructors[tag] = ctor
}

// Build constructs the Provider for tag, falling back to the
// OpenAI-compatible variant for any unregistered tag.
func (r *Registry) Build(ctx context.Context, tag string, cfg Config) (Provider, error) {
	ctor, ok := r.constructors[tag]
	if !ok {
		ctor = r.constructors["openai"]
	}
	return ctor(ctx, cfg)
}
