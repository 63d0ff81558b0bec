package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/cache"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/sashabaranov/go-openai"
)

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewEmbedder builds the embedder configured in the embedding section.
//
// The huggingface provider expects an OpenAI-compatible embeddings server
// (text-embeddings-inference); its URL comes from provider_kwargs.base_url
// or HF_BASE_URL.
func NewEmbedder(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	switch cfg.Provider {
	case "openai":
		key, err := providerKey("OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		apiKey, err := key.Reveal()
		if err != nil {
			return nil, fmt.Errorf("openai key: %w", err)
		}
		oc := openai.DefaultConfig(apiKey)
		if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
			oc.BaseURL = base
		}
		return &OpenAIEmbedder{client: openai.NewClientWithConfig(oc), model: cfg.Model}, nil

	case "huggingface":
		base, _ := cfg.ProviderKwargs["base_url"].(string)
		if base == "" {
			base = os.Getenv("HF_BASE_URL")
		}
		if base == "" {
			return nil, fmt.Errorf("%w: embedding.provider_kwargs.base_url or HF_BASE_URL must be set for huggingface", ErrMissingCredentials)
		}
		oc := openai.DefaultConfig(os.Getenv("HF_TOKEN"))
		oc.BaseURL = base
		return &OpenAIEmbedder{client: openai.NewClientWithConfig(oc), model: cfg.Model}, nil

	default:
		return nil, fmt.Errorf("%w: embedding provider %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("create embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// CachedEmbedder stores vectors per (model, text).
type CachedEmbedder struct {
	inner Embedder
	cache *cache.Cache
	model string
}

// NewCachedEmbedder wraps inner with c. A nil cache returns inner unchanged.
func NewCachedEmbedder(inner Embedder, c *cache.Cache, model string) Embedder {
	if c == nil {
		return inner
	}
	return &CachedEmbedder{inner: inner, cache: c, model: model}
}

// Embed implements Embedder. Only uncached texts are sent upstream.
func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, t := range texts {
		var vec []float32
		ok, err := e.cache.GetJSON(ctx, cache.Key("embedding", e.model, t), &vec)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = vec
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := e.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for k, vec := range vecs {
		out[missingIdx[k]] = vec
		if err := e.cache.SetJSON(ctx, cache.Key("embedding", e.model, missing[k]), vec); err != nil {
			return nil, err
		}
	}
	return out, nil
}
