package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/cache"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClient_Generate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Score: 7"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", srv.URL+"/v1")

	c, err := NewOpenAIClient("gpt-4o-mini")
	require.NoError(t, err)

	temp := float32(0)
	out, err := c.Generate(context.Background(), "judge this", GenerationParams{Temperature: &temp})
	require.NoError(t, err)
	assert.Equal(t, "Score: 7", out)
	assert.Equal(t, "gpt-4o-mini", got["model"])

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "judge this", msgs[1].(map[string]any)["content"])
}

func TestOpenAIClient_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIClient("gpt-4o-mini")
	if err != nil {
		assert.ErrorIs(t, err, ErrMissingCredentials)
	}
}

func TestProviderKey_ContainerSecret(t *testing.T) {
	dir := t.TempDir()
	prev := containerSecretsDir
	containerSecretsDir = dir
	t.Cleanup(func() { containerSecretsDir = prev })

	t.Setenv("LSEVAL_TEST_KEY", "")
	_, err := providerKey("LSEVAL_TEST_KEY")
	assert.ErrorIs(t, err, ErrMissingCredentials)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "lseval_test_key"), []byte("from-file\n"), 0o600))
	key, err := providerKey("LSEVAL_TEST_KEY")
	require.NoError(t, err)
	v, err := key.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)
	assert.Equal(t, "<redacted>", key.String())

	t.Setenv("LSEVAL_TEST_KEY", "from-env")
	key, err = providerKey("LSEVAL_TEST_KEY")
	require.NoError(t, err)
	v, _ = key.Reveal()
	assert.Equal(t, "from-env", v)
}

func TestAnthropicClient_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"content":[],"stop_reason":"max_tokens"}`)
	}))
	defer srv.Close()

	t.Setenv("ANTHROPIC_API_KEY", "key-1")
	t.Setenv("ANTHROPIC_BASE_URL", srv.URL)

	c, err := NewAnthropicClient("claude")
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "p", GenerationParams{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Contains(t, err.Error(), "max_tokens")
}

func TestAzureClient_MissingSettings(t *testing.T) {
	t.Setenv("AZURE_API_KEY", "")
	t.Setenv("AZURE_API_BASE", "")
	_, err := NewAzureOpenAIClient("gpt-4o")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestAnthropicClient_Generate(t *testing.T) {
	var req anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = io.WriteString(w, `{"id":"m1","type":"message","role":"assistant","content":[{"type":"text","text":"Score: "},{"type":"text","text":"10"}]}`)
	}))
	defer srv.Close()

	t.Setenv("ANTHROPIC_API_KEY", "key-1")
	t.Setenv("ANTHROPIC_BASE_URL", srv.URL)

	c, err := NewAnthropicClient("claude-3-5-sonnet")
	require.NoError(t, err)

	maxTokens := 256
	out, err := c.Generate(context.Background(), "p", GenerationParams{MaxTokens: &maxTokens})
	require.NoError(t, err)
	assert.Equal(t, "Score: 10", out)
	assert.Equal(t, 256, req.MaxTokens)
	assert.Equal(t, judgeSystemPrompt, req.System)
}

func TestAnthropicClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	t.Setenv("ANTHROPIC_API_KEY", "key-1")
	t.Setenv("ANTHROPIC_BASE_URL", srv.URL)

	c, err := NewAnthropicClient("claude")
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "p", GenerationParams{})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.True(t, se.Retryable())
}

func TestNewClient_UnsupportedProvider(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Provider: "watsonx"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestBuildJudges_Panel(t *testing.T) {
	sys := config.Default()
	sys.LLM.CacheEnable = false
	sys.LLM.NumRetries = 5
	tokens := 64
	sys.Panel.Enabled = true
	sys.Panel.Judges = []config.JudgeConfig{
		{JudgeID: "a", Provider: "openai", Model: "gpt-4o"},
		{JudgeID: "b", Provider: "ollama", Model: "llama3", MaxTokens: &tokens},
	}

	var built []config.LLMConfig
	deps := Deps{NewClient: func(cfg config.LLMConfig) (LLMClient, error) {
		built = append(built, cfg)
		return &scriptedClient{answer: "x"}, nil
	}}

	primary, panel, err := BuildJudges(&sys, deps)
	require.NoError(t, err)
	assert.Equal(t, PrimaryJudgeID, primary.ID())
	require.Len(t, panel, 2)
	assert.Equal(t, "a", panel[0].ID())
	assert.Equal(t, "ollama", panel[1].Provider())
	assert.Equal(t, "llama3", panel[1].Model())

	require.Len(t, built, 3)
	assert.Equal(t, 5, built[1].NumRetries)
	assert.Equal(t, 64, built[2].MaxTokens)
}

func TestBuildJudges_PanelDisabled(t *testing.T) {
	sys := config.Default()
	sys.LLM.CacheEnable = false
	deps := Deps{NewClient: func(config.LLMConfig) (LLMClient, error) { return &scriptedClient{}, nil }}

	_, panel, err := BuildJudges(&sys, deps)
	require.NoError(t, err)
	assert.Nil(t, panel)
}

func TestBuildJudges_SharedCacheDir(t *testing.T) {
	sys := config.Default()
	sys.LLM.CacheDir = t.TempDir()
	sys.Panel.Enabled = true
	sys.Panel.Judges = []config.JudgeConfig{{JudgeID: "a", Provider: "openai", Model: "m"}}

	reg := cache.NewRegistry(nil)
	defer reg.Close()
	deps := Deps{
		Caches:    reg,
		NewClient: func(config.LLMConfig) (LLMClient, error) { return &scriptedClient{answer: "x"}, nil },
	}

	primary, panel, err := BuildJudges(&sys, deps)
	require.NoError(t, err)
	assert.Same(t, primary.opts.Cache, panel[0].opts.Cache)
}

func TestEmbedder_OpenAIAndCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Object string `json:"object"`
			Data   []item `json:"data"`
		}{Object: "list"}
		for i, in := range req.Input {
			resp.Data = append(resp.Data, item{Object: "embedding", Index: i, Embedding: []float32{float32(len(in)), 1}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", srv.URL+"/v1")

	inner, err := NewEmbedder(config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small"})
	require.NoError(t, err)

	c, err := cache.Open(cache.InMemoryConfig())
	require.NoError(t, err)
	defer c.Close()
	emb := NewCachedEmbedder(inner, c, "text-embedding-3-small")

	vecs, err := emb.Embed(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1}, {4, 1}}, vecs)

	vecs, err = emb.Embed(context.Background(), []string{"abcd", "xyz"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{4, 1}, {3, 1}}, vecs)
	assert.Equal(t, 2, calls)
}

func TestNewEmbedder_HuggingFaceNeedsURL(t *testing.T) {
	t.Setenv("HF_BASE_URL", "")
	_, err := NewEmbedder(config.EmbeddingConfig{Provider: "huggingface", Model: "bge"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}
