package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lseval.llm.ollama")

type OllamaClient struct {
	llm     *ollama.LLM
	baseURL string
	model   string
}

// NewOllamaClient builds a client for a local Ollama server.
//
// OLLAMA_BASE_URL overrides the default http://localhost:11434.
func NewOllamaClient(model string) (*OllamaClient, error) {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	client, err := ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &OllamaClient{llm: client, baseURL: baseURL, model: model}, nil
}

// Generate implements the LLMClient interface
func (o *OllamaClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model), attribute.String("llm.base_url", o.baseURL))

	var opts []llms.CallOption
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*params.Temperature)))
	}
	if params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}
	if params.TopP != nil {
		opts = append(opts, llms.WithTopP(float64(*params.TopP)))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(params.Stop))
	}

	prompt = judgeSystemPrompt + "\n\n" + prompt
	out, err := llms.GenerateFromSinglePrompt(ctx, o.llm, prompt, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ollama generate failed")
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if out == "" {
		return "", fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}
	span.SetAttributes(attribute.Int("llm.response_length", len(out)))
	return out, nil
}
