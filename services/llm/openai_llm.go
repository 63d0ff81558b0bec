package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sashabaranov/go-openai"
)

// judgeSystemPrompt frames every judge call.
const judgeSystemPrompt = "You are an impartial evaluator. Follow the scoring instructions exactly and answer in the requested format."

// OpenAIClient serves the openai and azure providers.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client for the OpenAI API.
//
// The key comes from OPENAI_API_KEY or the openai_api_key container secret.
// OPENAI_BASE_URL points the client at an OpenAI-compatible server.
func NewOpenAIClient(model string) (*OpenAIClient, error) {
	key, err := providerKey("OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	// go-openai keeps the key as a string for the life of the client.
	apiKey, err := key.Reveal()
	if err != nil {
		return nil, fmt.Errorf("openai key: %w", err)
	}

	cfg := openai.DefaultConfig(apiKey)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// NewAzureOpenAIClient builds a client for an Azure OpenAI deployment.
//
// Uses AZURE_API_KEY, AZURE_API_BASE and optionally AZURE_API_VERSION. The
// model name is used as the deployment name.
func NewAzureOpenAIClient(model string) (*OpenAIClient, error) {
	apiKey := os.Getenv("AZURE_API_KEY")
	base := os.Getenv("AZURE_API_BASE")
	if apiKey == "" || base == "" {
		return nil, fmt.Errorf("%w: AZURE_API_KEY and AZURE_API_BASE must be set", ErrMissingCredentials)
	}

	cfg := openai.DefaultAzureConfig(apiKey, base)
	if v := os.Getenv("AZURE_API_VERSION"); v != "" {
		cfg.APIVersion = v
	}
	cfg.AzureModelMapperFunc = func(m string) string { return m }
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Generate implements the LLMClient interface
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	slog.Debug("sending judge prompt", slog.String("provider", "openai"), slog.String("model", o.model))
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: judgeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai: %w", ErrEmptyResponse)
	}
	slog.Debug("judge answered", slog.String("provider", "openai"), slog.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return resp.Choices[0].Message.Content, nil
}
