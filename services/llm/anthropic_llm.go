package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/jinterlante1206/lightspeed-eval/pkg/secrets"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicMessages   = "https://api.anthropic.com/v1/messages"

	// anthropicMaxTokens is sent when the judge sets no limit; the
	// messages API requires one.
	anthropicMaxTokens = 1024
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse covers both the message and the error envelope.
type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// AnthropicClient calls the Anthropic messages API over plain HTTP. The API
// key stays sealed and is only opened while a request is being signed.
type AnthropicClient struct {
	httpClient *http.Client
	key        *secrets.Secret
	model      string
	endpoint   string
}

// NewAnthropicClient builds a judge client for model.
//
// The key comes from ANTHROPIC_API_KEY or the anthropic_api_key container
// secret. ANTHROPIC_BASE_URL replaces the messages endpoint, e.g. for a
// gateway.
func NewAnthropicClient(model string) (*AnthropicClient, error) {
	key, err := providerKey("ANTHROPIC_API_KEY")
	if err != nil {
		return nil, err
	}
	endpoint := os.Getenv("ANTHROPIC_BASE_URL")
	if endpoint == "" {
		endpoint = anthropicMessages
	}
	// The judge context carries the per-call deadline.
	return &AnthropicClient{
		httpClient: &http.Client{},
		key:        key,
		model:      model,
		endpoint:   endpoint,
	}, nil
}

// Generate implements LLMClient.
func (a *AnthropicClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	req, err := a.newRequest(ctx, prompt, params)
	if err != nil {
		return "", err
	}

	slog.Debug("sending judge prompt", slog.String("provider", "anthropic"), slog.String("model", a.model))
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read anthropic response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Provider: "anthropic", StatusCode: resp.StatusCode, Body: string(body)}
	}
	return decodeAnthropic(body)
}

func (a *AnthropicClient) newRequest(ctx context.Context, prompt string, params GenerationParams) (*http.Request, error) {
	payload := anthropicRequest{
		Model:       a.model,
		System:      judgeSystemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens:   anthropicMaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		StopSeqs:    params.Stop,
	}
	if params.MaxTokens != nil {
		payload.MaxTokens = *params.MaxTokens
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build anthropic request: %w", err)
	}
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")
	if err := a.key.Use(func(v []byte) error {
		req.Header.Set("x-api-key", string(v))
		return nil
	}); err != nil {
		return nil, fmt.Errorf("anthropic key: %w", err)
	}
	return req, nil
}

// decodeAnthropic joins the text blocks of a messages response.
func decodeAnthropic(body []byte) (string, error) {
	var msg anthropicResponse
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}
	if msg.Error != nil {
		return "", fmt.Errorf("anthropic %s: %s", msg.Error.Type, msg.Error.Message)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("anthropic (stop_reason %q): %w", msg.StopReason, ErrEmptyResponse)
	}
	return text.String(), nil
}
