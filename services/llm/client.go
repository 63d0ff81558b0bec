// Package llm provides the judge model clients used to score evaluations.
//
// Each provider implements LLMClient. A Judge wraps a client with the
// behavior every judge call needs: rate limiting, retries with backoff,
// a per-call timeout, tracing, response caching and coalescing of
// identical in-flight prompts.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jinterlante1206/lightspeed-eval/pkg/secrets"
)

var (
	// ErrUnsupportedProvider is returned for a provider name with no client.
	ErrUnsupportedProvider = errors.New("unsupported llm provider")

	// ErrMissingCredentials is returned when a provider's API key is not set.
	ErrMissingCredentials = errors.New("missing llm credentials")

	// ErrEmptyResponse is returned when a provider answers without text.
	ErrEmptyResponse = errors.New("llm returned an empty response")
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// StatusError is an HTTP failure from a provider called over raw HTTP.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// containerSecretsDir is where container runtimes mount secrets.
var containerSecretsDir = "/run/secrets"

// providerKey seals the API key named env. When the variable is unset the
// container secret with the lower-cased name is read instead, e.g.
// /run/secrets/openai_api_key.
func providerKey(env string) (*secrets.Secret, error) {
	key, err := secrets.FromEnv(env)
	if err == nil {
		return key, nil
	}
	raw, readErr := os.ReadFile(filepath.Join(containerSecretsDir, strings.ToLower(env)))
	if readErr != nil {
		return nil, fmt.Errorf("%w: %s is not set", ErrMissingCredentials, env)
	}
	value := bytes.TrimSpace(raw)
	if len(value) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrMissingCredentials, env)
	}
	return secrets.New(env, value), nil
}
