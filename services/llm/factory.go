package llm

import (
	"fmt"
	"log/slog"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/cache"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/telemetry"
)

// NewClient builds the provider client for cfg.
func NewClient(cfg config.LLMConfig) (LLMClient, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg.Model)
	case "azure":
		return NewAzureOpenAIClient(cfg.Model)
	case "anthropic":
		return NewAnthropicClient(cfg.Model)
	case "ollama":
		return NewOllamaClient(cfg.Model)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

// Deps are the shared resources judges are built with.
type Deps struct {
	Caches  *cache.Registry
	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	// NewClient overrides provider construction. Nil uses NewClient.
	NewClient func(cfg config.LLMConfig) (LLMClient, error)
}

// NewJudgeFromConfig builds a judge named id from cfg.
func NewJudgeFromConfig(id string, cfg config.LLMConfig, deps Deps) (*Judge, error) {
	build := deps.NewClient
	if build == nil {
		build = NewClient
	}
	client, err := build(cfg)
	if err != nil {
		return nil, fmt.Errorf("judge %s: %w", id, err)
	}

	var c *cache.Cache
	if cfg.CacheEnable && deps.Caches != nil {
		c, err = deps.Caches.Get(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("judge %s cache: %w", id, err)
		}
	}

	return NewJudge(client, JudgeOptions{
		ID:                id,
		Provider:          cfg.Provider,
		Model:             cfg.Model,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		Timeout:           cfg.TimeoutDuration(),
		NumRetries:        cfg.NumRetries,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Cache:             c,
		Metrics:           deps.Metrics,
		Logger:            deps.Logger,
	}), nil
}

// BuildJudges creates the primary judge and, when the panel is enabled,
// one judge per panel member.
//
// Description:
//
//	Panel judges inherit max_tokens, timeout, num_retries, the rate limit
//	and the cache settings of the primary llm section unless they override
//	them. Judge ids must already be assigned (config.Validate does this).
//
// Outputs:
//
//	*Judge - The primary judge (id "primary").
//	[]*Judge - Panel judges in configuration order; nil when disabled.
//	error - Non-nil if any client cannot be built.
func BuildJudges(sys *config.SystemConfig, deps Deps) (*Judge, []*Judge, error) {
	primary, err := NewJudgeFromConfig(PrimaryJudgeID, sys.LLM, deps)
	if err != nil {
		return nil, nil, err
	}
	if !sys.Panel.Enabled {
		return primary, nil, nil
	}

	panel := make([]*Judge, 0, len(sys.Panel.Judges))
	for _, jc := range sys.Panel.Judges {
		j, err := NewJudgeFromConfig(jc.JudgeID, jc.Resolve(sys.LLM), deps)
		if err != nil {
			return nil, nil, err
		}
		panel = append(panel, j)
	}
	return primary, panel, nil
}
