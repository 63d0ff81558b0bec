package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/cache"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/telemetry"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// PrimaryJudgeID names the judge built from the llm section.
const PrimaryJudgeID = "primary"

const (
	defaultBackoff    = time.Second
	maxBackoff        = 30 * time.Second
	judgeTracerName   = "lseval.llm"
	judgeCacheVersion = "v1"
)

// JudgeOptions configures a Judge.
type JudgeOptions struct {
	ID          string
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int

	// Timeout bounds each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration

	// NumRetries is the number of attempts after the first.
	NumRetries int

	// RequestsPerSecond throttles calls. Zero disables throttling.
	RequestsPerSecond float64

	// Backoff is the first retry delay, doubled on every attempt.
	// Default: 1s.
	Backoff time.Duration

	// Cache stores completions by prompt. Nil disables caching.
	Cache *cache.Cache

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Judge scores prompts with one model.
//
// Thread Safety: Safe for concurrent use.
type Judge struct {
	opts    JudgeOptions
	client  LLMClient
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *slog.Logger
}

// NewJudge wraps client with retries, rate limiting, caching and tracing.
func NewJudge(client LLMClient, opts JudgeOptions) *Judge {
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	j := &Judge{
		opts:   opts,
		client: client,
		logger: logger.With(slog.String("judge", opts.ID)),
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		j.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return j
}

// ID returns the judge identifier.
func (j *Judge) ID() string { return j.opts.ID }

// Provider returns the provider name.
func (j *Judge) Provider() string { return j.opts.Provider }

// Model returns the model name.
func (j *Judge) Model() string { return j.opts.Model }

// Complete sends prompt to the judge model and returns its answer.
//
// Description:
//
//	Answers are served from the cache when present. Concurrent calls with
//	the same prompt share one request. Failed attempts are retried with
//	exponential backoff when the error is transient (timeouts, 429, 5xx).
//
// Inputs:
//
//	ctx - Context for cancellation. Each attempt is additionally bounded by
//	  the judge timeout.
//	prompt - The full judge prompt.
//
// Outputs:
//
//	string - The model answer.
//	error - Non-nil when every attempt failed.
func (j *Judge) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, judgeTracerName, "Judge.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("judge.id", j.opts.ID),
		attribute.String("llm.provider", j.opts.Provider),
		attribute.String("llm.model", j.opts.Model),
	)

	key := j.cacheKey(prompt)
	if j.opts.Cache != nil {
		var cached string
		ok, err := j.opts.Cache.GetJSON(ctx, key, &cached)
		if err != nil {
			j.logger.Warn("judge cache read failed", slog.String("error", err.Error()))
		} else if ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			j.opts.Metrics.RecordJudgeCall(ctx, j.opts.ID, "cached", 0)
			return cached, nil
		}
	}

	v, err, shared := j.group.Do(key, func() (any, error) {
		out, err := j.callWithRetry(ctx, prompt)
		if err != nil {
			return "", err
		}
		if j.opts.Cache != nil {
			if err := j.opts.Cache.SetJSON(ctx, key, out); err != nil {
				j.logger.Warn("judge cache write failed", slog.String("error", err.Error()))
			}
		}
		return out, nil
	})
	span.SetAttributes(attribute.Bool("singleflight.shared", shared))
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	telemetry.SetSpanOK(span)
	return v.(string), nil
}

func (j *Judge) callWithRetry(ctx context.Context, prompt string) (string, error) {
	temp := float32(j.opts.Temperature)
	params := GenerationParams{Temperature: &temp}
	if j.opts.MaxTokens > 0 {
		maxTokens := j.opts.MaxTokens
		params.MaxTokens = &maxTokens
	}

	var lastErr error
	delay := j.opts.Backoff
	for attempt := 0; attempt <= j.opts.NumRetries; attempt++ {
		if attempt > 0 {
			j.logger.Debug("retrying judge call",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()))
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("judge %s: %w", j.opts.ID, ctx.Err())
			case <-time.After(delay):
			}
			delay = min(delay*2, maxBackoff)
		}

		if j.limiter != nil {
			if err := j.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("judge %s rate limiter: %w", j.opts.ID, err)
			}
		}

		start := time.Now()
		out, err := j.generate(ctx, prompt, params)
		if err == nil {
			j.opts.Metrics.RecordJudgeCall(ctx, j.opts.ID, "ok", time.Since(start))
			return out, nil
		}
		j.opts.Metrics.RecordJudgeCall(ctx, j.opts.ID, "error", time.Since(start))
		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			break
		}
	}
	return "", fmt.Errorf("judge %s (%s/%s): %w", j.opts.ID, j.opts.Provider, j.opts.Model, lastErr)
}

func (j *Judge) generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	if j.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.opts.Timeout)
		defer cancel()
	}
	return j.client.Generate(ctx, prompt, params)
}

func (j *Judge) cacheKey(prompt string) string {
	return cache.Key("llm",
		judgeCacheVersion,
		j.opts.Provider,
		j.opts.Model,
		strconv.FormatFloat(j.opts.Temperature, 'f', -1, 64),
		strconv.Itoa(j.opts.MaxTokens),
		prompt,
	)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrMissingCredentials) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}

func retryableStatus(code int) bool {
	return code == 0 || code == http.StatusTooManyRequests || code >= 500
}
