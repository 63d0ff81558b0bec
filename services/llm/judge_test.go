package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/cache"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient returns errs in order, then answer.
type scriptedClient struct {
	mu     sync.Mutex
	errs   []error
	answer string
	calls  atomic.Int32
	delay  time.Duration
	params []GenerationParams
}

func (c *scriptedClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.params = append(c.params, params)
	var err error
	if len(c.errs) > 0 {
		err, c.errs = c.errs[0], c.errs[1:]
	}
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return c.answer, nil
}

func testJudge(client LLMClient, mutate func(*JudgeOptions)) *Judge {
	opts := JudgeOptions{
		ID:         "primary",
		Provider:   "openai",
		Model:      "gpt-4o-mini",
		MaxTokens:  512,
		NumRetries: 3,
		Backoff:    time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewJudge(client, opts)
}

func TestJudge_Complete(t *testing.T) {
	client := &scriptedClient{answer: "Score: 9"}
	j := testJudge(client, func(o *JudgeOptions) { o.Temperature = 0.3 })

	out, err := j.Complete(context.Background(), "rate this")
	require.NoError(t, err)
	assert.Equal(t, "Score: 9", out)
	assert.Equal(t, int32(1), client.calls.Load())

	require.Len(t, client.params, 1)
	require.NotNil(t, client.params[0].Temperature)
	assert.InDelta(t, 0.3, float64(*client.params[0].Temperature), 1e-6)
	require.NotNil(t, client.params[0].MaxTokens)
	assert.Equal(t, 512, *client.params[0].MaxTokens)
}

func TestJudge_RetriesTransientErrors(t *testing.T) {
	client := &scriptedClient{
		errs:   []error{&StatusError{Provider: "anthropic", StatusCode: 529}, context.DeadlineExceeded},
		answer: "ok",
	}
	j := testJudge(client, nil)

	out, err := j.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), client.calls.Load())
}

func TestJudge_StopsOnPermanentError(t *testing.T) {
	client := &scriptedClient{
		errs: []error{&openai.APIError{HTTPStatusCode: 401, Message: "bad key"}},
	}
	j := testJudge(client, nil)

	_, err := j.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, int32(1), client.calls.Load())
	assert.Contains(t, err.Error(), "judge primary (openai/gpt-4o-mini)")

	var apiErr *openai.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestJudge_GivesUpAfterRetries(t *testing.T) {
	boom := errors.New("connection reset")
	client := &scriptedClient{errs: []error{boom, boom, boom}}
	j := testJudge(client, func(o *JudgeOptions) { o.NumRetries = 2 })

	_, err := j.Complete(context.Background(), "p")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), client.calls.Load())
}

func TestJudge_PerAttemptTimeout(t *testing.T) {
	client := &scriptedClient{delay: time.Second, answer: "late"}
	j := testJudge(client, func(o *JudgeOptions) {
		o.Timeout = 10 * time.Millisecond
		o.NumRetries = 1
	})

	_, err := j.Complete(context.Background(), "p")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestJudge_CancelledContext(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("flaky")}, answer: "ok"}
	j := testJudge(client, func(o *JudgeOptions) { o.Backoff = time.Hour })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := j.Complete(ctx, "p")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestJudge_CachesAnswers(t *testing.T) {
	c, err := cache.Open(cache.InMemoryConfig())
	require.NoError(t, err)
	defer c.Close()

	client := &scriptedClient{answer: "cached answer"}
	j := testJudge(client, func(o *JudgeOptions) { o.Cache = c })

	for i := 0; i < 3; i++ {
		out, err := j.Complete(context.Background(), "same prompt")
		require.NoError(t, err)
		assert.Equal(t, "cached answer", out)
	}
	assert.Equal(t, int32(1), client.calls.Load())

	// A different model must not reuse the entry.
	other := testJudge(client, func(o *JudgeOptions) {
		o.Cache = c
		o.Model = "gpt-4o"
	})
	_, err = other.Complete(context.Background(), "same prompt")
	require.NoError(t, err)
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestJudge_CoalescesConcurrentPrompts(t *testing.T) {
	client := &scriptedClient{answer: "shared", delay: 50 * time.Millisecond}
	j := testJudge(client, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := j.Complete(context.Background(), "identical")
			assert.NoError(t, err)
			assert.Equal(t, "shared", out)
		}()
	}
	wg.Wait()
	assert.Less(t, client.calls.Load(), int32(8))
}

func TestJudge_RateLimited(t *testing.T) {
	client := &scriptedClient{answer: "ok"}
	j := testJudge(client, func(o *JudgeOptions) { o.RequestsPerSecond = 20 })

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := j.Complete(context.Background(), string(rune('a'+i)))
		require.NoError(t, err)
	}
	// burst of 20 covers these calls; the limiter must not block them
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"cancelled", context.Canceled, false},
		{"credentials", ErrMissingCredentials, false},
		{"deadline", context.DeadlineExceeded, true},
		{"openai 429", &openai.APIError{HTTPStatusCode: 429}, true},
		{"openai 400", &openai.APIError{HTTPStatusCode: 400}, false},
		{"openai request 503", &openai.RequestError{HTTPStatusCode: 503}, true},
		{"anthropic 500", &StatusError{StatusCode: 500}, true},
		{"anthropic 404", &StatusError{StatusCode: 404}, false},
		{"plain", errors.New("eof"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}
