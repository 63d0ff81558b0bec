// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jinterlante1206/lightspeed-eval/pkg/secrets"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/cache"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "lseval.api"

// Client queries the Lightspeed API.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	cfg        config.APIConfig
	httpClient *http.Client
	baseURL    string
	token      *secrets.Secret
	cache      *cache.Cache
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCache caches responses by request.
func WithCache(cc *cache.Cache) Option {
	return func(c *Client) { c.cache = cc }
}

// WithMetrics records request counts and durations.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithToken overrides the bearer token read from API_KEY.
func WithToken(token *secrets.Secret) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for cfg.
//
// Description:
//
//	The bearer token is read from the API_KEY environment variable; no
//	Authorization header is sent when it is empty. Each request is bounded
//	by api.timeout.
func New(cfg config.APIConfig, opts ...Option) (*Client, error) {
	if cfg.APIBase == "" {
		return nil, fmt.Errorf("%w: api_base is empty", ErrAPI)
	}
	// An unset API_KEY leaves the token empty.
	token, _ := secrets.FromEnv(secrets.SecretAPIKey)
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.TimeoutDuration()},
		baseURL:    strings.TrimRight(cfg.APIBase, "/"),
		token:      token,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "api"))
	return c, nil
}

// Query sends one turn to the configured endpoint.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	query - The user question.
//	conversationID - The id returned by the previous turn, or "".
//	attachments - Optional attachment contents.
//
// Outputs:
//
//	*Response - Answer, conversation id, tool calls and contexts.
//	error - Wraps ErrAPI or ErrTimeout.
func (c *Client) Query(ctx context.Context, query, conversationID string, attachments []string) (*Response, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Client.Query")
	defer span.End()
	span.SetAttributes(attribute.String("api.endpoint", c.cfg.EndpointType))

	req := c.buildRequest(query, conversationID, attachments)

	var key string
	if c.cache != nil {
		raw, _ := json.Marshal(struct {
			Endpoint string  `json:"endpoint"`
			Base     string  `json:"base"`
			Req      Request `json:"req"`
		}{c.cfg.EndpointType, c.baseURL, req})
		key = cache.Key("api", string(raw))

		var cached Response
		ok, err := c.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			c.logger.Warn("api cache read failed", slog.String("error", err.Error()))
		} else if ok {
			c.logger.Debug("returning cached response", slog.String("query", query))
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &cached, nil
		}
	}

	start := time.Now()
	var resp *Response
	var err error
	switch c.cfg.EndpointType {
	case config.EndpointStreaming:
		resp, err = c.streamingQuery(ctx, req)
	case config.EndpointChatCompletions:
		resp, err = c.chatCompletionsQuery(ctx, req)
	default:
		resp, err = c.standardQuery(ctx, req)
	}
	if err != nil {
		c.metrics.RecordAPIRequest(ctx, c.cfg.EndpointType, "error", time.Since(start))
		telemetry.RecordError(span, err)
		return nil, err
	}
	c.metrics.RecordAPIRequest(ctx, c.cfg.EndpointType, "ok", time.Since(start))

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, key, resp); err != nil {
			c.logger.Warn("api cache write failed", slog.String("error", err.Error()))
		}
	}
	telemetry.SetSpanOK(span)
	return resp, nil
}

func (c *Client) buildRequest(query, conversationID string, attachments []string) Request {
	req := Request{
		Query:          query,
		Provider:       c.cfg.Provider,
		Model:          c.cfg.Model,
		NoTools:        c.cfg.NoTools,
		ConversationID: conversationID,
		SystemPrompt:   c.cfg.SystemPrompt,
	}
	if c.cfg.EndpointType == config.EndpointChatCompletions {
		req.Messages = []Message{{Role: "user", Content: query}}
	}
	for _, a := range attachments {
		req.Attachments = append(req.Attachments, Attachment{
			AttachmentType: "configuration",
			ContentType:    "text/plain",
			Content:        a,
		})
	}
	return req
}

// post sends req to path and returns the open response. The caller closes
// the body.
func (c *Client) post(ctx context.Context, path string, req Request, accept string) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrAPI, err)
	}

	url := fmt.Sprintf("%s/%s/%s", c.baseURL, c.cfg.Version, path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrAPI, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	if !c.token.Empty() {
		err := c.token.Use(func(v []byte) error {
			httpReq.Header.Set("Authorization", "Bearer "+string(v))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: read token: %v", ErrAPI, err)
		}
	}

	c.logger.Debug("sending query", slog.String("url", url), slog.String("conversation_id", req.ConversationID))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s request exceeded %ds", ErrTimeout, path, c.cfg.Timeout)
		}
		return nil, fmt.Errorf("%w: %s request failed: %v", ErrAPI, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s returned status %d: %s", ErrAPI, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp, nil
}

func (c *Client) standardQuery(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.post(ctx, "query", req, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw struct {
		Response       *string         `json:"response"`
		ConversationID string          `json:"conversation_id"`
		ToolCalls      json.RawMessage `json:"tool_calls"`
		RAGChunks      []ragChunk      `json:"rag_chunks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, c.decodeError("query", err)
	}
	if raw.Response == nil {
		return nil, fmt.Errorf("%w: query response missing 'response' field", ErrAPI)
	}

	calls, err := normalizeToolCalls(raw.ToolCalls)
	if err != nil {
		return nil, fmt.Errorf("%w: query tool_calls: %v", ErrAPI, err)
	}
	return &Response{
		Response:       strings.TrimSpace(*raw.Response),
		ConversationID: raw.ConversationID,
		ToolCalls:      calls,
		Contexts:       chunkContents(raw.RAGChunks),
	}, nil
}

func (c *Client) streamingQuery(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.post(ctx, "streaming_query", req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := readStream(ctx, resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: streaming_query exceeded %ds", ErrTimeout, c.cfg.Timeout)
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) chatCompletionsQuery(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.post(ctx, "chat/completions", req, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw struct {
		ID      string `json:"id"`
		Choices []struct {
			Message struct {
				Content   *string         `json:"content"`
				ToolCalls json.RawMessage `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, c.decodeError("chat/completions", err)
	}
	if len(raw.Choices) == 0 {
		return nil, fmt.Errorf("%w: chat/completions response has no choices", ErrAPI)
	}
	msg := raw.Choices[0].Message
	if msg.Content == nil {
		return nil, fmt.Errorf("%w: API response missing 'content' field", ErrAPI)
	}

	calls, err := normalizeToolCalls(msg.ToolCalls)
	if err != nil {
		return nil, fmt.Errorf("%w: chat/completions tool_calls: %v", ErrAPI, err)
	}
	return &Response{
		Response:       strings.TrimSpace(*msg.Content),
		ConversationID: raw.ID,
		ToolCalls:      calls,
	}, nil
}

func (c *Client) decodeError(endpoint string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %s exceeded %ds", ErrTimeout, endpoint, c.cfg.Timeout)
	}
	return fmt.Errorf("%w: decode %s response: %v", ErrAPI, endpoint, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
