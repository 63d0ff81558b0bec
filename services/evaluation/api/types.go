// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api is the client for the live Lightspeed API.
//
// When api.enabled is set, every turn's query is sent to the assistant and
// its answer, tool calls and retrieved contexts are written back into the
// turn before metrics run. Three endpoint flavors are supported:
//
//	query             POST {api_base}/{version}/query             JSON answer
//	streaming         POST {api_base}/{version}/streaming_query   SSE events
//	chat/completions  POST {api_base}/{version}/chat/completions  OpenAI-style
package api

import (
	"encoding/json"
	"errors"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
)

var (
	// ErrAPI wraps every failed Lightspeed API call.
	ErrAPI = errors.New("lightspeed api error")

	// ErrTimeout is returned when a call exceeds api.timeout.
	ErrTimeout = errors.New("lightspeed api timeout")
)

// Attachment is a file sent along with a query.
type Attachment struct {
	AttachmentType string `json:"attachment_type"`
	ContentType    string `json:"content_type"`
	Content        string `json:"content"`
}

// Message is a chat message for the chat/completions endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body sent to every endpoint.
type Request struct {
	Query          string       `json:"query"`
	Messages       []Message    `json:"messages,omitempty"`
	Provider       string       `json:"provider,omitempty"`
	Model          string       `json:"model,omitempty"`
	NoTools        *bool        `json:"no_tools,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
	SystemPrompt   string       `json:"system_prompt,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// Response is the normalized answer of any endpoint.
type Response struct {
	Response       string                 `json:"response"`
	ConversationID string                 `json:"conversation_id"`
	ToolCalls      [][]datatypes.ToolCall `json:"tool_calls,omitempty"`
	Contexts       []string               `json:"contexts,omitempty"`
}

// rawToolCall accepts both naming conventions seen in the wild:
// tool_name/arguments and name/args.
type rawToolCall struct {
	ToolName  string         `json:"tool_name"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Args      map[string]any `json:"args"`
}

func (r rawToolCall) normalize() datatypes.ToolCall {
	tc := datatypes.ToolCall{ToolName: r.ToolName, Arguments: r.Arguments}
	if tc.ToolName == "" {
		tc.ToolName = r.Name
	}
	if tc.Arguments == nil {
		tc.Arguments = r.Args
	}
	if tc.Arguments == nil {
		tc.Arguments = map[string]any{}
	}
	return tc
}

// normalizeToolCalls converts a tool_calls payload into sequences.
//
// A flat list of calls becomes one single-call sequence per entry; a list
// of lists is kept as is.
func normalizeToolCalls(raw json.RawMessage) ([][]datatypes.ToolCall, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}

	var out [][]datatypes.ToolCall
	for _, item := range items {
		var seq []rawToolCall
		if err := json.Unmarshal(item, &seq); err == nil {
			calls := make([]datatypes.ToolCall, 0, len(seq))
			for _, c := range seq {
				calls = append(calls, c.normalize())
			}
			out = append(out, calls)
			continue
		}
		var single rawToolCall
		if err := json.Unmarshal(item, &single); err != nil {
			return nil, err
		}
		out = append(out, []datatypes.ToolCall{single.normalize()})
	}
	return out, nil
}

// ragChunk is a retrieved context returned by the query endpoint.
type ragChunk struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

func chunkContents(chunks []ragChunk) []string {
	if len(chunks) == 0 {
		return nil
	}
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.Content != "" {
			out = append(out, c.Content)
		}
	}
	return out
}
