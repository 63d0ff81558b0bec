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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
)

// Streaming event names sent by /streaming_query.
const (
	eventStart        = "start"
	eventToken        = "token"
	eventToolCall     = "tool_call"
	eventTurnComplete = "turn_complete"
	eventEnd          = "end"
	eventError        = "error"
)

// streamEvent is one SSE data payload.
type streamEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type streamData struct {
	ConversationID string          `json:"conversation_id"`
	Token          json.RawMessage `json:"token"`
	Name           string          `json:"name"`
	Args           map[string]any  `json:"args"`
	Response       string          `json:"response"`
	Cause          string          `json:"cause"`
	RAGChunks      []ragChunk      `json:"rag_chunks"`
}

// parseSSELine returns the JSON payload of a "data:" line, or nil for
// blank lines, comments and other SSE fields.
func parseSSELine(line string) []byte {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ":") {
		return nil
	}
	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		return []byte(strings.TrimSpace(rest))
	}
	return nil
}

// readStream consumes a streaming_query body.
//
// Description:
//
//	Tokens are concatenated into the answer. A turn_complete event carries
//	the full answer and replaces the concatenation. Reading stops at the
//	end event; an error event fails the call. A stream without a start
//	event (no conversation id) is rejected.
func readStream(ctx context.Context, body io.Reader) (*Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	resp := &Response{}
	var answer strings.Builder
	var final *string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		payload := parseSSELine(scanner.Text())
		if payload == nil {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: malformed stream event: %v", ErrAPI, err)
		}
		var data streamData
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				return nil, fmt.Errorf("%w: malformed %s event data: %v", ErrAPI, ev.Event, err)
			}
		}

		switch ev.Event {
		case eventStart:
			resp.ConversationID = data.ConversationID

		case eventToken:
			answer.WriteString(tokenText(data.Token))

		case eventToolCall:
			call, err := toolCallFromEvent(data)
			if err != nil {
				return nil, fmt.Errorf("%w: malformed tool_call event: %v", ErrAPI, err)
			}
			if tc := call.normalize(); tc.ToolName != "" {
				resp.ToolCalls = append(resp.ToolCalls, []datatypes.ToolCall{tc})
			}

		case eventTurnComplete:
			text := tokenText(data.Token)
			final = &text

		case eventEnd:
			if len(data.RAGChunks) > 0 {
				resp.Contexts = chunkContents(data.RAGChunks)
			}
			return finishStream(resp, answer.String(), final)

		case eventError:
			msg := data.Response
			if data.Cause != "" {
				msg += ": " + data.Cause
			}
			return nil, fmt.Errorf("%w: stream error: %s", ErrAPI, msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read stream: %v", ErrAPI, err)
	}
	return finishStream(resp, answer.String(), final)
}

func finishStream(resp *Response, tokens string, final *string) (*Response, error) {
	if resp.ConversationID == "" {
		return nil, fmt.Errorf("%w: stream ended without a conversation id", ErrAPI)
	}
	if final != nil && *final != "" {
		resp.Response = *final
	} else {
		resp.Response = tokens
	}
	resp.Response = strings.TrimSpace(resp.Response)
	return resp, nil
}

// tokenText decodes a token that is usually a string.
func tokenText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func toolCallFromEvent(data streamData) (rawToolCall, error) {
	if data.Name != "" {
		return rawToolCall{Name: data.Name, Args: data.Args}, nil
	}
	var call rawToolCall
	if len(data.Token) == 0 {
		return call, nil
	}
	// Older servers send the call as a JSON object in token; newer send the
	// object directly.
	if err := json.Unmarshal(data.Token, &call); err == nil {
		return call, nil
	}
	var encoded string
	if err := json.Unmarshal(data.Token, &encoded); err != nil {
		return call, err
	}
	// Plain-text tool announcements carry no structured call.
	if err := json.Unmarshal([]byte(encoded), &call); err != nil {
		return rawToolCall{}, nil
	}
	return call, nil
}
