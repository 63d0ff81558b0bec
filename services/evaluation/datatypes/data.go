// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the evaluation data model: conversation groups and
// turns read from evaluation_data.yaml, evaluation requests routed to metric
// handlers, and the result rows written to reports.
package datatypes

import (
	"fmt"
	"strings"
)

// Metric frameworks understood by the evaluator.
const (
	FrameworkGEval    = "geval"
	FrameworkDeepEval = "deepeval"
	FrameworkRagas    = "ragas"
	FrameworkCustom   = "custom"
	FrameworkScript   = "script"
)

// Frameworks lists every supported metric framework.
var Frameworks = []string{FrameworkRagas, FrameworkDeepEval, FrameworkGEval, FrameworkCustom, FrameworkScript}

// ToolCall is a single tool invocation made (or expected) during a turn.
type ToolCall struct {
	ToolName  string         `yaml:"tool_name" json:"tool_name"`
	Arguments map[string]any `yaml:"arguments" json:"arguments"`
}

// TurnData is one query/response exchange within a conversation group.
type TurnData struct {
	TurnID              string                    `yaml:"turn_id" json:"turn_id" validate:"required"`
	Query               string                    `yaml:"query" json:"query" validate:"required"`
	Attachments         []string                  `yaml:"attachments,omitempty" json:"attachments,omitempty"`
	Response            string                    `yaml:"response,omitempty" json:"response,omitempty"`
	Contexts            []string                  `yaml:"contexts,omitempty" json:"contexts,omitempty"`
	ExpectedResponse    string                    `yaml:"expected_response,omitempty" json:"expected_response,omitempty"`
	ToolCalls           [][]ToolCall              `yaml:"tool_calls,omitempty" json:"tool_calls,omitempty"`
	ExpectedToolCalls   [][]ToolCall              `yaml:"expected_tool_calls,omitempty" json:"expected_tool_calls,omitempty"`
	VerifyScript        string                    `yaml:"verify_script,omitempty" json:"verify_script,omitempty"`
	ConversationID      string                    `yaml:"conversation_id,omitempty" json:"conversation_id,omitempty"`
	TurnMetrics         []string                  `yaml:"turn_metrics,omitempty" json:"turn_metrics,omitempty" validate:"omitempty,dive,metricid"`
	TurnMetricsMetadata map[string]map[string]any `yaml:"turn_metrics_metadata,omitempty" json:"turn_metrics_metadata,omitempty"`
}

// EvaluationData is a conversation group: an ordered list of turns plus the
// conversation-level metrics evaluated over all of them.
type EvaluationData struct {
	ConversationGroupID         string                    `yaml:"conversation_group_id" json:"conversation_group_id" validate:"required"`
	Description                 string                    `yaml:"description,omitempty" json:"description,omitempty"`
	SetupScript                 string                    `yaml:"setup_script,omitempty" json:"setup_script,omitempty"`
	CleanupScript               string                    `yaml:"cleanup_script,omitempty" json:"cleanup_script,omitempty"`
	ConversationMetrics         []string                  `yaml:"conversation_metrics,omitempty" json:"conversation_metrics,omitempty" validate:"omitempty,dive,metricid"`
	ConversationMetricsMetadata map[string]map[string]any `yaml:"conversation_metrics_metadata,omitempty" json:"conversation_metrics_metadata,omitempty"`
	Turns                       []TurnData                `yaml:"turns" json:"turns" validate:"required,min=1,dive"`
}

// ParseMetricIdentifier splits "framework:name".
func ParseMetricIdentifier(id string) (framework, name string, err error) {
	framework, name, ok := strings.Cut(id, ":")
	if !ok || framework == "" || name == "" {
		return "", "", fmt.Errorf("metric identifier %q must have the form framework:name", id)
	}
	return framework, name, nil
}

// IsKnownFramework reports whether framework has a metric handler.
func IsKnownFramework(framework string) bool {
	for _, f := range Frameworks {
		if f == framework {
			return true
		}
	}
	return false
}

// =============================================================================
// Requests
// =============================================================================

// EvaluationRequest asks for one metric to be evaluated over a turn or a
// whole conversation. Turn is nil for conversation-level requests.
type EvaluationRequest struct {
	Conv             *EvaluationData
	Turn             *TurnData
	TurnIdx          int
	MetricIdentifier string
}

// ForTurn builds a turn-level request.
func ForTurn(conv *EvaluationData, idx int, metric string) EvaluationRequest {
	return EvaluationRequest{Conv: conv, Turn: &conv.Turns[idx], TurnIdx: idx, MetricIdentifier: metric}
}

// ForConversation builds a conversation-level request.
func ForConversation(conv *EvaluationData, metric string) EvaluationRequest {
	return EvaluationRequest{Conv: conv, TurnIdx: -1, MetricIdentifier: metric}
}

// IsConversation reports whether the request covers the whole conversation.
func (r EvaluationRequest) IsConversation() bool { return r.Turn == nil }

// TurnID returns the turn id, or "" for conversation-level requests.
func (r EvaluationRequest) TurnID() string {
	if r.Turn == nil {
		return ""
	}
	return r.Turn.TurnID
}

// Query returns the turn query, or "".
func (r EvaluationRequest) Query() string {
	if r.Turn == nil {
		return ""
	}
	return r.Turn.Query
}

// Response returns the turn response, or "".
func (r EvaluationRequest) Response() string {
	if r.Turn == nil {
		return ""
	}
	return r.Turn.Response
}
