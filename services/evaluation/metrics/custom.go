// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
)

// CustomHandler scores answer_correctness with a judge and tool_eval
// deterministically.
type CustomHandler struct{}

// NewCustomHandler creates the handler.
func NewCustomHandler() *CustomHandler { return &CustomHandler{} }

// Framework implements Handler.
func (h *CustomHandler) Framework() string { return datatypes.FrameworkCustom }

// Metrics implements Handler.
func (h *CustomHandler) Metrics() []string { return []string{"answer_correctness", "tool_eval"} }

// UsesJudge implements Handler.
func (h *CustomHandler) UsesJudge(name string) bool { return name == "answer_correctness" }

// Evaluate implements Handler.
func (h *CustomHandler) Evaluate(ctx context.Context, name string, req datatypes.EvaluationRequest, judge Judge) (Score, error) {
	if req.IsConversation() {
		return Score{}, fmt.Errorf("custom:%s is a turn-level metric", name)
	}
	switch name {
	case "answer_correctness":
		return h.answerCorrectness(ctx, req.Turn, judge)
	case "tool_eval":
		if err := requireFields(req.Turn, "expected_tool_calls"); err != nil {
			return Score{}, err
		}
		return EvaluateToolCalls(req.Turn.ExpectedToolCalls, req.Turn.ToolCalls), nil
	}
	return Score{}, unknownMetric(datatypes.FrameworkCustom, name)
}

func (h *CustomHandler) answerCorrectness(ctx context.Context, turn *datatypes.TurnData, judge Judge) (Score, error) {
	if judge == nil {
		return Score{}, ErrNoJudge
	}
	if err := requireFields(turn, "response", "expected_response"); err != nil {
		return Score{}, err
	}
	prompt, err := prompts.render("answer_correctness", turn)
	if err != nil {
		return Score{}, err
	}
	answer, err := judge.Complete(ctx, prompt)
	if err != nil {
		return Score{}, fmt.Errorf("answer correctness: %w", err)
	}
	score, err := parseVerdict(answer, rubricScale)
	if err != nil {
		return Score{}, fmt.Errorf("answer correctness: %w", err)
	}
	return score, nil
}

// =============================================================================
// Tool call comparison
// =============================================================================

// EvaluateToolCalls compares actual tool call sequences with the expected
// ones, in order.
//
// Description:
//
//	The result is 1.0 when both have the same number of sequences and every
//	sequence matches call by call, otherwise 0.0. Calls match when the tool
//	names are equal and both carry the same argument keys. A string
//	expected value is a regular expression that must match the whole
//	actual value; an invalid pattern is compared literally. Other values
//	must be equal.
//
// Inputs:
//
//	expected - Expected sequences from the evaluation data.
//	actual - Sequences the assistant made.
//
// Outputs:
//
//	Score - 1.0 or 0.0 with the first mismatch as reason.
func EvaluateToolCalls(expected, actual [][]datatypes.ToolCall) Score {
	if len(actual) == 0 {
		return Score{Value: 0, Reason: "No actual tool calls made"}
	}
	if len(expected) != len(actual) {
		return Score{Value: 0, Reason: fmt.Sprintf("Tool call count mismatch: expected %d sequences, got %d", len(expected), len(actual))}
	}
	for i := range expected {
		if reason, ok := compareSequence(expected[i], actual[i]); !ok {
			return Score{Value: 0, Reason: fmt.Sprintf("Sequence %d: %s", i+1, reason)}
		}
	}
	return Score{Value: 1, Reason: "Tool calls match expected structure and arguments"}
}

func compareSequence(expected, actual []datatypes.ToolCall) (string, bool) {
	if len(expected) != len(actual) {
		return fmt.Sprintf("expected %d calls, got %d", len(expected), len(actual)), false
	}
	for j := range expected {
		e, a := expected[j], actual[j]
		if e.ToolName != a.ToolName {
			return fmt.Sprintf("call %d: tool name %q does not match expected %q", j+1, a.ToolName, e.ToolName), false
		}
		if reason, ok := compareArguments(e.Arguments, a.Arguments); !ok {
			return fmt.Sprintf("call %d (%s): %s", j+1, e.ToolName, reason), false
		}
	}
	return "", true
}

func compareArguments(expected, actual map[string]any) (string, bool) {
	for _, key := range sortedKeys(expected) {
		got, ok := actual[key]
		if !ok {
			return fmt.Sprintf("missing argument %q", key), false
		}
		if !argumentMatches(expected[key], got) {
			return fmt.Sprintf("argument %q value %v does not match expected %v", key, got, expected[key]), false
		}
	}
	for _, key := range sortedKeys(actual) {
		if _, ok := expected[key]; !ok {
			return fmt.Sprintf("unexpected argument %q", key), false
		}
	}
	return "", true
}

func argumentMatches(expected, actual any) bool {
	pattern, ok := expected.(string)
	if !ok {
		return reflect.DeepEqual(normalizeNumber(expected), normalizeNumber(actual)) ||
			fmt.Sprint(expected) == fmt.Sprint(actual)
	}
	actualStr := fmt.Sprint(actual)
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return pattern == actualStr
	}
	return re.MatchString(actualStr)
}

// normalizeNumber maps YAML integers and JSON floats to float64 so 3 and
// 3.0 compare equal.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
