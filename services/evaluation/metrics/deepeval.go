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

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
)

// deepevalTemplates maps each conversation rubric to its prompt.
var deepevalTemplates = map[string]string{
	"conversation_completeness": "completeness",
	"conversation_relevancy":    "relevancy",
	"knowledge_retention":       "retention",
}

// DeepEvalHandler scores conversation-level rubric metrics.
type DeepEvalHandler struct{}

// NewDeepEvalHandler creates the DeepEval handler.
func NewDeepEvalHandler() *DeepEvalHandler { return &DeepEvalHandler{} }

// Framework implements Handler.
func (h *DeepEvalHandler) Framework() string { return datatypes.FrameworkDeepEval }

// Metrics implements Handler.
func (h *DeepEvalHandler) Metrics() []string {
	return []string{"conversation_completeness", "conversation_relevancy", "knowledge_retention"}
}

// UsesJudge implements Handler.
func (h *DeepEvalHandler) UsesJudge(string) bool { return true }

// Evaluate implements Handler.
func (h *DeepEvalHandler) Evaluate(ctx context.Context, name string, req datatypes.EvaluationRequest, judge Judge) (Score, error) {
	tmpl, ok := deepevalTemplates[name]
	if !ok {
		return Score{}, unknownMetric(datatypes.FrameworkDeepEval, name)
	}
	if !req.IsConversation() {
		return Score{}, fmt.Errorf("deepeval:%s is a conversation-level metric", name)
	}
	if judge == nil {
		return Score{}, ErrNoJudge
	}

	prompt, err := prompts.render(tmpl, struct{ Turns []promptTurn }{conversationTurns(req.Conv)})
	if err != nil {
		return Score{}, err
	}
	answer, err := judge.Complete(ctx, prompt)
	if err != nil {
		return Score{}, fmt.Errorf("DeepEval %s evaluation failed: %w", name, err)
	}
	score, err := parseVerdict(answer, rubricScale)
	if err != nil {
		return Score{}, fmt.Errorf("DeepEval %s evaluation failed: %w", name, err)
	}
	return score, nil
}
