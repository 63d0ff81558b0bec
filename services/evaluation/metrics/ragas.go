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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"gonum.org/v1/gonum/floats"
)

// Embedder turns texts into vectors.
//
// llm.Embedder satisfies this interface.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// relevancyQuestions is the number of questions generated from an answer
// for response_relevancy.
const relevancyQuestions = 3

// RagasHandler scores retrieval metrics.
//
// faithfulness, context_recall and context_precision ask the judge for
// per-statement verdicts. response_relevancy compares embeddings of the
// query and of questions generated from the response.
type RagasHandler struct {
	embedder Embedder
}

// NewRagasHandler creates the handler. embedder may be nil, in which case
// response_relevancy returns an error.
func NewRagasHandler(embedder Embedder) *RagasHandler {
	return &RagasHandler{embedder: embedder}
}

// Framework implements Handler.
func (h *RagasHandler) Framework() string { return datatypes.FrameworkRagas }

// Metrics implements Handler.
func (h *RagasHandler) Metrics() []string {
	return []string{"faithfulness", "context_recall", "context_precision", "response_relevancy"}
}

// UsesJudge implements Handler. response_relevancy uses the primary judge
// only to generate questions, so it is not scored by a panel.
func (h *RagasHandler) UsesJudge(name string) bool { return name != "response_relevancy" }

// Evaluate implements Handler.
func (h *RagasHandler) Evaluate(ctx context.Context, name string, req datatypes.EvaluationRequest, judge Judge) (Score, error) {
	if req.IsConversation() {
		return Score{}, fmt.Errorf("ragas:%s is a turn-level metric", name)
	}
	turn := req.Turn

	switch name {
	case "faithfulness":
		if err := requireFields(turn, "response", "contexts"); err != nil {
			return Score{}, err
		}
		return h.verdictScore(ctx, judge, "faithfulness", turn, meanVerdict)
	case "context_recall":
		if err := requireFields(turn, "contexts", "expected_response"); err != nil {
			return Score{}, err
		}
		return h.verdictScore(ctx, judge, "context_recall", turn, meanVerdict)
	case "context_precision":
		if err := requireFields(turn, "response", "contexts"); err != nil {
			return Score{}, err
		}
		return h.verdictScore(ctx, judge, "context_precision", turn, averagePrecision)
	case "response_relevancy":
		if err := requireFields(turn, "response"); err != nil {
			return Score{}, err
		}
		return h.responseRelevancy(ctx, judge, turn)
	}
	return Score{}, unknownMetric(datatypes.FrameworkRagas, name)
}

type statementVerdict struct {
	Statement string          `json:"statement"`
	Verdict   json.RawMessage `json:"verdict"`
	Reason    string          `json:"reason"`
}

func (h *RagasHandler) verdictScore(ctx context.Context, judge Judge, tmpl string, turn *datatypes.TurnData, combine func([]float64) float64) (Score, error) {
	if judge == nil {
		return Score{}, ErrNoJudge
	}
	prompt, err := prompts.render(tmpl, turn)
	if err != nil {
		return Score{}, err
	}
	answer, err := judge.Complete(ctx, prompt)
	if err != nil {
		return Score{}, fmt.Errorf("ragas %s: %w", tmpl, err)
	}

	verdicts, reason, err := parseStatementVerdicts(answer)
	if err != nil {
		return Score{}, fmt.Errorf("ragas %s: %w", tmpl, err)
	}
	value := combine(verdicts)
	if reason == "" {
		reason = fmt.Sprintf("%d of %d statements supported", countPositive(verdicts), len(verdicts))
	}
	return Score{Value: value, Reason: reason}, nil
}

// parseStatementVerdicts reads {"verdicts": [...], "reason": "..."}.
func parseStatementVerdicts(answer string) ([]float64, string, error) {
	obj, err := extractJSON(answer)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnparsableVerdict, err)
	}
	var parsed struct {
		Verdicts []statementVerdict `json:"verdicts"`
		Reason   string             `json:"reason"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnparsableVerdict, err)
	}
	if len(parsed.Verdicts) == 0 {
		return nil, "", fmt.Errorf("%w: no verdicts", ErrUnparsableVerdict)
	}

	out := make([]float64, 0, len(parsed.Verdicts))
	for _, v := range parsed.Verdicts {
		out = append(out, verdictValue(v.Verdict))
	}
	return out, strings.TrimSpace(parsed.Reason), nil
}

// verdictValue accepts 1/0, true/false and "yes"/"no".
func verdictValue(raw json.RawMessage) float64 {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return 1
		}
		return 0
	}
	if f, err := numberFromJSON(raw); err == nil {
		if f > 0 {
			return 1
		}
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "yes", "true", "supported":
			return 1
		}
	}
	return 0
}

func meanVerdict(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Sum(v) / float64(len(v))
}

// averagePrecision weights precision@k by the relevance of position k.
func averagePrecision(v []float64) float64 {
	relevant := floats.Sum(v)
	if relevant == 0 {
		return 0
	}
	var hits, sum float64
	for k, rel := range v {
		hits += rel
		sum += (hits / float64(k+1)) * rel
	}
	return sum / relevant
}

func countPositive(v []float64) int {
	n := 0
	for _, x := range v {
		if x > 0 {
			n++
		}
	}
	return n
}

func (h *RagasHandler) responseRelevancy(ctx context.Context, judge Judge, turn *datatypes.TurnData) (Score, error) {
	if h.embedder == nil {
		return Score{}, errors.New("ragas response_relevancy requires an embedding model")
	}

	// Without a judge the response itself stands in for the generated
	// questions.
	candidates := []string{turn.Response}
	if judge != nil {
		prompt, err := prompts.render("questions", struct {
			N        int
			Response string
		}{relevancyQuestions, turn.Response})
		if err != nil {
			return Score{}, err
		}
		answer, err := judge.Complete(ctx, prompt)
		if err != nil {
			return Score{}, fmt.Errorf("ragas response_relevancy: %w", err)
		}
		if qs := parseList(answer); len(qs) > 0 {
			candidates = qs
		}
	}

	vectors, err := h.embedder.Embed(ctx, append([]string{turn.Query}, candidates...))
	if err != nil {
		return Score{}, fmt.Errorf("ragas response_relevancy: embed: %w", err)
	}
	if len(vectors) != len(candidates)+1 {
		return Score{}, fmt.Errorf("ragas response_relevancy: got %d embeddings for %d texts", len(vectors), len(candidates)+1)
	}

	query := toFloat64(vectors[0])
	sims := make([]float64, 0, len(candidates))
	for _, v := range vectors[1:] {
		sims = append(sims, CosineSimilarity(query, toFloat64(v)))
	}
	value := normalize(floats.Sum(sims)/float64(len(sims)), 1)
	return Score{
		Value:  value,
		Reason: fmt.Sprintf("mean cosine similarity %.3f over %d generated questions", value, len(candidates)),
	}, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is a zero vector or the lengths differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// requireFields checks the turn carries the named fields.
func requireFields(turn *datatypes.TurnData, fields ...string) error {
	for _, f := range fields {
		missing := false
		switch f {
		case "response":
			missing = strings.TrimSpace(turn.Response) == ""
		case "contexts":
			missing = len(turn.Contexts) == 0
		case "expected_response":
			missing = strings.TrimSpace(turn.ExpectedResponse) == ""
		case "tool_calls":
			missing = len(turn.ToolCalls) == 0
		case "expected_tool_calls":
			missing = len(turn.ExpectedToolCalls) == 0
		case "verify_script":
			missing = strings.TrimSpace(turn.VerifyScript) == ""
		}
		if missing {
			return missingField(f)
		}
	}
	return nil
}
