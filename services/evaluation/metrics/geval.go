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
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"gopkg.in/yaml.v3"
)

// GEval evaluation parameters accepted in evaluation_params.
const (
	ParamInput            = "input"
	ParamActualOutput     = "actual_output"
	ParamExpectedOutput   = "expected_output"
	ParamContext          = "context"
	ParamRetrievalContext = "retrieval_context"
	ParamToolsCalled      = "tools_called"
	ParamExpectedTools    = "expected_tools"
)

var defaultGEvalParams = []string{ParamInput, ParamActualOutput}

var knownGEvalParams = map[string]bool{
	ParamInput:            true,
	ParamActualOutput:     true,
	ParamExpectedOutput:   true,
	ParamContext:          true,
	ParamRetrievalContext: true,
	ParamToolsCalled:      true,
	ParamExpectedTools:    true,
}

// GEvalHandler scores criteria-driven metrics ("geval:<name>").
//
// Description:
//
//	The definition is looked up in the turn metadata, then the
//	conversation metadata, then the registry. When a definition carries
//	no evaluation_steps the judge is asked to write them first. The steps
//	prompt depends only on the criteria, so the judge's answer cache reuses
//	generated steps across turns.
//
// Thread Safety: Safe for concurrent use.
type GEvalHandler struct {
	registry *Registry
	logger   *slog.Logger
}

// NewGEvalHandler creates the GEval handler.
func NewGEvalHandler(registry *Registry, logger *slog.Logger) *GEvalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GEvalHandler{registry: registry, logger: logger.With(slog.String("component", "geval"))}
}

// Framework implements Handler.
func (h *GEvalHandler) Framework() string { return datatypes.FrameworkGEval }

// Metrics implements Handler. Any name is accepted.
func (h *GEvalHandler) Metrics() []string { return nil }

// UsesJudge implements Handler.
func (h *GEvalHandler) UsesJudge(string) bool { return true }

// Evaluate implements Handler.
func (h *GEvalHandler) Evaluate(ctx context.Context, name string, req datatypes.EvaluationRequest, judge Judge) (Score, error) {
	if judge == nil {
		return Score{}, ErrNoJudge
	}
	def, err := h.definition(name, req)
	if err != nil {
		return Score{}, err
	}
	if strings.TrimSpace(def.Criteria) == "" {
		return Score{}, errors.New("GEval requires 'criteria' in configuration")
	}

	steps := def.EvaluationSteps
	if len(steps) == 0 {
		steps, err = h.generateSteps(ctx, def.Criteria, judge)
		if err != nil {
			return Score{}, fmt.Errorf("generate evaluation steps: %w", err)
		}
	}

	var prompt string
	if req.IsConversation() {
		prompt, err = prompts.render("geval_conversation", struct {
			Criteria string
			Steps    []string
			Turns    []promptTurn
		}{def.Criteria, steps, conversationTurns(req.Conv)})
	} else {
		prompt, err = prompts.render("geval_turn", struct {
			Criteria string
			Steps    []string
			Fields   []promptField
		}{def.Criteria, steps, h.turnFields(name, def.EvaluationParams, req.Turn)})
	}
	if err != nil {
		return Score{}, err
	}

	answer, err := judge.Complete(ctx, prompt)
	if err != nil {
		return Score{}, fmt.Errorf("GEval evaluation error: %w", err)
	}
	score, err := parseVerdict(answer, rubricScale)
	if err != nil {
		return Score{}, fmt.Errorf("GEval evaluation error: %w", err)
	}
	if score.Reason == "" {
		score.Reason = "No reason provided"
	}
	return score, nil
}

// definition resolves the GEval definition for name.
func (h *GEvalHandler) definition(name string, req datatypes.EvaluationRequest) (GEvalDefinition, error) {
	key := datatypes.FrameworkGEval + ":" + name

	if !req.IsConversation() {
		if meta, ok := req.Turn.TurnMetricsMetadata[key]; ok && meta != nil {
			return definitionFromMetadata(meta)
		}
	}
	if meta, ok := req.Conv.ConversationMetricsMetadata[key]; ok && meta != nil {
		return definitionFromMetadata(meta)
	}
	if def, ok := h.registry.Lookup(name); ok {
		return def, nil
	}

	h.logger.Warn("geval metric not found in metadata or registry",
		slog.String("metric", name),
		slog.Any("available", h.registry.Names()))
	return GEvalDefinition{}, fmt.Errorf("GEval configuration not found for metric '%s'", name)
}

func (h *GEvalHandler) generateSteps(ctx context.Context, criteria string, judge Judge) ([]string, error) {
	prompt, err := prompts.render("geval_steps", struct{ Criteria string }{criteria})
	if err != nil {
		return nil, err
	}
	answer, err := judge.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	steps := parseList(answer)
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: no steps in %q", ErrUnparsableVerdict, truncate(answer, 80))
	}
	return steps, nil
}

// turnFields renders the turn inputs selected by evaluation_params.
//
// Unknown parameter names make the whole list fall back to input and
// actual_output.
func (h *GEvalHandler) turnFields(metric string, params []string, turn *datatypes.TurnData) []promptField {
	selected := make([]string, 0, len(params))
	for _, p := range params {
		p = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(p), " ", "_"))
		if !knownGEvalParams[p] {
			h.logger.Debug("custom evaluation_param, using default parameters",
				slog.String("metric", metric), slog.String("param", p))
			selected = nil
			break
		}
		selected = append(selected, p)
	}
	if len(selected) == 0 {
		selected = defaultGEvalParams
	}

	fields := make([]promptField, 0, len(selected))
	for _, p := range selected {
		switch p {
		case ParamInput:
			fields = append(fields, promptField{"Input", turn.Query})
		case ParamActualOutput:
			fields = append(fields, promptField{"Actual output", turn.Response})
		case ParamExpectedOutput:
			fields = append(fields, promptField{"Expected output", turn.ExpectedResponse})
		case ParamContext, ParamRetrievalContext:
			label := "Context"
			if p == ParamRetrievalContext {
				label = "Retrieval context"
			}
			fields = append(fields, promptField{label, strings.Join(turn.Contexts, "\n---\n")})
		case ParamToolsCalled:
			fields = append(fields, promptField{"Tools called", renderToolCalls(turn.ToolCalls)})
		case ParamExpectedTools:
			fields = append(fields, promptField{"Expected tools", renderToolCalls(turn.ExpectedToolCalls)})
		}
	}
	return fields
}

func renderToolCalls(calls [][]datatypes.ToolCall) string {
	if len(calls) == 0 {
		return "(none)"
	}
	out, err := yaml.Marshal(calls)
	if err != nil {
		return fmt.Sprintf("%v", calls)
	}
	return strings.TrimSpace(string(out))
}

func conversationTurns(conv *datatypes.EvaluationData) []promptTurn {
	turns := make([]promptTurn, 0, len(conv.Turns))
	for _, t := range conv.Turns {
		turns = append(turns, promptTurn{Query: t.Query, Response: t.Response})
	}
	return turns
}
