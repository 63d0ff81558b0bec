// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/api"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/metrics"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/script"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Querier sends one turn to the Lightspeed API.
//
// *api.Client satisfies this interface.
type Querier interface {
	Query(ctx context.Context, query, conversationID string, attachments []string) (*api.Response, error)
}

// MetricEvaluator scores one metric request.
//
// *Evaluator satisfies this interface.
type MetricEvaluator interface {
	EvaluateMetric(ctx context.Context, req datatypes.EvaluationRequest) []datatypes.EvaluationResult
}

// Processor evaluates one conversation group at a time.
//
// Description:
//
//	For each conversation the processor runs the setup script, sends the
//	turns to the API in order (when a Querier is set), scores every turn
//	metric right after its turn is amended, then scores the conversation
//	metrics and finally runs the cleanup script.
//
// Thread Safety: Safe for concurrent use on distinct conversations.
type Processor struct {
	evaluator MetricEvaluator
	manager   *metrics.Manager
	api       Querier
	scripts   script.Executor
	logger    *slog.Logger
}

// NewProcessor creates a processor. querier is nil when the API is
// disabled; scripts may be nil when no conversation uses scripts.
func NewProcessor(evaluator MetricEvaluator, manager *metrics.Manager, querier Querier, scripts script.Executor, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		evaluator: evaluator,
		manager:   manager,
		api:       querier,
		scripts:   scripts,
		logger:    logger.With(slog.String("component", "processor")),
	}
}

// Process evaluates conv and returns its result rows.
//
// Description:
//
//	conv is amended in place with API responses. Failures never abort the
//	run; they become ERROR rows:
//	  - failing setup script: every metric of the conversation;
//	  - failing API call: the failing turn, every later turn and the
//	    conversation metrics;
//	  - cancelled context: everything not yet evaluated.
//	A failing cleanup script only logs a warning.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	conv - The conversation group. Modified in place.
//
// Outputs:
//
//	[]datatypes.EvaluationResult - Turn rows in turn order, then conversation rows.
func (p *Processor) Process(ctx context.Context, conv *datatypes.EvaluationData) []datatypes.EvaluationResult {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Processor.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation", conv.ConversationGroupID),
		attribute.Int("turns", len(conv.Turns)),
	)

	logger := p.logger.With(slog.String("conversation", conv.ConversationGroupID))

	turnMetrics := make([][]string, len(conv.Turns))
	total := 0
	for i := range conv.Turns {
		turnMetrics[i] = p.manager.TurnMetrics(&conv.Turns[i])
		total += len(turnMetrics[i])
	}
	convMetrics := p.manager.ConversationMetrics(conv)
	total += len(convMetrics)
	if total == 0 {
		logger.Debug("no metrics configured, skipping conversation")
		return nil
	}

	var results []datatypes.EvaluationResult

	if p.api != nil && conv.SetupScript != "" {
		if err := p.runScript(ctx, conv.SetupScript); err != nil {
			logger.Error("setup script failed", slog.String("script", conv.SetupScript), slog.String("error", err.Error()))
			telemetry.RecordError(span, err)
			return cascadeErrors(conv, turnMetrics, convMetrics, 0, "Setup script failed: "+err.Error())
		}
		logger.Debug("setup script completed", slog.String("script", conv.SetupScript))
	}
	if p.api != nil && conv.CleanupScript != "" {
		defer func() {
			// Cleanup runs even when the evaluation was cancelled.
			if err := p.runScript(context.WithoutCancel(ctx), conv.CleanupScript); err != nil {
				logger.Warn("cleanup script failed", slog.String("script", conv.CleanupScript), slog.String("error", err.Error()))
			}
		}()
	}

	conversationID := ""
	for i := range conv.Turns {
		if err := ctx.Err(); err != nil {
			return append(results, cascadeErrors(conv, turnMetrics, convMetrics, i, "Evaluation cancelled: "+err.Error())...)
		}

		turn := &conv.Turns[i]
		if p.api != nil {
			resp, err := p.api.Query(ctx, turn.Query, conversationID, turn.Attachments)
			if err != nil {
				logger.Error("api call failed",
					slog.String("turn", turn.TurnID),
					slog.String("error", err.Error()))
				telemetry.RecordError(span, err)
				return append(results, cascadeErrors(conv, turnMetrics, convMetrics, i, "API Error: "+err.Error())...)
			}
			amendTurn(turn, resp)
			conversationID = resp.ConversationID
		}

		for _, metric := range turnMetrics[i] {
			results = append(results, p.evaluator.EvaluateMetric(ctx, datatypes.ForTurn(conv, i, metric))...)
		}
	}

	if err := ctx.Err(); err != nil {
		return append(results, cascadeErrors(conv, nil, convMetrics, 0, "Evaluation cancelled: "+err.Error())...)
	}
	for _, metric := range convMetrics {
		results = append(results, p.evaluator.EvaluateMetric(ctx, datatypes.ForConversation(conv, metric))...)
	}

	logger.Debug("conversation evaluated", slog.Int("results", len(results)))
	telemetry.SetSpanOK(span)
	return results
}

func (p *Processor) runScript(ctx context.Context, path string) error {
	if p.scripts == nil {
		return fmt.Errorf("no script executor configured for %s", path)
	}
	res, err := p.scripts.Run(ctx, path)
	if err != nil {
		if res.Output != "" {
			return fmt.Errorf("%w: %s", err, res.Output)
		}
		return err
	}
	return nil
}

// amendTurn copies the API answer into turn. Tool calls and contexts are
// only replaced when the API returned some.
func amendTurn(turn *datatypes.TurnData, resp *api.Response) {
	turn.Response = resp.Response
	turn.ConversationID = resp.ConversationID
	if len(resp.ToolCalls) > 0 {
		turn.ToolCalls = resp.ToolCalls
	}
	if len(resp.Contexts) > 0 {
		turn.Contexts = resp.Contexts
	}
}

// cascadeErrors builds ERROR rows for every turn metric from turn index
// `from` onwards plus every conversation metric.
func cascadeErrors(conv *datatypes.EvaluationData, turnMetrics [][]string, convMetrics []string, from int, reason string) []datatypes.EvaluationResult {
	var out []datatypes.EvaluationResult
	for i := from; i < len(turnMetrics); i++ {
		for _, metric := range turnMetrics[i] {
			out = append(out, datatypes.NewErrorResult(datatypes.ForTurn(conv, i, metric), "", reason, 0))
		}
	}
	for _, metric := range convMetrics {
		out = append(out, datatypes.NewErrorResult(datatypes.ForConversation(conv, metric), "", reason, 0))
	}
	return out
}

// ResolveScriptPaths makes relative script paths absolute against dir, the
// directory of the evaluation data file.
func ResolveScriptPaths(data []datatypes.EvaluationData, dir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	for i := range data {
		data[i].SetupScript = resolve(data[i].SetupScript)
		data[i].CleanupScript = resolve(data[i].CleanupScript)
		for j := range data[i].Turns {
			data[i].Turns[j].VerifyScript = resolve(data[i].Turns[j].VerifyScript)
		}
	}
}
