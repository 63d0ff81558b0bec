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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/metrics"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/panel"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "lseval.pipeline"

// Evaluator scores one metric request.
//
// Thread Safety: Safe for concurrent use.
type Evaluator struct {
	handlers   *metrics.Handlers
	manager    *metrics.Manager
	primary    metrics.Judge
	panel      *panel.Panel
	apiEnabled bool
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// EvaluatorConfig holds the Evaluator dependencies.
type EvaluatorConfig struct {
	Handlers *metrics.Handlers
	Manager  *metrics.Manager

	// Primary scores every LLM metric not covered by the panel.
	Primary metrics.Judge

	// Panel may be nil.
	Panel *panel.Panel

	// APIEnabled controls whether script metrics run.
	APIEnabled bool

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		handlers:   cfg.Handlers,
		manager:    cfg.Manager,
		primary:    cfg.Primary,
		panel:      cfg.Panel,
		apiEnabled: cfg.APIEnabled,
		metrics:    cfg.Metrics,
		logger:     logger.With(slog.String("component", "evaluator")),
	}
}

// EvaluateMetric scores req and returns its result rows.
//
// Description:
//
//	Script metrics are skipped (nil result) when the API is disabled.
//	Unsupported frameworks and handler errors become ERROR rows. Metrics
//	whose framework is in panel_of_judges.apply_to and that use a judge
//	are scored by the panel; everything else runs once with the primary
//	judge and yields a single row with an empty judge id.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	req - The metric, conversation and (for turn metrics) turn.
//
// Outputs:
//
//	[]datatypes.EvaluationResult - Rows for the report; nil when skipped.
func (e *Evaluator) EvaluateMetric(ctx context.Context, req datatypes.EvaluationRequest) []datatypes.EvaluationResult {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Evaluator.EvaluateMetric")
	defer span.End()
	span.SetAttributes(
		attribute.String("metric", req.MetricIdentifier),
		attribute.String("conversation", req.Conv.ConversationGroupID),
		attribute.String("turn", req.TurnID()),
	)

	start := time.Now()
	if req.IsConversation() {
		e.logger.Debug("evaluating", slog.String("conversation", req.Conv.ConversationGroupID), slog.String("metric", req.MetricIdentifier))
	} else {
		e.logger.Debug("evaluating", slog.String("turn", req.TurnID()), slog.String("metric", req.MetricIdentifier))
	}

	handler, name, err := e.handlers.Lookup(req.MetricIdentifier)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, metrics.ErrUnsupportedFramework) {
			framework, _, _ := datatypes.ParseMetricIdentifier(req.MetricIdentifier)
			reason = "Unsupported framework: " + framework
		}
		return e.record(ctx, []datatypes.EvaluationResult{datatypes.NewErrorResult(req, "", reason, time.Since(start))})
	}

	if handler.Framework() == datatypes.FrameworkScript && !e.apiEnabled {
		e.logger.Debug("skipping script metric, api disabled", slog.String("metric", req.MetricIdentifier))
		return nil
	}

	threshold := e.manager.EffectiveThreshold(req)

	if handler.UsesJudge(name) && e.panel.AppliesTo(handler.Framework()) {
		rows := e.panel.Evaluate(ctx, req, threshold, func(ctx context.Context, judge metrics.Judge) (metrics.Score, error) {
			return e.evaluateSafely(ctx, handler, name, req, judge)
		})
		return e.record(ctx, rows)
	}

	score, err := e.evaluateSafely(ctx, handler, name, req, e.primary)
	elapsed := time.Since(start)
	if err != nil {
		telemetry.RecordError(span, err)
		return e.record(ctx, []datatypes.EvaluationResult{datatypes.NewErrorResult(req, "", err.Error(), elapsed)})
	}
	return e.record(ctx, []datatypes.EvaluationResult{datatypes.NewScoredResult(req, "", score.Value, threshold, score.Reason, elapsed)})
}

// evaluateSafely scores req with judge and turns a handler panic into an
// error so one broken metric cannot take down the worker pool.
func (e *Evaluator) evaluateSafely(ctx context.Context, h metrics.Handler, name string, req datatypes.EvaluationRequest, judge metrics.Judge) (score metrics.Score, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("metric handler panicked", slog.String("metric", req.MetricIdentifier), slog.Any("panic", r))
			err = fmt.Errorf("Evaluation error: %v", r)
		}
	}()
	return h.Evaluate(ctx, name, req, judge)
}

func (e *Evaluator) record(ctx context.Context, rows []datatypes.EvaluationResult) []datatypes.EvaluationResult {
	for _, r := range rows {
		if r.IsAggregate() {
			e.metrics.RecordEvaluation(ctx, r.MetricIdentifier, string(r.Result))
		}
	}
	return rows
}
