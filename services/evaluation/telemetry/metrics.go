// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments recorded during an evaluation run.
//
// A nil *Metrics is valid; every Record method is then a no-op.
type Metrics struct {
	// Judge LLM calls
	JudgeCallsTotal    metric.Int64Counter
	JudgeCallDuration  metric.Float64Histogram
	JudgeCacheHitTotal metric.Int64Counter

	// Lightspeed API calls
	APIRequestsTotal   metric.Int64Counter
	APIRequestDuration metric.Float64Histogram

	// Results
	EvaluationsTotal metric.Int64Counter
}

// NewMetrics creates the instruments from meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.JudgeCallsTotal, err = meter.Int64Counter(
		"lseval_judge_calls_total",
		metric.WithDescription("Judge LLM calls by judge and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create judge_calls_total: %w", err)
	}

	m.JudgeCallDuration, err = meter.Float64Histogram(
		"lseval_judge_call_duration_seconds",
		metric.WithDescription("Judge LLM call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create judge_call_duration: %w", err)
	}

	m.JudgeCacheHitTotal, err = meter.Int64Counter(
		"lseval_judge_cache_hits_total",
		metric.WithDescription("Judge prompts answered from the cache"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create judge_cache_hits_total: %w", err)
	}

	m.APIRequestsTotal, err = meter.Int64Counter(
		"lseval_api_requests_total",
		metric.WithDescription("Lightspeed API requests by endpoint and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create api_requests_total: %w", err)
	}

	m.APIRequestDuration, err = meter.Float64Histogram(
		"lseval_api_request_duration_seconds",
		metric.WithDescription("Lightspeed API request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create api_request_duration: %w", err)
	}

	m.EvaluationsTotal, err = meter.Int64Counter(
		"lseval_evaluations_total",
		metric.WithDescription("Evaluation results by metric and status"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create evaluations_total: %w", err)
	}

	return m, nil
}

// RecordJudgeCall records one judge call. outcome is "ok", "error" or "cached".
func (m *Metrics) RecordJudgeCall(ctx context.Context, judge, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("judge", judge), attribute.String("outcome", outcome))
	if outcome == "cached" {
		m.JudgeCacheHitTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("judge", judge)))
	}
	m.JudgeCallsTotal.Add(ctx, 1, attrs)
	m.JudgeCallDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordAPIRequest records one Lightspeed API request.
func (m *Metrics) RecordAPIRequest(ctx context.Context, endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("endpoint", endpoint), attribute.String("outcome", outcome))
	m.APIRequestsTotal.Add(ctx, 1, attrs)
	m.APIRequestDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordEvaluation records one result row.
func (m *Metrics) RecordEvaluation(ctx context.Context, metricID, status string) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("metric", metricID),
		attribute.String("result", status),
	))
}
