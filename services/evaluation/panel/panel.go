// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package panel scores a metric with several judges and aggregates the
// results.
//
// A Panel is built from panel_of_judges. For every metric whose framework
// is listed in apply_to, each judge scores independently and in parallel;
// Aggregate turns the votes into one final row. Per-judge rows are added
// when output_individual_scores is set.
package panel

import (
	"context"
	"log/slog"
	"time"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/metrics"
	"golang.org/x/sync/errgroup"
)

// ScoreFunc scores one metric with one judge.
type ScoreFunc func(ctx context.Context, judge metrics.Judge) (metrics.Score, error)

// Panel is a configured set of judges.
//
// Thread Safety: Safe for concurrent use.
type Panel struct {
	cfg    config.PanelConfig
	judges []metrics.Judge
	logger *slog.Logger
}

// New creates a panel. judges must be in the order of cfg.Judges.
func New(cfg config.PanelConfig, judges []metrics.Judge, logger *slog.Logger) *Panel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Panel{cfg: cfg, judges: judges, logger: logger.With(slog.String("component", "panel"))}
}

// Size returns the number of judges.
func (p *Panel) Size() int { return len(p.judges) }

// AppliesTo reports whether framework is scored by the panel.
func (p *Panel) AppliesTo(framework string) bool {
	return p != nil && len(p.judges) > 0 && p.cfg.AppliesTo(framework)
}

// Collect runs score with every judge in parallel and returns the votes in
// judge order. A failing judge does not stop the others.
func (p *Panel) Collect(ctx context.Context, score ScoreFunc) []Vote {
	votes := make([]Vote, len(p.judges))
	var g errgroup.Group
	for i, judge := range p.judges {
		g.Go(func() error {
			start := time.Now()
			s, err := score(ctx, judge)
			votes[i] = Vote{
				JudgeID: judge.ID(),
				Score:   s.Value,
				Reason:  s.Reason,
				Err:     err,
				Elapsed: time.Since(start),
			}
			if err != nil {
				p.logger.Warn("judge failed",
					slog.String("judge", judge.ID()),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()
	return votes
}

// Evaluate collects votes and builds the result rows for req.
//
// Outputs:
//
//	[]datatypes.EvaluationResult - The aggregate row first, followed by one
//	row per judge when output_individual_scores is set.
func (p *Panel) Evaluate(ctx context.Context, req datatypes.EvaluationRequest, threshold *float64, score ScoreFunc) []datatypes.EvaluationResult {
	start := time.Now()
	votes := p.Collect(ctx, score)
	outcome := Aggregate(p.cfg.AggregationMethod, p.cfg.JudgeWeights, votes, threshold)
	return Rows(req, threshold, outcome, votes, time.Since(start), p.cfg.OutputIndividualScores)
}

// Rows converts an outcome and its votes into report rows.
func Rows(req datatypes.EvaluationRequest, threshold *float64, outcome Outcome, votes []Vote, elapsed time.Duration, individual bool) []datatypes.EvaluationResult {
	rows := make([]datatypes.EvaluationResult, 0, 1+len(votes))

	if outcome.Score == nil {
		rows = append(rows, datatypes.NewErrorResult(req, "", outcome.Reason, elapsed))
	} else {
		row := datatypes.NewScoredResult(req, "", *outcome.Score, threshold, outcome.Reason, elapsed)
		row.Result = outcome.Status
		rows = append(rows, row)
	}

	if !individual {
		return rows
	}
	for _, v := range votes {
		if !v.OK() {
			rows = append(rows, datatypes.NewErrorResult(req, v.JudgeID, v.Err.Error(), v.Elapsed))
			continue
		}
		rows = append(rows, datatypes.NewScoredResult(req, v.JudgeID, v.Score, threshold, v.Reason, v.Elapsed))
	}
	return rows
}
