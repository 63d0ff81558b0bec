// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package output

import (
	"testing"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func row(conv, turn, metric, judge string, status datatypes.Status, score *float64) datatypes.EvaluationResult {
	return datatypes.EvaluationResult{
		ConversationGroupID: conv,
		TurnID:              turn,
		MetricIdentifier:    metric,
		JudgeID:             judge,
		Result:              status,
		Score:               score,
		Threshold:           f(0.5),
		Reason:              "because",
		Query:               "q",
		Response:            "r",
		ExecutionTime:       1.23456,
	}
}

func sampleResults() []datatypes.EvaluationResult {
	return []datatypes.EvaluationResult{
		row("c1", "1", "ragas:faithfulness", "", datatypes.StatusPass, f(0.9)),
		row("c1", "2", "ragas:faithfulness", "", datatypes.StatusFail, f(0.3)),
		row("c1", "", "deepeval:knowledge_retention", "", datatypes.StatusError, nil),
		row("c2", "1", "ragas:faithfulness", "", datatypes.StatusPass, f(0.6)),
		row("c2", "1", "geval:accuracy", "", datatypes.StatusPass, f(0.8)),
		// Per-judge rows never count.
		row("c2", "1", "geval:accuracy", "judge_a", datatypes.StatusPass, f(1.0)),
		row("c2", "1", "geval:accuracy", "judge_b", datatypes.StatusFail, f(0.2)),
	}
}

func TestComputeStats_Overall(t *testing.T) {
	s := ComputeStats(sampleResults())

	assert.Equal(t, OverallStats{
		Total:     5,
		Pass:      3,
		Fail:      1,
		Error:     1,
		PassRate:  60,
		FailRate:  20,
		ErrorRate: 20,
	}, s.Overall)
}

func TestComputeStats_ByMetric(t *testing.T) {
	s := ComputeStats(sampleResults())

	require.Equal(t, []string{"deepeval:knowledge_retention", "geval:accuracy", "ragas:faithfulness"}, SortedKeys(s.ByMetric))

	faith := s.ByMetric["ragas:faithfulness"]
	assert.Equal(t, 2, faith.Pass)
	assert.Equal(t, 1, faith.Fail)
	assert.InDelta(t, 66.666, faith.PassRate, 0.01)
	require.NotNil(t, faith.ScoreStatistics)
	assert.InDelta(t, 0.6, faith.ScoreStatistics.Mean, 1e-9)
	assert.InDelta(t, 0.6, faith.ScoreStatistics.Median, 1e-9)
	assert.InDelta(t, 0.3, faith.ScoreStatistics.Std, 1e-9)
	assert.InDelta(t, 0.3, faith.ScoreStatistics.Min, 1e-9)
	assert.InDelta(t, 0.9, faith.ScoreStatistics.Max, 1e-9)
	assert.Equal(t, 3, faith.ScoreStatistics.Count)

	geval := s.ByMetric["geval:accuracy"]
	assert.Equal(t, 1, geval.Total())
	assert.Zero(t, geval.ScoreStatistics.Std)

	retention := s.ByMetric["deepeval:knowledge_retention"]
	assert.Equal(t, 1, retention.Error)
	assert.Nil(t, retention.ScoreStatistics)
}

func TestComputeStats_ByConversation(t *testing.T) {
	s := ComputeStats(sampleResults())

	c1 := s.ByConversation["c1"]
	assert.Equal(t, 3, c1.Total())
	assert.InDelta(t, 100.0/3, c1.ErrorRate, 1e-9)

	c2 := s.ByConversation["c2"]
	assert.Equal(t, 2, c2.Pass)
	assert.InDelta(t, 0.7, c2.ScoreStatistics.Median, 1e-9)
}

func TestComputeStats_Empty(t *testing.T) {
	s := ComputeStats(nil)
	assert.Zero(t, s.Overall.Total)
	assert.Zero(t, s.Overall.PassRate)
	assert.Empty(t, s.ByMetric)
}

func TestMedian(t *testing.T) {
	assert.InDelta(t, 2.0, median([]float64{1, 2, 3}), 1e-9)
	assert.InDelta(t, 2.5, median([]float64{1, 2, 3, 4}), 1e-9)
}
