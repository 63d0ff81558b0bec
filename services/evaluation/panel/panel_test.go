// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package panel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type namedJudge string

func (j namedJudge) ID() string { return string(j) }

func (j namedJudge) Complete(context.Context, string) (string, error) { return "", nil }

func ptr(v float64) *float64 { return &v }

func votes(scores ...float64) []Vote {
	out := make([]Vote, len(scores))
	for i, s := range scores {
		out[i] = Vote{JudgeID: string(rune('a' + i)), Score: s}
	}
	return out
}

// -----------------------------------------------------------------------------
// Aggregate
// -----------------------------------------------------------------------------

func TestAggregate(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		weights    map[string]float64
		votes      []Vote
		threshold  *float64
		wantScore  float64
		wantStatus datatypes.Status
	}{
		{"mean pass", config.AggregationMean, nil, votes(0.4, 0.8, 0.9), nil, 0.7, datatypes.StatusPass},
		{"mean below threshold", config.AggregationMean, nil, votes(0.4, 0.8, 0.9), ptr(0.75), 0.7, datatypes.StatusFail},
		{"median odd", config.AggregationMedian, nil, votes(0.1, 0.9, 0.6), nil, 0.6, datatypes.StatusPass},
		{"median even", config.AggregationMedian, nil, votes(0.2, 0.4, 0.6, 1.0), nil, 0.5, datatypes.StatusPass},
		{"weighted", config.AggregationWeightedMean, map[string]float64{"a": 3}, votes(1.0, 0.0), nil, 0.75, datatypes.StatusPass},
		{"weighted all zero", config.AggregationWeightedMean, map[string]float64{"a": 0, "b": 0}, votes(1.0, 0.0), nil, 0.5, datatypes.StatusPass},
		{"majority pass", config.AggregationMajorityVote, nil, votes(0.9, 0.6, 0.1), nil, 2.0 / 3, datatypes.StatusPass},
		{"majority tie fails", config.AggregationMajorityVote, nil, votes(0.9, 0.1), nil, 0.5, datatypes.StatusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate(tt.method, tt.weights, tt.votes, tt.threshold)
			require.NotNil(t, got.Score)
			assert.InDelta(t, tt.wantScore, *got.Score, 1e-9)
			assert.Equal(t, tt.wantStatus, got.Status)
		})
	}
}

func TestAggregate_IgnoresFailedJudges(t *testing.T) {
	vs := []Vote{
		{JudgeID: "a", Score: 0.8},
		{JudgeID: "b", Err: errors.New("timeout")},
	}
	got := Aggregate(config.AggregationMean, nil, vs, nil)
	require.NotNil(t, got.Score)
	assert.InDelta(t, 0.8, *got.Score, 1e-9)
	assert.Contains(t, got.Reason, "a=0.80")
	assert.Contains(t, got.Reason, "b: timeout")
}

func TestAggregate_AllFailed(t *testing.T) {
	vs := []Vote{
		{JudgeID: "a", Err: errors.New("boom")},
		{JudgeID: "b", Err: errors.New("bust")},
	}
	got := Aggregate(config.AggregationMean, nil, vs, nil)
	assert.Nil(t, got.Score)
	assert.Equal(t, datatypes.StatusError, got.Status)
	assert.Equal(t, "All judges failed: a: boom; b: bust", got.Reason)
}

// -----------------------------------------------------------------------------
// Panel
// -----------------------------------------------------------------------------

func testRequest() datatypes.EvaluationRequest {
	conv := &datatypes.EvaluationData{
		ConversationGroupID: "conv",
		Turns:               []datatypes.TurnData{{TurnID: "t1", Query: "q", Response: "r"}},
	}
	return datatypes.ForTurn(conv, 0, "geval:accuracy")
}

func TestPanel_EvaluateRunsJudgesInParallel(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := config.PanelConfig{
		Enabled:                true,
		ApplyTo:                []string{"geval"},
		AggregationMethod:      config.AggregationMean,
		OutputIndividualScores: true,
	}
	p := New(cfg, []metrics.Judge{namedJudge("j1"), namedJudge("j2"), namedJudge("j3")}, nil)
	assert.True(t, p.AppliesTo("geval"))
	assert.False(t, p.AppliesTo("ragas"))

	var running, peak atomic.Int32
	release := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	rows := p.Evaluate(context.Background(), testRequest(), nil, func(ctx context.Context, j metrics.Judge) (metrics.Score, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		if j.ID() == "j3" {
			return metrics.Score{}, errors.New("refused")
		}
		return metrics.Score{Value: 0.6, Reason: "fine"}, nil
	})

	assert.Equal(t, int32(3), peak.Load())
	require.Len(t, rows, 4)

	assert.Equal(t, "", rows[0].JudgeID)
	assert.Equal(t, datatypes.StatusPass, rows[0].Result)
	assert.InDelta(t, 0.6, *rows[0].Score, 1e-9)

	assert.Equal(t, "j1", rows[1].JudgeID)
	assert.Equal(t, "fine", rows[1].Reason)
	assert.Equal(t, "j3", rows[3].JudgeID)
	assert.Equal(t, datatypes.StatusError, rows[3].Result)
	assert.Nil(t, rows[3].Score)
}

func TestPanel_AggregateRowOnly(t *testing.T) {
	cfg := config.PanelConfig{Enabled: true, ApplyTo: []string{"geval"}, AggregationMethod: config.AggregationMajorityVote}
	p := New(cfg, []metrics.Judge{namedJudge("j1"), namedJudge("j2")}, nil)

	rows := p.Evaluate(context.Background(), testRequest(), ptr(0.7), func(ctx context.Context, j metrics.Judge) (metrics.Score, error) {
		return metrics.Score{Value: 0.9}, nil
	})
	require.Len(t, rows, 1)
	assert.Equal(t, datatypes.StatusPass, rows[0].Result)
	assert.Equal(t, ptr(0.7), rows[0].Threshold)
	assert.InDelta(t, 1.0, *rows[0].Score, 1e-9)
}

func TestPanel_NilOrEmptyNeverApplies(t *testing.T) {
	var p *Panel
	assert.False(t, p.AppliesTo("geval"))

	empty := New(config.PanelConfig{Enabled: true, ApplyTo: []string{"geval"}}, nil, nil)
	assert.False(t, empty.AppliesTo("geval"))
}
