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
	"sync"
	"testing"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/metrics"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/panel"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Test doubles
// -----------------------------------------------------------------------------

type fakeJudge struct {
	id     string
	answer string
	err    error

	mu    sync.Mutex
	calls int
}

func (f *fakeJudge) ID() string { return f.id }

func (f *fakeJudge) Complete(context.Context, string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.answer, f.err
}

func (f *fakeJudge) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type panickingHandler struct{}

func (panickingHandler) Framework() string { return "custom" }

func (panickingHandler) Metrics() []string { return []string{"boom"} }

func (panickingHandler) UsesJudge(string) bool { return false }

func (panickingHandler) Evaluate(context.Context, string, datatypes.EvaluationRequest, metrics.Judge) (metrics.Score, error) {
	panic("handler exploded")
}

// flakyJudgeHandler panics for judge "a" and scores 0.9 for any other.
type flakyJudgeHandler struct{ panickingHandler }

func (flakyJudgeHandler) UsesJudge(string) bool { return true }

func (flakyJudgeHandler) Evaluate(_ context.Context, _ string, _ datatypes.EvaluationRequest, judge metrics.Judge) (metrics.Score, error) {
	if judge.ID() == "a" {
		panic("judge a exploded")
	}
	return metrics.Score{Value: 0.9, Reason: "fine"}, nil
}

func sampleConversation() *datatypes.EvaluationData {
	return &datatypes.EvaluationData{
		ConversationGroupID: "conv-1",
		Turns: []datatypes.TurnData{
			{
				TurnID:           "t1",
				Query:            "How do I list open ports?",
				Response:         "Run ss -tulpn.",
				ExpectedResponse: "Use ss -tulpn or netstat.",
				VerifyScript:     "/bin/true",
			},
		},
	}
}

func newTestEvaluator(t *testing.T, sys *config.SystemConfig, primary metrics.Judge, pnl *panel.Panel, exec script.Executor) *Evaluator {
	t.Helper()
	if exec == nil {
		exec = &script.MockExecutor{RunFunc: func(context.Context, string) (script.Result, error) {
			return script.Result{}, nil
		}}
	}
	return NewEvaluator(EvaluatorConfig{
		Handlers:   metrics.DefaultHandlers(metrics.NewRegistry(nil), nil, exec, nil),
		Manager:    metrics.NewManager(sys, nil),
		Primary:    primary,
		Panel:      pnl,
		APIEnabled: sys.API.Enabled,
	})
}

// -----------------------------------------------------------------------------
// Routing
// -----------------------------------------------------------------------------

func TestEvaluateMetric_PrimaryJudge(t *testing.T) {
	sys := config.Default()
	judge := &fakeJudge{id: "primary", answer: `{"score": 8, "reason": "close enough"}`}
	ev := newTestEvaluator(t, &sys, judge, nil, nil)

	rows := ev.EvaluateMetric(context.Background(), datatypes.ForTurn(sampleConversation(), 0, "custom:answer_correctness"))

	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, datatypes.StatusPass, r.Result)
	assert.Empty(t, r.JudgeID)
	require.NotNil(t, r.Score)
	assert.InDelta(t, 0.8, *r.Score, 1e-9)
	assert.Equal(t, "close enough", r.Reason)
	assert.Equal(t, "t1", r.TurnID)
	assert.Equal(t, "How do I list open ports?", r.Query)
	assert.Equal(t, 1, judge.Calls())
}

func TestEvaluateMetric_ThresholdFromMetadata(t *testing.T) {
	sys := config.Default()
	sys.MetricsMetadata.TurnLevel = map[string]map[string]any{
		"custom:answer_correctness": {"threshold": 0.9},
	}
	ev := newTestEvaluator(t, &sys, &fakeJudge{answer: `{"score": 8}`}, nil, nil)

	rows := ev.EvaluateMetric(context.Background(), datatypes.ForTurn(sampleConversation(), 0, "custom:answer_correctness"))

	require.Len(t, rows, 1)
	assert.Equal(t, datatypes.StatusFail, rows[0].Result)
	require.NotNil(t, rows[0].Threshold)
	assert.InDelta(t, 0.9, *rows[0].Threshold, 1e-9)
}

func TestEvaluateMetric_UnsupportedFramework(t *testing.T) {
	sys := config.Default()
	ev := NewEvaluator(EvaluatorConfig{
		Handlers: metrics.NewHandlers(metrics.NewCustomHandler()),
		Manager:  metrics.NewManager(&sys, nil),
	})

	rows := ev.EvaluateMetric(context.Background(), datatypes.ForTurn(sampleConversation(), 0, "ragas:faithfulness"))

	require.Len(t, rows, 1)
	assert.Equal(t, datatypes.StatusError, rows[0].Result)
	assert.Equal(t, "Unsupported framework: ragas", rows[0].Reason)
	assert.Nil(t, rows[0].Score)
}

func TestEvaluateMetric_HandlerErrorBecomesErrorRow(t *testing.T) {
	sys := config.Default()
	conv := sampleConversation()
	conv.Turns[0].ExpectedResponse = ""
	ev := newTestEvaluator(t, &sys, &fakeJudge{answer: `{"score": 10}`}, nil, nil)

	rows := ev.EvaluateMetric(context.Background(), datatypes.ForTurn(conv, 0, "custom:answer_correctness"))

	require.Len(t, rows, 1)
	assert.Equal(t, datatypes.StatusError, rows[0].Result)
	assert.Contains(t, rows[0].Reason, "expected_response")
}

func TestEvaluateMetric_JudgeFailure(t *testing.T) {
	sys := config.Default()
	ev := newTestEvaluator(t, &sys, &fakeJudge{err: errors.New("rate limited")}, nil, nil)

	rows := ev.EvaluateMetric(context.Background(), datatypes.ForTurn(sampleConversation(), 0, "custom:answer_correctness"))

	require.Len(t, rows, 1)
	assert.Equal(t, datatypes.StatusError, rows[0].Result)
	assert.Contains(t, rows[0].Reason, "rate limited")
}

func TestEvaluateMetric_RecoversHandlerPanic(t *testing.T) {
	sys := config.Default()
	ev := NewEvaluator(EvaluatorConfig{
		Handlers: metrics.NewHandlers(panickingHandler{}),
		Manager:  metrics.NewManager(&sys, nil),
	})

	rows := ev.EvaluateMetric(context.Background(), datatypes.ForTurn(sampleConversation(), 0, "custom:boom"))

	require.Len(t, rows, 1)
	assert.Equal(t, datatypes.StatusError, rows[0].Result)
	assert.Contains(t, rows[0].Reason, "handler exploded")
}

// -----------------------------------------------------------------------------
// Script metrics
// -----------------------------------------------------------------------------

func TestEvaluateMetric_ScriptSkippedWithoutAPI(t *testing.T) {
	sys := config.Default()
	sys.API.Enabled = false
	ran := false
	exec := &script.MockExecutor{RunFunc: func(context.Context, string) (script.Result, error) {
		ran = true
		return script.Result{}, nil
	}}
	ev := newTestEvaluator(t, &sys, &fakeJudge{}, nil, exec)

	rows := ev.EvaluateMetric(context.Background(), datatypes.ForTurn(sampleConversation(), 0, "script:action_eval"))

	assert.Nil(t, rows)
	assert.False(t, ran)
}

func TestEvaluateMetric_ScriptRunsWithAPI(t *testing.T) {
	sys := config.Default()
	exec := &script.MockExecutor{RunFunc: func(context.Context, string) (script.Result, error) {
		return script.Result{ExitCode: 1, Output: "service not running"}, script.ErrScriptFailed
	}}
	ev := newTestEvaluator(t, &sys, &fakeJudge{}, nil, exec)

	rows := ev.EvaluateMetric(context.Background(), datatypes.ForTurn(sampleConversation(), 0, "script:action_eval"))

	require.Len(t, rows, 1)
	assert.Equal(t, datatypes.StatusFail, rows[0].Result)
	require.NotNil(t, rows[0].Score)
	assert.Zero(t, *rows[0].Score)
	assert.Contains(t, rows[0].Reason, "service not running")
}

// -----------------------------------------------------------------------------
// Panel routing
// -----------------------------------------------------------------------------

func TestEvaluateMetric_PanelScoresJudgeMetrics(t *testing.T) {
	sys := config.Default()
	sys.Panel = config.PanelConfig{
		Enabled:                true,
		ApplyTo:                []string{"custom"},
		AggregationMethod:      config.AggregationMean,
		OutputIndividualScores: true,
	}
	primary := &fakeJudge{id: "primary", answer: `{"score": 1}`}
	a := &fakeJudge{id: "a", answer: `{"score": 8, "reason": "good"}`}
	b := &fakeJudge{id: "b", answer: `{"score": 4, "reason": "weak"}`}
	pnl := panel.New(sys.Panel, []metrics.Judge{a, b}, nil)
	ev := newTestEvaluator(t, &sys, primary, pnl, nil)

	rows := ev.EvaluateMetric(context.Background(), datatypes.ForTurn(sampleConversation(), 0, "custom:answer_correctness"))

	require.Len(t, rows, 3)
	assert.Empty(t, rows[0].JudgeID)
	require.NotNil(t, rows[0].Score)
	assert.InDelta(t, 0.6, *rows[0].Score, 1e-9)
	assert.Equal(t, datatypes.StatusPass, rows[0].Result)
	assert.Equal(t, "a", rows[1].JudgeID)
	assert.Equal(t, "b", rows[2].JudgeID)
	assert.Zero(t, primary.Calls())
}

func TestEvaluateMetric_PanelRecoversHandlerPanic(t *testing.T) {
	sys := config.Default()
	sys.Panel = config.PanelConfig{
		Enabled:                true,
		ApplyTo:                []string{"custom"},
		AggregationMethod:      config.AggregationMean,
		OutputIndividualScores: true,
	}
	pnl := panel.New(sys.Panel, []metrics.Judge{&fakeJudge{id: "a"}, &fakeJudge{id: "b"}}, nil)
	ev := NewEvaluator(EvaluatorConfig{
		Handlers: metrics.NewHandlers(flakyJudgeHandler{}),
		Manager:  metrics.NewManager(&sys, nil),
		Panel:    pnl,
	})

	rows := ev.EvaluateMetric(context.Background(), datatypes.ForTurn(sampleConversation(), 0, "custom:boom"))

	require.Len(t, rows, 3)
	require.NotNil(t, rows[0].Score)
	assert.InDelta(t, 0.9, *rows[0].Score, 1e-9)
	assert.Equal(t, "a", rows[1].JudgeID)
	assert.Equal(t, datatypes.StatusError, rows[1].Result)
	assert.Contains(t, rows[1].Reason, "judge a exploded")
	assert.Equal(t, "b", rows[2].JudgeID)
	assert.Equal(t, datatypes.StatusPass, rows[2].Result)
}

func TestEvaluateMetric_PanelSkipsDeterministicMetrics(t *testing.T) {
	sys := config.Default()
	sys.Panel = config.PanelConfig{Enabled: true, ApplyTo: []string{"custom"}, AggregationMethod: config.AggregationMean}
	a := &fakeJudge{id: "a"}
	pnl := panel.New(sys.Panel, []metrics.Judge{a}, nil)
	ev := newTestEvaluator(t, &sys, &fakeJudge{}, pnl, nil)

	conv := sampleConversation()
	call := []datatypes.ToolCall{{ToolName: "get_pods", Arguments: map[string]any{"namespace": "default"}}}
	conv.Turns[0].ToolCalls = [][]datatypes.ToolCall{call}
	conv.Turns[0].ExpectedToolCalls = [][]datatypes.ToolCall{call}

	rows := ev.EvaluateMetric(context.Background(), datatypes.ForTurn(conv, 0, "custom:tool_eval"))

	require.Len(t, rows, 1)
	assert.Equal(t, datatypes.StatusPass, rows[0].Result)
	assert.Empty(t, rows[0].JudgeID)
	assert.Zero(t, a.Calls())
}

func TestEvaluateMetric_FrameworkOutsideApplyToUsesPrimary(t *testing.T) {
	sys := config.Default()
	sys.Panel = config.PanelConfig{Enabled: true, ApplyTo: []string{"geval"}, AggregationMethod: config.AggregationMean}
	primary := &fakeJudge{id: "primary", answer: `{"score": 7}`}
	a := &fakeJudge{id: "a", answer: `{"score": 1}`}
	pnl := panel.New(sys.Panel, []metrics.Judge{a}, nil)
	ev := newTestEvaluator(t, &sys, primary, pnl, nil)

	rows := ev.EvaluateMetric(context.Background(), datatypes.ForTurn(sampleConversation(), 0, "custom:answer_correctness"))

	require.Len(t, rows, 1)
	assert.InDelta(t, 0.7, *rows[0].Score, 1e-9)
	assert.Equal(t, 1, primary.Calls())
	assert.Zero(t, a.Calls())
}
