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
	"path/filepath"
	"sync"
	"testing"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/api"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/metrics"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingEvaluator returns one PASS row per request.
type recordingEvaluator struct {
	mu   sync.Mutex
	seen []string
}

func (r *recordingEvaluator) EvaluateMetric(_ context.Context, req datatypes.EvaluationRequest) []datatypes.EvaluationResult {
	r.mu.Lock()
	r.seen = append(r.seen, req.TurnID()+"/"+req.MetricIdentifier+"/"+req.Response())
	r.mu.Unlock()
	return []datatypes.EvaluationResult{datatypes.NewScoredResult(req, "", 1, nil, "ok", 0)}
}

// fakeQuerier answers turn N with "answer N" and conversation id "cid".
type fakeQuerier struct {
	failAt int

	mu       sync.Mutex
	received []string
}

func (f *fakeQuerier) Query(_ context.Context, query, conversationID string, _ []string) (*api.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, conversationID)
	n := len(f.received)
	if f.failAt > 0 && n == f.failAt {
		return nil, fmt.Errorf("%w: HTTP 503", api.ErrAPI)
	}
	return &api.Response{
		Response:       fmt.Sprintf("answer %d", n),
		ConversationID: "cid",
		ToolCalls:      [][]datatypes.ToolCall{{{ToolName: "lookup", Arguments: map[string]any{"q": query}}}},
		Contexts:       []string{"ctx"},
	}, nil
}

func threeTurnConversation() *datatypes.EvaluationData {
	return &datatypes.EvaluationData{
		ConversationGroupID: "conv-api",
		ConversationMetrics: []string{"deepeval:conversation_completeness"},
		SetupScript:         "setup.sh",
		CleanupScript:       "cleanup.sh",
		Turns: []datatypes.TurnData{
			{TurnID: "1", Query: "q1", TurnMetrics: []string{"custom:answer_correctness"}},
			{TurnID: "2", Query: "q2", TurnMetrics: []string{"custom:answer_correctness", "custom:tool_eval"}},
			{TurnID: "3", Query: "q3", TurnMetrics: []string{"custom:answer_correctness"}},
		},
	}
}

func newManager() *metrics.Manager {
	sys := config.Default()
	return metrics.NewManager(&sys, nil)
}

type scriptLog struct {
	mu  sync.Mutex
	ran []string
}

func (s *scriptLog) executor(fail map[string]bool) *script.MockExecutor {
	return &script.MockExecutor{RunFunc: func(_ context.Context, path string) (script.Result, error) {
		s.mu.Lock()
		s.ran = append(s.ran, path)
		s.mu.Unlock()
		if fail[path] {
			return script.Result{ExitCode: 2, Output: "boom"}, script.ErrScriptFailed
		}
		return script.Result{}, nil
	}}
}

// -----------------------------------------------------------------------------
// API amendment
// -----------------------------------------------------------------------------

func TestProcess_AmendsTurnsAndChainsConversationID(t *testing.T) {
	ev := &recordingEvaluator{}
	q := &fakeQuerier{}
	scripts := &scriptLog{}
	p := NewProcessor(ev, newManager(), q, scripts.executor(nil), nil)
	conv := threeTurnConversation()

	results := p.Process(context.Background(), conv)

	assert.Equal(t, []string{"", "cid", "cid"}, q.received)
	assert.Equal(t, "answer 2", conv.Turns[1].Response)
	assert.Equal(t, "cid", conv.Turns[1].ConversationID)
	assert.Equal(t, []string{"ctx"}, conv.Turns[2].Contexts)
	require.Len(t, conv.Turns[0].ToolCalls, 1)
	assert.Equal(t, "lookup", conv.Turns[0].ToolCalls[0][0].ToolName)

	// Turn metrics see the amended response.
	assert.Equal(t, []string{
		"1/custom:answer_correctness/answer 1",
		"2/custom:answer_correctness/answer 2",
		"2/custom:tool_eval/answer 2",
		"3/custom:answer_correctness/answer 3",
		"/deepeval:conversation_completeness/",
	}, ev.seen)
	assert.Len(t, results, 5)
	assert.Equal(t, []string{"setup.sh", "cleanup.sh"}, scripts.ran)
}

func TestProcess_APIFailureCascades(t *testing.T) {
	ev := &recordingEvaluator{}
	q := &fakeQuerier{failAt: 2}
	scripts := &scriptLog{}
	p := NewProcessor(ev, newManager(), q, scripts.executor(nil), nil)

	results := p.Process(context.Background(), threeTurnConversation())

	require.Len(t, results, 5)
	assert.Equal(t, datatypes.StatusPass, results[0].Result)
	for _, r := range results[1:] {
		assert.Equal(t, datatypes.StatusError, r.Result, r.MetricIdentifier)
		assert.Contains(t, r.Reason, "API Error:")
		assert.Contains(t, r.Reason, "HTTP 503")
	}
	assert.Equal(t, "", results[4].TurnID)
	assert.Len(t, q.received, 2)
	assert.Equal(t, []string{"setup.sh", "cleanup.sh"}, scripts.ran)
}

// -----------------------------------------------------------------------------
// Scripts
// -----------------------------------------------------------------------------

func TestProcess_SetupFailureMarksEverythingError(t *testing.T) {
	ev := &recordingEvaluator{}
	q := &fakeQuerier{}
	scripts := &scriptLog{}
	p := NewProcessor(ev, newManager(), q, scripts.executor(map[string]bool{"setup.sh": true}), nil)

	results := p.Process(context.Background(), threeTurnConversation())

	require.Len(t, results, 5)
	for _, r := range results {
		assert.Equal(t, datatypes.StatusError, r.Result)
		assert.Contains(t, r.Reason, "Setup script failed")
		assert.Contains(t, r.Reason, "boom")
	}
	assert.Empty(t, ev.seen)
	assert.Empty(t, q.received)
	assert.Equal(t, []string{"setup.sh"}, scripts.ran)
}

func TestProcess_CleanupFailureIsOnlyLogged(t *testing.T) {
	ev := &recordingEvaluator{}
	scripts := &scriptLog{}
	p := NewProcessor(ev, newManager(), &fakeQuerier{}, scripts.executor(map[string]bool{"cleanup.sh": true}), nil)

	results := p.Process(context.Background(), threeTurnConversation())

	require.Len(t, results, 5)
	for _, r := range results {
		assert.Equal(t, datatypes.StatusPass, r.Result)
	}
	assert.Equal(t, []string{"setup.sh", "cleanup.sh"}, scripts.ran)
}

func TestProcess_ScriptsIgnoredWithoutAPI(t *testing.T) {
	ev := &recordingEvaluator{}
	scripts := &scriptLog{}
	p := NewProcessor(ev, newManager(), nil, scripts.executor(nil), nil)
	conv := threeTurnConversation()
	conv.Turns[0].Response = "static"

	results := p.Process(context.Background(), conv)

	assert.Len(t, results, 5)
	assert.Empty(t, scripts.ran)
	assert.Equal(t, "1/custom:answer_correctness/static", ev.seen[0])
}

// -----------------------------------------------------------------------------
// Edge cases
// -----------------------------------------------------------------------------

func TestProcess_NoMetricsSkipsConversation(t *testing.T) {
	q := &fakeQuerier{}
	p := NewProcessor(&recordingEvaluator{}, newManager(), q, nil, nil)
	conv := &datatypes.EvaluationData{
		ConversationGroupID: "empty",
		ConversationMetrics: []string{},
		Turns:               []datatypes.TurnData{{TurnID: "1", Query: "q", TurnMetrics: []string{}}},
	}

	assert.Nil(t, p.Process(context.Background(), conv))
	assert.Empty(t, q.received)
}

func TestProcess_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewProcessor(&recordingEvaluator{}, newManager(), nil, nil, nil)

	results := p.Process(ctx, threeTurnConversation())

	require.Len(t, results, 5)
	for _, r := range results {
		assert.Equal(t, datatypes.StatusError, r.Result)
		assert.Contains(t, r.Reason, "cancelled")
	}
}

func TestProcess_MissingExecutor(t *testing.T) {
	p := NewProcessor(&recordingEvaluator{}, newManager(), &fakeQuerier{}, nil, nil)

	results := p.Process(context.Background(), threeTurnConversation())

	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Reason, "no script executor")
}

func TestResolveScriptPaths(t *testing.T) {
	data := []datatypes.EvaluationData{{
		SetupScript:   "scripts/setup.sh",
		CleanupScript: "/abs/cleanup.sh",
		Turns:         []datatypes.TurnData{{VerifyScript: "verify.sh"}, {}},
	}}

	ResolveScriptPaths(data, "/data")

	assert.Equal(t, filepath.Join("/data", "scripts/setup.sh"), data[0].SetupScript)
	assert.Equal(t, "/abs/cleanup.sh", data[0].CleanupScript)
	assert.Equal(t, filepath.Join("/data", "verify.sh"), data[0].Turns[0].VerifyScript)
	assert.Empty(t, data[0].Turns[1].VerifyScript)
}

func TestRunScript_WrapsOutput(t *testing.T) {
	exec := &script.MockExecutor{RunFunc: func(context.Context, string) (script.Result, error) {
		return script.Result{ExitCode: 1, Output: "disk full"}, script.ErrScriptFailed
	}}
	p := NewProcessor(&recordingEvaluator{}, newManager(), nil, exec, nil)

	err := p.runScript(context.Background(), "x.sh")
	require.Error(t, err)
	assert.True(t, errors.Is(err, script.ErrScriptFailed))
	assert.Contains(t, err.Error(), "disk full")
}
