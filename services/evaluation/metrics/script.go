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

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/script"
)

// ScriptHandler scores script:action_eval by running the turn's
// verify_script: exit code 0 scores 1.0, anything else 0.0.
type ScriptHandler struct {
	exec script.Executor
}

// NewScriptHandler creates the handler.
func NewScriptHandler(exec script.Executor) *ScriptHandler {
	return &ScriptHandler{exec: exec}
}

// Framework implements Handler.
func (h *ScriptHandler) Framework() string { return datatypes.FrameworkScript }

// Metrics implements Handler.
func (h *ScriptHandler) Metrics() []string { return []string{"action_eval"} }

// UsesJudge implements Handler.
func (h *ScriptHandler) UsesJudge(string) bool { return false }

// Evaluate implements Handler.
func (h *ScriptHandler) Evaluate(ctx context.Context, name string, req datatypes.EvaluationRequest, _ Judge) (Score, error) {
	if name != "action_eval" {
		return Score{}, unknownMetric(datatypes.FrameworkScript, name)
	}
	if req.IsConversation() {
		return Score{}, errors.New("script:action_eval is a turn-level metric")
	}
	if err := requireFields(req.Turn, "verify_script"); err != nil {
		return Score{}, err
	}

	res, err := h.exec.Run(ctx, req.Turn.VerifyScript)
	switch {
	case err == nil:
		return Score{Value: 1, Reason: "Script verification passed"}, nil
	case errors.Is(err, script.ErrScriptFailed):
		return Score{Value: 0, Reason: fmt.Sprintf("Script verification failed (exit code %d): %s", res.ExitCode, truncate(res.Output, 200))}, nil
	default:
		return Score{}, fmt.Errorf("script execution error: %w", err)
	}
}
