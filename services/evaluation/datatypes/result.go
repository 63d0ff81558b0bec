// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Status is the outcome of one metric evaluation.
type Status string

const (
	StatusPass  Status = "PASS"
	StatusFail  Status = "FAIL"
	StatusError Status = "ERROR"
)

// DefaultThreshold applies when neither metadata nor a GEval definition sets one.
const DefaultThreshold = 0.5

// EvaluationResult is one row of the detailed report.
//
// Description:
//
//	A result covers one metric on one turn (TurnID set) or one conversation
//	(TurnID empty). JudgeID is empty for the final row of a metric; when a
//	panel of judges emits individual scores, each judge gets its own row
//	with JudgeID set. Score and Threshold are nil on ERROR rows.
type EvaluationResult struct {
	ConversationGroupID string   `json:"conversation_group_id"`
	TurnID              string   `json:"turn_id"`
	MetricIdentifier    string   `json:"metric_identifier"`
	JudgeID             string   `json:"judge_id"`
	Result              Status   `json:"result"`
	Score               *float64 `json:"score"`
	Threshold           *float64 `json:"threshold"`
	Reason              string   `json:"reason"`
	Query               string   `json:"query"`
	Response            string   `json:"response"`
	ExecutionTime       float64  `json:"execution_time"`
}

// IsAggregate reports whether the row is a final (non per-judge) result.
func (r EvaluationResult) IsAggregate() bool { return r.JudgeID == "" }

// DetermineStatus returns PASS when score >= threshold and FAIL otherwise.
// A nil threshold means DefaultThreshold.
func DetermineStatus(score float64, threshold *float64) Status {
	t := DefaultThreshold
	if threshold != nil {
		t = *threshold
	}
	if score >= t {
		return StatusPass
	}
	return StatusFail
}

// NewErrorResult builds an ERROR row for req.
func NewErrorResult(req EvaluationRequest, judgeID, reason string, elapsed time.Duration) EvaluationResult {
	return EvaluationResult{
		ConversationGroupID: req.Conv.ConversationGroupID,
		TurnID:              req.TurnID(),
		MetricIdentifier:    req.MetricIdentifier,
		JudgeID:             judgeID,
		Result:              StatusError,
		Reason:              reason,
		Query:               req.Query(),
		Response:            req.Response(),
		ExecutionTime:       elapsed.Seconds(),
	}
}

// NewScoredResult builds a PASS/FAIL row for req.
func NewScoredResult(req EvaluationRequest, judgeID string, score float64, threshold *float64, reason string, elapsed time.Duration) EvaluationResult {
	s := score
	return EvaluationResult{
		ConversationGroupID: req.Conv.ConversationGroupID,
		TurnID:              req.TurnID(),
		MetricIdentifier:    req.MetricIdentifier,
		JudgeID:             judgeID,
		Result:              DetermineStatus(score, threshold),
		Score:               &s,
		Threshold:           threshold,
		Reason:              reason,
		Query:               req.Query(),
		Response:            req.Response(),
		ExecutionTime:       elapsed.Seconds(),
	}
}
