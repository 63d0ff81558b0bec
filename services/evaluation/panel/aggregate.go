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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Vote is one judge's answer for one metric.
type Vote struct {
	JudgeID string
	Score   float64
	Reason  string
	Err     error
	Elapsed time.Duration
}

// OK reports whether the judge produced a score.
func (v Vote) OK() bool { return v.Err == nil }

// Outcome is the aggregated panel verdict.
type Outcome struct {
	// Score is nil when every judge failed.
	Score  *float64
	Status datatypes.Status
	Reason string
}

// Aggregate combines votes with method.
//
// Description:
//
//	Only votes with a score take part. mean, median and weighted_mean
//	produce a score judged against threshold. weighted_mean looks weights
//	up by judge id (missing weight 1.0) and falls back to mean when every
//	weight is zero. majority_vote scores the fraction of judges that pass
//	threshold and passes only when more than half do. When no judge
//	produced a score the outcome is ERROR with every failure reason.
//
// Inputs:
//
//	method - One of the config.Aggregation* constants.
//	weights - Judge weights for weighted_mean. May be nil.
//	votes - One vote per judge.
//	threshold - Effective threshold. Nil means datatypes.DefaultThreshold.
//
// Outputs:
//
//	Outcome - The aggregated score and status.
func Aggregate(method string, weights map[string]float64, votes []Vote, threshold *float64) Outcome {
	var scores, w []float64
	var ids []string
	var failures []string
	for _, v := range votes {
		if !v.OK() {
			failures = append(failures, fmt.Sprintf("%s: %v", v.JudgeID, v.Err))
			continue
		}
		scores = append(scores, v.Score)
		ids = append(ids, v.JudgeID)
		weight, ok := weights[v.JudgeID]
		if !ok {
			weight = 1.0
		}
		w = append(w, weight)
	}

	if len(scores) == 0 {
		return Outcome{
			Status: datatypes.StatusError,
			Reason: "All judges failed: " + strings.Join(failures, "; "),
		}
	}

	var score float64
	status := datatypes.StatusFail
	label := method
	switch method {
	case config.AggregationMedian:
		score = median(scores)
	case config.AggregationWeightedMean:
		if floats.Sum(w) == 0 {
			score = stat.Mean(scores, nil)
			label = "weighted_mean (all weights zero, using mean)"
		} else {
			score = stat.Mean(scores, w)
		}
	case config.AggregationMajorityVote:
		passes := 0
		for _, s := range scores {
			if datatypes.DetermineStatus(s, threshold) == datatypes.StatusPass {
				passes++
			}
		}
		score = float64(passes) / float64(len(scores))
		if passes*2 > len(scores) {
			status = datatypes.StatusPass
		}
		label = fmt.Sprintf("majority_vote (%d of %d judges passed)", passes, len(scores))
	default:
		label = config.AggregationMean
		score = stat.Mean(scores, nil)
	}
	if method != config.AggregationMajorityVote {
		status = datatypes.DetermineStatus(score, threshold)
	}

	reason := fmt.Sprintf("Panel %s of %d judges: %s", label, len(scores), describeScores(ids, scores))
	if len(failures) > 0 {
		reason += "; failed: " + strings.Join(failures, "; ")
	}
	return Outcome{Score: &score, Status: status, Reason: reason}
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func describeScores(ids []string, scores []float64) string {
	parts := make([]string, len(ids))
	for i := range ids {
		parts[i] = fmt.Sprintf("%s=%.2f", ids[i], scores[i])
	}
	return strings.Join(parts, ", ")
}
