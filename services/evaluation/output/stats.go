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
	"sort"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// OverallStats counts final results across the run.
type OverallStats struct {
	Total     int     `json:"TOTAL"`
	Pass      int     `json:"PASS"`
	Fail      int     `json:"FAIL"`
	Error     int     `json:"ERROR"`
	PassRate  float64 `json:"pass_rate"`
	FailRate  float64 `json:"fail_rate"`
	ErrorRate float64 `json:"error_rate"`
}

// ScoreStats summarizes the scores of one group. Std is the sample
// standard deviation, 0 for a single score.
type ScoreStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// GroupStats counts the results of one metric or one conversation.
type GroupStats struct {
	Pass            int         `json:"pass"`
	Fail            int         `json:"fail"`
	Error           int         `json:"error"`
	PassRate        float64     `json:"pass_rate"`
	FailRate        float64     `json:"fail_rate"`
	ErrorRate       float64     `json:"error_rate"`
	ScoreStatistics *ScoreStats `json:"score_statistics,omitempty"`

	scores []float64
}

// Total returns pass + fail + error.
func (g *GroupStats) Total() int { return g.Pass + g.Fail + g.Error }

// Summary holds every statistic written to the reports.
type Summary struct {
	Overall        OverallStats           `json:"overall"`
	ByMetric       map[string]*GroupStats `json:"by_metric"`
	ByConversation map[string]*GroupStats `json:"by_conversation"`
}

// ComputeStats builds the summary statistics.
//
// Description:
//
//	Only final rows count: per-judge rows emitted by a panel of judges
//	(JudgeID set) are ignored so a metric is never counted once per judge.
//	Rates are percentages. Score statistics use the scores of PASS and FAIL
//	rows; ERROR rows have no score.
//
// Inputs:
//
//	results - All result rows of the run.
//
// Outputs:
//
//	Summary - Overall, per metric and per conversation statistics.
func ComputeStats(results []datatypes.EvaluationResult) Summary {
	s := Summary{
		ByMetric:       map[string]*GroupStats{},
		ByConversation: map[string]*GroupStats{},
	}

	for _, r := range results {
		if !r.IsAggregate() {
			continue
		}
		s.Overall.Total++
		switch r.Result {
		case datatypes.StatusPass:
			s.Overall.Pass++
		case datatypes.StatusFail:
			s.Overall.Fail++
		default:
			s.Overall.Error++
		}
		groupFor(s.ByMetric, r.MetricIdentifier).add(r)
		groupFor(s.ByConversation, r.ConversationGroupID).add(r)
	}

	if s.Overall.Total > 0 {
		t := float64(s.Overall.Total)
		s.Overall.PassRate = percent(s.Overall.Pass, t)
		s.Overall.FailRate = percent(s.Overall.Fail, t)
		s.Overall.ErrorRate = percent(s.Overall.Error, t)
	}
	for _, g := range s.ByMetric {
		g.finalize()
	}
	for _, g := range s.ByConversation {
		g.finalize()
	}
	return s
}

// SortedKeys returns the keys of m in order.
func SortedKeys(m map[string]*GroupStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func groupFor(m map[string]*GroupStats, key string) *GroupStats {
	g, ok := m[key]
	if !ok {
		g = &GroupStats{}
		m[key] = g
	}
	return g
}

func (g *GroupStats) add(r datatypes.EvaluationResult) {
	switch r.Result {
	case datatypes.StatusPass:
		g.Pass++
	case datatypes.StatusFail:
		g.Fail++
	default:
		g.Error++
	}
	if r.Score != nil && r.Result != datatypes.StatusError {
		g.scores = append(g.scores, *r.Score)
	}
}

func (g *GroupStats) finalize() {
	if total := g.Total(); total > 0 {
		t := float64(total)
		g.PassRate = percent(g.Pass, t)
		g.FailRate = percent(g.Fail, t)
		g.ErrorRate = percent(g.Error, t)
	}
	if len(g.scores) > 0 {
		g.ScoreStatistics = scoreStats(g.scores)
	}
	g.scores = nil
}

func scoreStats(scores []float64) *ScoreStats {
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	st := &ScoreStats{
		Mean:   stat.Mean(sorted, nil),
		Median: median(sorted),
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
		Count:  len(sorted),
	}
	if len(sorted) > 1 {
		st.Std = stat.StdDev(sorted, nil)
	}
	return st
}

// median of an already sorted slice; even lengths average the middle pair.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func percent(n int, total float64) float64 {
	return float64(n) / total * 100
}
