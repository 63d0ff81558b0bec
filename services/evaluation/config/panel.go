// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"strings"
)

// Aggregation methods accepted by panel_of_judges.aggregation_method.
const (
	AggregationMean         = "mean"
	AggregationMedian       = "median"
	AggregationWeightedMean = "weighted_mean"
	AggregationMajorityVote = "majority_vote"
)

// PanelConfig configures the panel of judges.
type PanelConfig struct {
	Enabled                bool               `yaml:"enabled"`
	ApplyTo                []string           `yaml:"apply_to" validate:"dive,oneof=geval custom deepeval"`
	AggregationMethod      string             `yaml:"aggregation_method" validate:"oneof=mean median weighted_mean majority_vote"`
	JudgeWeights           map[string]float64 `yaml:"judge_weights" validate:"dive,gte=0"`
	OutputIndividualScores bool               `yaml:"output_individual_scores"`
	Judges                 []JudgeConfig      `yaml:"judges" validate:"dive"`
}

// AppliesTo reports whether framework should be scored by the panel.
func (p PanelConfig) AppliesTo(framework string) bool {
	if !p.Enabled {
		return false
	}
	for _, f := range p.ApplyTo {
		if f == framework {
			return true
		}
	}
	return false
}

// legacyPanelConfig is the older `panel:` section. It is translated into
// PanelConfig during loading.
type legacyPanelConfig struct {
	EnablePanel         bool               `yaml:"enable_panel"`
	AggregationStrategy string             `yaml:"aggregation_strategy"`
	JudgeWeights        map[string]float64 `yaml:"judge_weights"`
	Judges              []legacyJudge      `yaml:"judges"`
}

type legacyJudge struct {
	Name        string  `yaml:"name"`
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   *int    `yaml:"max_tokens"`
	Timeout     *int    `yaml:"timeout"`
	NumRetries  *int    `yaml:"num_retries"`
	CacheDir    string  `yaml:"cache_dir"`
	CacheEnable *bool   `yaml:"cache_enabled"`
}

// translate converts the legacy section, keeping the defaults of base for
// anything the legacy format cannot express.
func (l legacyPanelConfig) translate(base PanelConfig) (PanelConfig, error) {
	out := base
	out.Enabled = l.EnablePanel
	out.JudgeWeights = l.JudgeWeights

	switch l.AggregationStrategy {
	case "", "average":
		out.AggregationMethod = AggregationMean
	case "weighted_average":
		out.AggregationMethod = AggregationWeightedMean
	case "majority_vote":
		out.AggregationMethod = AggregationMajorityVote
	default:
		return out, fmt.Errorf("%w: panel.aggregation_strategy %q (allowed: average, weighted_average, majority_vote)",
			ErrInvalidConfig, l.AggregationStrategy)
	}

	out.Judges = make([]JudgeConfig, 0, len(l.Judges))
	for _, j := range l.Judges {
		out.Judges = append(out.Judges, JudgeConfig{
			JudgeID:     j.Name,
			Provider:    j.Provider,
			Model:       j.Model,
			Temperature: j.Temperature,
			MaxTokens:   j.MaxTokens,
			Timeout:     j.Timeout,
			NumRetries:  j.NumRetries,
		})
	}
	return out, nil
}

// AssignJudgeIDs fills empty judge ids with "<provider>_<model>" and makes
// every id unique by appending "_2", "_3", ... to repeats.
//
// Description:
//
//	The model part is sanitized so ids are safe as CSV values and file name
//	fragments: "/", ":" and "." become "_". Explicit ids are kept but still
//	deduplicated, in order of appearance.
//
// Inputs:
//
//	judges - Panel members. Modified in place.
func AssignJudgeIDs(judges []JudgeConfig) {
	sanitizer := strings.NewReplacer("/", "_", ":", "_", ".", "_")
	for i := range judges {
		if judges[i].JudgeID == "" {
			judges[i].JudgeID = judges[i].Provider + "_" + sanitizer.Replace(judges[i].Model)
		}
	}

	seen := make(map[string]int, len(judges))
	for i := range judges {
		id := judges[i].JudgeID
		seen[id]++
		if seen[id] > 1 {
			judges[i].JudgeID = fmt.Sprintf("%s_%d", id, seen[id])
		}
	}
}
