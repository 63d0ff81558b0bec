// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package output writes evaluation reports.
//
// Every run produces up to three files in output.output_dir, named
// {base_filename}_{YYYYMMDD_HHMMSS}_{kind}:
//
//	_detailed.csv   one row per result, columns from output.csv_columns
//	_summary.json   statistics plus every result
//	_summary.txt    human readable statistics and configuration
//
// Files are written atomically. Reports can then be uploaded to GCS and
// results exported to InfluxDB.
package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"gopkg.in/yaml.v3"
)

// TimestampLayout formats the run timestamp in file names.
const TimestampLayout = "20060102_150405"

// ErrNoResults is returned by Generate when there is nothing to report.
var ErrNoResults = errors.New("no evaluation results to report")

// Report describes the files written for one run.
type Report struct {
	Timestamp time.Time
	// Prefix is {base_filename}_{timestamp}, shared by every file of the run.
	Prefix  string
	Summary Summary
	Files   []string
}

// Handler writes the reports of a run.
type Handler struct {
	sys    *config.SystemConfig
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// NewHandler creates the output directory and returns a handler for it.
// dir overrides output.output_dir when non-empty.
func NewHandler(sys *config.SystemConfig, dir string, logger *slog.Logger) (*Handler, error) {
	if dir == "" {
		dir = sys.Output.OutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sys:    sys,
		dir:    dir,
		now:    time.Now,
		logger: logger.With(slog.String("component", "output")),
	}, nil
}

// Dir returns the output directory.
func (h *Handler) Dir() string { return h.dir }

// Generate computes statistics and writes every enabled report.
//
// Inputs:
//
//	results - All result rows of the run, including per-judge rows.
//
// Outputs:
//
//	*Report - Written files and statistics.
//	error - ErrNoResults, or the first write failure.
func (h *Handler) Generate(results []datatypes.EvaluationResult) (*Report, error) {
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	ts := h.now()
	rep := &Report{
		Timestamp: ts,
		Prefix:    h.sys.Output.BaseFilename + "_" + ts.Format(TimestampLayout),
		Summary:   ComputeStats(results),
	}

	for _, kind := range h.sys.Output.EnabledOutputs {
		var (
			path string
			data []byte
			err  error
		)
		switch kind {
		case config.OutputCSV:
			path = filepath.Join(h.dir, rep.Prefix+"_detailed.csv")
			data, err = RenderCSV(results, h.sys.Output.CSVColumns)
		case config.OutputJSON:
			path = filepath.Join(h.dir, rep.Prefix+"_summary.json")
			data, err = RenderJSON(results, rep.Summary, ts)
		case config.OutputTXT:
			path = filepath.Join(h.dir, rep.Prefix+"_summary.txt")
			data, err = RenderText(results, rep.Summary, ts, h.sys)
		default:
			h.logger.Warn("unknown output type, skipping", slog.String("type", kind))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("render %s report: %w", kind, err)
		}
		if err := renameio.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		h.logger.Info("report written", slog.String("type", kind), slog.String("path", path))
		rep.Files = append(rep.Files, path)
	}
	return rep, nil
}

// =============================================================================
// CSV
// =============================================================================

// RenderCSV renders the detailed report with the given columns.
func RenderCSV(results []datatypes.EvaluationResult, columns []string) ([]byte, error) {
	if len(columns) == 0 {
		columns = config.SupportedCSVColumns
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	row := make([]string, len(columns))
	for _, r := range results {
		for i, col := range columns {
			v, err := csvValue(r, col)
			if err != nil {
				return nil, err
			}
			row[i] = v
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func csvValue(r datatypes.EvaluationResult, column string) (string, error) {
	switch column {
	case "conversation_group_id":
		return r.ConversationGroupID, nil
	case "turn_id":
		return r.TurnID, nil
	case "metric_identifier":
		return r.MetricIdentifier, nil
	case "judge_id":
		return r.JudgeID, nil
	case "result":
		return string(r.Result), nil
	case "score":
		return formatOptional(r.Score), nil
	case "threshold":
		return formatOptional(r.Threshold), nil
	case "reason":
		return r.Reason, nil
	case "execution_time":
		return strconv.FormatFloat(round3(r.ExecutionTime), 'f', -1, 64), nil
	case "query":
		return r.Query, nil
	case "response":
		return r.Response, nil
	}
	return "", fmt.Errorf("unsupported csv column %q", column)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// =============================================================================
// JSON
// =============================================================================

type jsonResult struct {
	ConversationGroupID string           `json:"conversation_group_id"`
	TurnID              *string          `json:"turn_id"`
	MetricIdentifier    string           `json:"metric_identifier"`
	JudgeID             *string          `json:"judge_id"`
	Result              datatypes.Status `json:"result"`
	Score               *float64         `json:"score"`
	Threshold           *float64         `json:"threshold"`
	Reason              string           `json:"reason"`
	ExecutionTime       float64          `json:"execution_time"`
}

type jsonSummary struct {
	Timestamp        string       `json:"timestamp"`
	TotalEvaluations int          `json:"total_evaluations"`
	SummaryStats     Summary      `json:"summary_stats"`
	Results          []jsonResult `json:"results"`
}

// RenderJSON renders the JSON summary. Empty turn and judge ids are
// written as null.
func RenderJSON(results []datatypes.EvaluationResult, summary Summary, ts time.Time) ([]byte, error) {
	out := jsonSummary{
		Timestamp:        ts.Format(time.RFC3339),
		TotalEvaluations: len(results),
		SummaryStats:     summary,
		Results:          make([]jsonResult, 0, len(results)),
	}
	for _, r := range results {
		out.Results = append(out.Results, jsonResult{
			ConversationGroupID: r.ConversationGroupID,
			TurnID:              nullable(r.TurnID),
			MetricIdentifier:    r.MetricIdentifier,
			JudgeID:             nullable(r.JudgeID),
			Result:              r.Result,
			Score:               r.Score,
			Threshold:           r.Threshold,
			Reason:              r.Reason,
			ExecutionTime:       round3(r.ExecutionTime),
		})
	}
	return json.MarshalIndent(out, "", "  ")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// =============================================================================
// Text
// =============================================================================

// RenderText renders the human readable summary.
func RenderText(results []datatypes.EvaluationResult, summary Summary, ts time.Time, sys *config.SystemConfig) ([]byte, error) {
	var b strings.Builder
	rule := strings.Repeat("=", 60)

	fmt.Fprintln(&b, "Lightspeed Evaluation - Summary Report")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Timestamp: %s\n", ts.Format(time.RFC3339))
	fmt.Fprintf(&b, "Total Evaluations: %d\n\n", len(results))

	o := summary.Overall
	fmt.Fprintln(&b, "Overall Statistics:")
	fmt.Fprintln(&b, strings.Repeat("-", 20))
	fmt.Fprintf(&b, "Total: %d\n", o.Total)
	fmt.Fprintf(&b, "Pass: %d (%.1f%%)\n", o.Pass, o.PassRate)
	fmt.Fprintf(&b, "Fail: %d (%.1f%%)\n", o.Fail, o.FailRate)
	fmt.Fprintf(&b, "Error: %d (%.1f%%)\n\n", o.Error, o.ErrorRate)

	writeGroups(&b, "Metric Performance:", summary.ByMetric)
	writeGroups(&b, "Conversation Performance:", summary.ByConversation)

	if sys != nil && len(sys.Output.SummaryConfigSections) > 0 {
		sections, err := configSections(sys, sys.Output.SummaryConfigSections)
		if err != nil {
			return nil, err
		}
		fmt.Fprintln(&b, "Configuration Parameters:")
		fmt.Fprintln(&b, strings.Repeat("-", 30))
		b.WriteString(sections)
	}
	return []byte(b.String()), nil
}

func writeGroups(b *strings.Builder, title string, groups map[string]*GroupStats) {
	if len(groups) == 0 {
		return
	}
	fmt.Fprintln(b, title)
	fmt.Fprintln(b, strings.Repeat("-", 30))
	for _, key := range SortedKeys(groups) {
		g := groups[key]
		fmt.Fprintf(b, "%s:\n", key)
		fmt.Fprintf(b, "  Pass: %d (%.1f%%)\n", g.Pass, g.PassRate)
		fmt.Fprintf(b, "  Fail: %d (%.1f%%)\n", g.Fail, g.FailRate)
		fmt.Fprintf(b, "  Error: %d (%.1f%%)\n", g.Error, g.ErrorRate)
		if s := g.ScoreStatistics; s != nil {
			fmt.Fprintf(b, "  Score: mean %.3f, median %.3f, std %.3f, min %.3f, max %.3f (n=%d)\n",
				s.Mean, s.Median, s.Std, s.Min, s.Max, s.Count)
		}
		fmt.Fprintln(b)
	}
}

// configSections renders the selected top-level sections of sys as YAML.
// Unknown section names are skipped.
func configSections(sys *config.SystemConfig, names []string) (string, error) {
	raw, err := yaml.Marshal(sys)
	if err != nil {
		return "", err
	}
	var all map[string]any
	if err := yaml.Unmarshal(raw, &all); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, name := range names {
		section, ok := all[name]
		if !ok {
			continue
		}
		out, err := yaml.Marshal(map[string]any{name: section})
		if err != nil {
			return "", err
		}
		b.Write(out)
		b.WriteString("\n")
	}
	return b.String(), nil
}
