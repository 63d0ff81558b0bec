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
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestHandler(t *testing.T, mutate func(*config.SystemConfig)) *Handler {
	t.Helper()
	sys := config.Default()
	if mutate != nil {
		mutate(&sys)
	}
	h, err := NewHandler(&sys, filepath.Join(t.TempDir(), "out"), nil)
	require.NoError(t, err)
	h.now = func() time.Time { return fixedTime }
	return h
}

func TestGenerate_WritesEnabledReports(t *testing.T) {
	h := newTestHandler(t, nil)

	rep, err := h.Generate(sampleResults())
	require.NoError(t, err)

	assert.Equal(t, "evaluation_20250314_092653", rep.Prefix)
	require.Len(t, rep.Files, 3)
	assert.Equal(t, filepath.Join(h.Dir(), "evaluation_20250314_092653_detailed.csv"), rep.Files[0])
	assert.Equal(t, filepath.Join(h.Dir(), "evaluation_20250314_092653_summary.json"), rep.Files[1])
	assert.Equal(t, filepath.Join(h.Dir(), "evaluation_20250314_092653_summary.txt"), rep.Files[2])
	for _, f := range rep.Files {
		assert.FileExists(t, f)
	}
	assert.Equal(t, 5, rep.Summary.Overall.Total)
}

func TestGenerate_OnlySelectedOutputs(t *testing.T) {
	h := newTestHandler(t, func(c *config.SystemConfig) {
		c.Output.EnabledOutputs = []string{config.OutputJSON}
	})

	rep, err := h.Generate(sampleResults())
	require.NoError(t, err)
	require.Len(t, rep.Files, 1)
	assert.Contains(t, rep.Files[0], "_summary.json")
}

func TestGenerate_NoResults(t *testing.T) {
	h := newTestHandler(t, nil)
	_, err := h.Generate(nil)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestRenderCSV_SelectedColumns(t *testing.T) {
	data, err := RenderCSV(sampleResults()[2:4], []string{"conversation_group_id", "turn_id", "result", "score", "execution_time"})
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"conversation_group_id", "turn_id", "result", "score", "execution_time"},
		{"c1", "", "ERROR", "", "1.235"},
		{"c2", "1", "PASS", "0.6", "1.235"},
	}, records)
}

func TestRenderCSV_UnknownColumn(t *testing.T) {
	_, err := RenderCSV(sampleResults(), []string{"bogus"})
	assert.ErrorContains(t, err, "bogus")
}

func TestRenderJSON(t *testing.T) {
	results := sampleResults()
	data, err := RenderJSON(results, ComputeStats(results), fixedTime)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "2025-03-14T09:26:53Z", doc["timestamp"])
	assert.EqualValues(t, 7, doc["total_evaluations"])

	stats := doc["summary_stats"].(map[string]any)
	overall := stats["overall"].(map[string]any)
	assert.EqualValues(t, 5, overall["TOTAL"])
	assert.Contains(t, stats["by_metric"], "geval:accuracy")

	rows := doc["results"].([]any)
	require.Len(t, rows, 7)
	conv := rows[2].(map[string]any)
	assert.Nil(t, conv["turn_id"])
	assert.Nil(t, conv["score"])
	assert.Nil(t, conv["judge_id"])
	assert.Equal(t, "judge_a", rows[5].(map[string]any)["judge_id"])
	assert.InDelta(t, 1.235, rows[0].(map[string]any)["execution_time"], 1e-9)
}

func TestRenderText(t *testing.T) {
	sys := config.Default()
	sys.Output.SummaryConfigSections = []string{"llm", "nonexistent"}
	results := sampleResults()

	data, err := RenderText(results, ComputeStats(results), fixedTime, &sys)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "Total Evaluations: 7")
	assert.Contains(t, text, "Pass: 3 (60.0%)")
	assert.Contains(t, text, "ragas:faithfulness:")
	assert.Contains(t, text, "Score: mean 0.600, median 0.600, std 0.300, min 0.300, max 0.900 (n=3)")
	assert.Contains(t, text, "Conversation Performance:")
	assert.Contains(t, text, "Configuration Parameters:")
	assert.Contains(t, text, "model: gpt-4o-mini")
	assert.NotContains(t, text, "nonexistent")
}

func TestNewHandler_UsesConfiguredDir(t *testing.T) {
	sys := config.Default()
	sys.Output.OutputDir = filepath.Join(t.TempDir(), "nested", "reports")

	h, err := NewHandler(&sys, "", nil)
	require.NoError(t, err)
	assert.Equal(t, sys.Output.OutputDir, h.Dir())
	info, err := os.Stat(h.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
