// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jinterlante1206/lightspeed-eval/pkg/ux"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryYAML = `
politeness:
  criteria: The response is polite and professional.
  evaluation_params: [query, response]
  threshold: 0.7
  description: Tone of the answer
`

// writeGEvalInputs enables geval with a registry next to system.yaml.
func writeGEvalInputs(t *testing.T, data string) (string, string) {
	t.Helper()
	systemPath, dataPath := writeInputs(t, "", data)
	dir := filepath.Dir(systemPath)
	registryPath := filepath.Join(dir, "geval_metrics.yaml")
	require.NoError(t, os.WriteFile(registryPath, []byte(registryYAML), 0o644))

	raw, err := os.ReadFile(systemPath)
	require.NoError(t, err)
	updated := strings.Replace(string(raw), "geval:\n  enabled: false\n",
		"geval:\n  enabled: true\n  registry_path: "+registryPath+"\n", 1)
	require.NoError(t, os.WriteFile(systemPath, []byte(updated), 0o644))
	return systemPath, dataPath
}

func TestValidateInputs_Valid(t *testing.T) {
	systemPath, dataPath := writeInputs(t, "", staticDataYAML)

	report, err := validateInputs(systemPath, dataPath, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, validationReport{conversations: 1, turns: 2}, report)
}

func TestValidateInputs_UnknownMetric(t *testing.T) {
	data := strings.Replace(staticDataYAML, "turn_metrics: [custom:answer_correctness]\n    - turn_id: \"2\"",
		"turn_metrics: [custom:answer_quality]\n    - turn_id: \"2\"", 1)
	systemPath, dataPath := writeInputs(t, "", data)

	_, err := validateInputs(systemPath, dataPath, io.Discard)
	assert.ErrorIs(t, err, metrics.ErrUnknownMetric)
	assert.Contains(t, err.Error(), "conversation firewall turn 1")
}

func TestValidateInputs_GEvalRegistry(t *testing.T) {
	data := strings.ReplaceAll(staticDataYAML, "[custom:answer_correctness]", "[geval:politeness]")
	systemPath, dataPath := writeGEvalInputs(t, data)

	report, err := validateInputs(systemPath, dataPath, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 1, report.registryEntries)
}

func TestValidateInputs_GEvalWithoutCriteria(t *testing.T) {
	data := strings.ReplaceAll(staticDataYAML, "[custom:answer_correctness]", "[geval:brevity]")
	systemPath, dataPath := writeGEvalInputs(t, data)

	_, err := validateInputs(systemPath, dataPath, io.Discard)
	assert.ErrorIs(t, err, metrics.ErrUnknownMetric)
}

func TestValidateInputs_GEvalCriteriaInMetadata(t *testing.T) {
	data := strings.Replace(staticDataYAML, "turn_metrics: [custom:answer_correctness]\n    - turn_id: \"2\"",
		"turn_metrics: [geval:brevity]\n      turn_metrics_metadata:\n        geval:brevity:\n          criteria: Answer in one sentence.\n    - turn_id: \"2\"", 1)
	systemPath, dataPath := writeGEvalInputs(t, data)

	_, err := validateInputs(systemPath, dataPath, io.Discard)
	assert.NoError(t, err)
}

func TestValidateInputs_InvalidData(t *testing.T) {
	systemPath, dataPath := writeInputs(t, "", "- conversation_group_id: empty\n  turns: []\n")

	_, err := validateInputs(systemPath, dataPath, io.Discard)
	assert.ErrorIs(t, err, datatypes.ErrInvalidData)
}

func TestValidateInputs_InvalidConfig(t *testing.T) {
	systemPath, dataPath := writeInputs(t, "unknown_section: true\n", staticDataYAML)

	_, err := validateInputs(systemPath, dataPath, io.Discard)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestValidateCmd_Success(t *testing.T) {
	var out bytes.Buffer
	prev := ux.GetPersonality()
	ux.SetOutput(&out, io.Discard)
	t.Cleanup(func() {
		ux.SetOutput(nil, nil)
		ux.SetPersonality(prev)
	})
	systemPath, dataPath := writeInputs(t, "", staticDataYAML)

	root := newRootCmd()
	root.SetErr(io.Discard)
	root.SetArgs([]string{"validate", "--style", "machine", "--system-config", systemPath, "--eval-data", dataPath})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "OK: ")
	assert.Contains(t, out.String(), "TURNS: 2")
}

// =============================================================================
// lseval metrics
// =============================================================================

func TestPrintCatalog_Machine(t *testing.T) {
	var out bytes.Buffer
	entries := []metrics.CatalogEntry{
		{Identifier: "ragas:faithfulness", UsesJudge: true},
		{Identifier: "custom:tool_eval"},
	}
	require.NoError(t, printCatalog(&out, entries, ux.PersonalityMachine))
	assert.Equal(t, "custom:tool_eval\tfalse\t\nragas:faithfulness\ttrue\t\n", out.String())
}

func TestPrintCatalog_Table(t *testing.T) {
	var out bytes.Buffer
	entries := []metrics.CatalogEntry{
		{Identifier: "geval:politeness", UsesJudge: true, Description: "Tone of the answer"},
	}
	require.NoError(t, printCatalog(&out, entries, ux.PersonalityStandard))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "METRIC"))
	assert.Contains(t, lines[1], "yes")
	assert.Contains(t, lines[1], "Tone of the answer")
}

func TestMetricsCmd_WithoutConfig(t *testing.T) {
	quietUX(t)
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"metrics", "--style", "machine", "--system-config", filepath.Join(t.TempDir(), "none.yaml")})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "custom:answer_correctness\ttrue")
	assert.Contains(t, out.String(), "custom:tool_eval\tfalse")
	assert.NotContains(t, out.String(), "geval:")
}

func TestMetricsCmd_ListsRegistry(t *testing.T) {
	quietUX(t)
	systemPath, _ := writeGEvalInputs(t, staticDataYAML)
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"metrics", "--style", "machine", "--system-config", systemPath})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "geval:politeness\ttrue\tTone of the answer")
}

// =============================================================================
// Logger
// =============================================================================

func TestNewLogger_BadOverride(t *testing.T) {
	cfg := config.Default().Logging
	cfg.PackageOverrides = map[string]string{"pipeline": "LOUD"}
	_, err := newLogger(cfg, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.package_overrides.pipeline")
}

func TestNewLogger_OverrideApplies(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default().Logging
	cfg.SourceLevel = "ERROR"
	cfg.PackageOverrides = map[string]string{"pipeline": "DEBUG"}
	logs, err := newLogger(cfg, &buf)
	require.NoError(t, err)
	defer logs.Close()

	logs.Component("pipeline").Debug("visible")
	logs.Component("output").Info("hidden")
	assert.Contains(t, buf.String(), "visible")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default().Logging
	cfg.LogFormat = config.LogFormatJSON
	logs, err := newLogger(cfg, &buf)
	require.NoError(t, err)
	defer logs.Close()

	logs.Component("output").Info("report written")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), buf.String())
	assert.Contains(t, buf.String(), `"component":"output"`)
}
