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
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/jinterlante1206/lightspeed-eval/pkg/logging"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/metrics"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/pipeline"
)

// runError prefixes a command failure with what was being done, e.g.
// "Evaluation failed: ...". errors.Is and errors.As see the wrapped error.
type runError struct {
	op  string
	err error
}

func (e *runError) Error() string { return e.op + ": " + e.err.Error() }

func (e *runError) Unwrap() error { return e.err }

// inputs are the loaded and validated input files of a run.
type inputs struct {
	sys      *config.SystemConfig
	registry *metrics.Registry
	data     []datatypes.EvaluationData
}

// loadInputs reads the GEval registry and the evaluation data for sys.
//
// Description:
//
//	The registry is only read when geval.enabled; a missing registry file
//	is a warning. Script paths in the evaluation data are resolved
//	relative to the data file's directory.
//
// Inputs:
//
//	sys - Loaded system config.
//	dataPath - Path to the evaluation data.
//	logger - Receives warnings. Nil uses slog.Default().
//
// Outputs:
//
//	*inputs - Loaded inputs.
//	error - The first load or validation failure.
func loadInputs(sys *config.SystemConfig, dataPath string, logger *slog.Logger) (*inputs, error) {
	registry := metrics.NewRegistry(nil)
	if sys.GEval.Enabled {
		r, err := metrics.LoadRegistry(sys.GEval.RegistryPath, logger)
		if err != nil {
			return nil, err
		}
		registry = r
	}

	data, err := datatypes.LoadEvaluationData(dataPath, sys.API.Enabled)
	if err != nil {
		return nil, err
	}
	pipeline.ResolveScriptPaths(data, filepath.Dir(dataPath))

	return &inputs{sys: sys, registry: registry, data: data}, nil
}

// newLogger builds the run logger from the logging section.
//
// Inputs:
//
//	cfg - logging section of system.yaml. Level names were validated when
//	the config was loaded.
//	w - Destination for console logs. Nil uses stderr.
//
// Outputs:
//
//	*logging.Logger - Close it when the run ends.
//	error - Non-nil if a level is unknown or the log file cannot be opened.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*logging.Logger, error) {
	source, err := logging.ParseLevel(cfg.SourceLevel)
	if err != nil {
		return nil, fmt.Errorf("logging.source_level: %w", err)
	}
	pkg, err := logging.ParseLevel(cfg.PackageLevel)
	if err != nil {
		return nil, fmt.Errorf("logging.package_level: %w", err)
	}

	overrides := make(map[string]logging.Level, len(cfg.PackageOverrides))
	for name, lvl := range cfg.PackageOverrides {
		parsed, err := logging.ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("logging.package_overrides.%s: %w", name, err)
		}
		overrides[name] = parsed
	}

	return logging.New(logging.Config{
		Level:          source,
		PackageLevel:   pkg,
		Overrides:      overrides,
		ShowTimestamps: cfg.ShowTimestamps,
		LogDir:         cfg.LogDir,
		Service:        "lseval",
		JSON:           cfg.LogFormat == config.LogFormatJSON,
		Writer:         w,
	})
}
