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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// ErrConfigNotFound is returned when the system config path does not exist.
	ErrConfigNotFound = errors.New("system config not found")

	// ErrInvalidConfig wraps every parse and validation failure.
	ErrInvalidConfig = errors.New("invalid system config")
)

// SupportedProviders lists the judge providers the llm package can build.
var SupportedProviders = []string{"openai", "azure", "anthropic", "ollama"}

// SupportedLogLevels lists accepted logging level names.
var SupportedLogLevels = []string{"DEBUG", "INFO", "WARNING", "WARN", "ERROR", "CRITICAL"}

// configValidate is shared by Validate. Field names are reported by their
// YAML key so messages match what users typed.
var configValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// fileConfig is the on-disk shape: the system config plus the legacy panel
// section.
type fileConfig struct {
	SystemConfig `yaml:",inline"`
	LegacyPanel  *legacyPanelConfig `yaml:"panel"`
}

// Load reads, decodes and validates a system configuration file.
//
// Description:
//
//	Defaults from Default() are applied first and the YAML document is
//	decoded on top of them, so every omitted key keeps its default. Decoding
//	is strict: unknown keys and multiple documents are rejected. The legacy
//	`panel:` section is translated into `panel_of_judges`; using both is an
//	error. Judge ids are assigned after validation.
//
// Inputs:
//
//	path - Path to system.yaml.
//
// Outputs:
//
//	*SystemConfig - Validated configuration.
//	error - ErrConfigNotFound or ErrInvalidConfig (wrapped) on failure.
func Load(path string) (*SystemConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read system config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a system configuration document.
func Parse(data []byte) (*SystemConfig, error) {
	fc := fileConfig{SystemConfig: Default()}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file contains multiple documents or trailing content", ErrInvalidConfig)
	}

	cfg := fc.SystemConfig
	if fc.LegacyPanel != nil {
		if hasTopLevelKey(data, "panel_of_judges") {
			return nil, fmt.Errorf("%w: both 'panel' and 'panel_of_judges' are set; keep only panel_of_judges", ErrInvalidConfig)
		}
		translated, err := fc.LegacyPanel.translate(cfg.Panel)
		if err != nil {
			return nil, err
		}
		cfg.Panel = translated
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg and assigns panel judge ids.
//
// All problems found are reported together in one error wrapping
// ErrInvalidConfig.
func Validate(cfg *SystemConfig) error {
	var problems []string

	if err := configValidate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, describeFieldError(fe))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	problems = append(problems, checkSubset("output.enabled_outputs", cfg.Output.EnabledOutputs, SupportedOutputTypes)...)
	problems = append(problems, checkSubset("output.csv_columns", cfg.Output.CSVColumns, SupportedCSVColumns)...)
	problems = append(problems, checkSubset("visualization.enabled_graphs", cfg.Visualization.EnabledGraphs, SupportedGraphTypes)...)
	problems = append(problems, checkSubset("llm.provider", []string{cfg.LLM.Provider}, SupportedProviders)...)

	if cfg.API.Enabled && cfg.API.APIBase == "" {
		problems = append(problems, "api.api_base is required when api.enabled is true")
	}
	if !containsFold(SupportedLogLevels, cfg.Logging.SourceLevel) {
		problems = append(problems, fmt.Sprintf("logging.source_level %q is not one of %v", cfg.Logging.SourceLevel, SupportedLogLevels))
	}
	if !containsFold(SupportedLogLevels, cfg.Logging.PackageLevel) {
		problems = append(problems, fmt.Sprintf("logging.package_level %q is not one of %v", cfg.Logging.PackageLevel, SupportedLogLevels))
	}
	for pkg, lvl := range cfg.Logging.PackageOverrides {
		if !containsFold(SupportedLogLevels, lvl) {
			problems = append(problems, fmt.Sprintf("logging.package_overrides.%s %q is not one of %v", pkg, lvl, SupportedLogLevels))
		}
	}

	if cfg.Panel.Enabled {
		if len(cfg.Panel.Judges) == 0 {
			problems = append(problems, "panel_of_judges is enabled but no judges are configured; add at least one judge to 'judges'")
		}
		for i, j := range cfg.Panel.Judges {
			problems = append(problems, checkSubset(fmt.Sprintf("panel_of_judges.judges[%d].provider", i), []string{j.Provider}, SupportedProviders)...)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(problems, "\n  - "))
	}

	AssignJudgeIDs(cfg.Panel.Judges)
	if cfg.Panel.Enabled {
		known := make(map[string]bool, len(cfg.Panel.Judges))
		for _, j := range cfg.Panel.Judges {
			known[j.JudgeID] = true
		}
		for id := range cfg.Panel.JudgeWeights {
			if !known[id] {
				return fmt.Errorf("%w: panel_of_judges.judge_weights references unknown judge %q", ErrInvalidConfig, id)
			}
		}
	}
	return nil
}

// describeFieldError renders a validator error with the YAML path.
func describeFieldError(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed '%s=%s' (got %v)", path, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: failed '%s' (got %v)", path, fe.Tag(), fe.Value())
}

func checkSubset(key string, values, allowed []string) []string {
	var problems []string
	for _, v := range values {
		found := false
		for _, a := range allowed {
			if v == a {
				found = true
				break
			}
		}
		if !found {
			problems = append(problems, fmt.Sprintf("%s: unsupported value %q (supported: %v)", key, v, allowed))
		}
	}
	return problems
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}

func hasTopLevelKey(data []byte, key string) bool {
	var top map[string]any
	if err := yaml.Unmarshal(data, &top); err != nil {
		return false
	}
	_, ok := top[key]
	return ok
}
