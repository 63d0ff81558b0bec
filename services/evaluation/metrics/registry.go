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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRegistry wraps GEval registry parse failures.
var ErrInvalidRegistry = errors.New("invalid geval registry")

// GEvalDefinition describes one configurable GEval metric.
type GEvalDefinition struct {
	Criteria         string   `yaml:"criteria"`
	EvaluationParams []string `yaml:"evaluation_params,omitempty"`
	EvaluationSteps  []string `yaml:"evaluation_steps,omitempty"`
	Threshold        *float64 `yaml:"threshold,omitempty"`
	Description      string   `yaml:"description,omitempty"`
}

// Registry holds GEval definitions by metric name (without the "geval:"
// prefix).
//
// Thread Safety: Read-only after loading; safe for concurrent use.
type Registry struct {
	path        string
	definitions map[string]GEvalDefinition
}

// NewRegistry builds a registry from definitions. Used by tests and callers
// that assemble definitions in code.
func NewRegistry(definitions map[string]GEvalDefinition) *Registry {
	if definitions == nil {
		definitions = map[string]GEvalDefinition{}
	}
	return &Registry{definitions: definitions}
}

// LoadRegistry reads the GEval registry YAML.
//
// Description:
//
//	A missing file is not an error: a warning is logged and an empty
//	registry is returned, so GEval metrics rely on runtime metadata only.
//	A file that exists but does not parse is an error.
//
// Inputs:
//
//	path - Registry path, e.g. config/geval_metrics.yaml.
//	logger - Logger for the missing-file warning. Nil uses slog.Default().
//
// Outputs:
//
//	*Registry - Loaded registry, possibly empty.
//	error - ErrInvalidRegistry (wrapped) on malformed content.
func LoadRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("geval registry not found, using runtime metadata only", slog.String("path", path))
			return &Registry{path: path, definitions: map[string]GEvalDefinition{}}, nil
		}
		return nil, fmt.Errorf("read geval registry: %w", err)
	}

	defs := map[string]GEvalDefinition{}
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRegistry, path, err)
	}
	for name, def := range defs {
		if def.Criteria == "" {
			return nil, fmt.Errorf("%w: metric %q has no criteria", ErrInvalidRegistry, name)
		}
	}

	logger.Info("loaded geval registry", slog.String("path", path), slog.Int("metrics", len(defs)))
	return &Registry{path: path, definitions: defs}, nil
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name string) (GEvalDefinition, bool) {
	if r == nil {
		return GEvalDefinition{}, false
	}
	def, ok := r.definitions[name]
	return def, ok
}

// Names returns the registered metric names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.definitions))
	for n := range r.definitions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of definitions.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.definitions)
}

// Path returns the file the registry was loaded from.
func (r *Registry) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// definitionFromMetadata decodes inline metadata (turn_metrics_metadata or
// conversation_metrics_metadata entries) into a definition.
func definitionFromMetadata(meta map[string]any) (GEvalDefinition, error) {
	raw, err := yaml.Marshal(meta)
	if err != nil {
		return GEvalDefinition{}, err
	}
	var def GEvalDefinition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return GEvalDefinition{}, err
	}
	return def, nil
}
