// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics resolves which metrics apply to each turn and conversation
// and scores them.
//
// Every metric is addressed as "framework:name". A Handler implements one
// framework. LLM-backed handlers score with whatever Judge they are handed,
// so the same handler serves the primary judge and each member of a panel.
// Scores are always normalized to [0, 1].
package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
)

var (
	// ErrUnsupportedFramework is returned for a framework with no handler.
	ErrUnsupportedFramework = errors.New("unsupported framework")

	// ErrUnknownMetric is returned for a metric name the handler does not know.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrMissingField is returned when the turn lacks data the metric needs.
	ErrMissingField = errors.New("missing required field")

	// ErrNoJudge is returned when an LLM-backed metric is scored without a judge.
	ErrNoJudge = errors.New("metric requires a judge")
)

// Judge is an LLM that answers judge prompts.
//
// *llm.Judge satisfies this interface.
type Judge interface {
	ID() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Score is the outcome of one metric with one judge.
type Score struct {
	Value  float64
	Reason string
}

// Handler scores the metrics of one framework.
type Handler interface {
	// Framework returns the framework prefix, e.g. "ragas".
	Framework() string

	// Metrics lists the metric names the handler supports. Handlers that
	// accept any name (geval) return nil.
	Metrics() []string

	// UsesJudge reports whether name is scored by an LLM judge. Only such
	// metrics are eligible for a panel of judges.
	UsesJudge(name string) bool

	// Evaluate scores name for req. judge may be nil when UsesJudge is false.
	Evaluate(ctx context.Context, name string, req datatypes.EvaluationRequest, judge Judge) (Score, error)
}

// Handlers routes metric identifiers to their framework handler.
type Handlers struct {
	byFramework map[string]Handler
}

// NewHandlers indexes handlers by framework. A later handler replaces an
// earlier one with the same framework.
func NewHandlers(handlers ...Handler) *Handlers {
	h := &Handlers{byFramework: make(map[string]Handler, len(handlers))}
	for _, handler := range handlers {
		h.byFramework[handler.Framework()] = handler
	}
	return h
}

// Lookup splits id and returns the handler for its framework.
func (h *Handlers) Lookup(id string) (Handler, string, error) {
	framework, name, err := datatypes.ParseMetricIdentifier(id)
	if err != nil {
		return nil, "", err
	}
	handler, ok := h.byFramework[framework]
	if !ok {
		return nil, name, fmt.Errorf("%w: %s", ErrUnsupportedFramework, framework)
	}
	return handler, name, nil
}

// Frameworks returns the registered frameworks, sorted.
func (h *Handlers) Frameworks() []string {
	out := make([]string, 0, len(h.byFramework))
	for f := range h.byFramework {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Get returns the handler for framework.
func (h *Handlers) Get(framework string) (Handler, bool) {
	handler, ok := h.byFramework[framework]
	return handler, ok
}

func unknownMetric(framework, name string) error {
	return fmt.Errorf("%w: %s:%s", ErrUnknownMetric, framework, name)
}

func missingField(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}
