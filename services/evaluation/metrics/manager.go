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
	"sort"
	"strconv"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
)

// Level is the scope a metric is evaluated at.
type Level int

const (
	LevelTurn Level = iota
	LevelConversation
)

// String returns "turn" or "conversation".
func (l Level) String() string {
	if l == LevelConversation {
		return "conversation"
	}
	return "turn"
}

// Manager resolves metric lists and thresholds.
//
// Thread Safety: Read-only after construction; safe for concurrent use.
type Manager struct {
	turnMeta map[string]map[string]any
	convMeta map[string]map[string]any
	geval    config.GEvalConfig
	registry *Registry
}

// NewManager creates a manager from the system metadata and the GEval
// registry. registry may be nil.
func NewManager(sys *config.SystemConfig, registry *Registry) *Manager {
	return &Manager{
		turnMeta: sys.MetricsMetadata.TurnLevel,
		convMeta: sys.MetricsMetadata.ConversationLevel,
		geval:    sys.GEval,
		registry: registry,
	}
}

// Registry returns the GEval registry.
func (m *Manager) Registry() *Registry { return m.registry }

// DefaultMetrics returns the metrics marked `default: true` in the system
// metadata for level, sorted by identifier.
func (m *Manager) DefaultMetrics(level Level) []string {
	meta := m.turnMeta
	if level == LevelConversation {
		meta = m.convMeta
	}
	var out []string
	for id, entry := range meta {
		if b, ok := entry["default"].(bool); ok && b {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// TurnMetrics returns the metrics to evaluate for turn.
//
// A nil list means the system defaults; an empty list means none.
func (m *Manager) TurnMetrics(turn *datatypes.TurnData) []string {
	if turn.TurnMetrics == nil {
		return m.DefaultMetrics(LevelTurn)
	}
	return turn.TurnMetrics
}

// ConversationMetrics returns the conversation-level metrics of conv.
func (m *Manager) ConversationMetrics(conv *datatypes.EvaluationData) []string {
	if conv.ConversationMetrics == nil {
		return m.DefaultMetrics(LevelConversation)
	}
	return conv.ConversationMetrics
}

// InjectDefaults prepends geval.default_turn_metrics and
// geval.default_conversation_metrics to every metric list.
//
// Description:
//
//	Metrics already present are not repeated. A nil list becomes a copy of
//	the defaults. Nothing happens when GEval is disabled or no defaults are
//	configured.
//
// Inputs:
//
//	data - Conversation groups. Modified in place.
func (m *Manager) InjectDefaults(data []datatypes.EvaluationData) {
	if !m.geval.Enabled {
		return
	}
	defTurn := m.geval.DefaultTurnMetrics
	defConv := m.geval.DefaultConversationMetrics
	if len(defTurn) == 0 && len(defConv) == 0 {
		return
	}

	for i := range data {
		conv := &data[i]
		if len(defConv) > 0 {
			conv.ConversationMetrics = prependMissing(defConv, conv.ConversationMetrics)
		}
		if len(defTurn) > 0 {
			for j := range conv.Turns {
				conv.Turns[j].TurnMetrics = prependMissing(defTurn, conv.Turns[j].TurnMetrics)
			}
		}
	}
}

func prependMissing(defaults, existing []string) []string {
	if existing == nil {
		return append([]string(nil), defaults...)
	}
	have := make(map[string]bool, len(existing))
	for _, id := range existing {
		have[id] = true
	}
	out := make([]string, 0, len(defaults)+len(existing))
	for _, id := range defaults {
		if !have[id] {
			out = append(out, id)
		}
	}
	return append(out, existing...)
}

// EffectiveThreshold returns the threshold for the metric of req.
//
// Description:
//
//	Sources in priority order: the turn's (or conversation's) own metadata,
//	the system metrics_metadata for the level, the GEval definition. Nil
//	means no threshold is configured and the status default applies.
func (m *Manager) EffectiveThreshold(req datatypes.EvaluationRequest) *float64 {
	id := req.MetricIdentifier

	var itemMeta, sysMeta map[string]map[string]any
	if req.IsConversation() {
		itemMeta, sysMeta = req.Conv.ConversationMetricsMetadata, m.convMeta
	} else {
		itemMeta, sysMeta = req.Turn.TurnMetricsMetadata, m.turnMeta
	}

	if t := thresholdFrom(itemMeta[id]); t != nil {
		return t
	}
	if t := thresholdFrom(sysMeta[id]); t != nil {
		return t
	}

	framework, name, err := datatypes.ParseMetricIdentifier(id)
	if err == nil && framework == datatypes.FrameworkGEval {
		if def, ok := m.registry.Lookup(name); ok && def.Threshold != nil {
			t := *def.Threshold
			return &t
		}
	}
	return nil
}

// thresholdFrom reads entry["threshold"] as a number.
func thresholdFrom(entry map[string]any) *float64 {
	raw, ok := entry["threshold"]
	if !ok || raw == nil {
		return nil
	}
	var v float64
	switch t := raw.(type) {
	case float64:
		v = t
	case float32:
		v = float64(t)
	case int:
		v = float64(t)
	case int64:
		v = float64(t)
	case uint64:
		v = float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil
		}
		v = f
	default:
		return nil
	}
	return &v
}
