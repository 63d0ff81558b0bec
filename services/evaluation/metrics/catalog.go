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
	"log/slog"

	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/script"
)

// DefaultHandlers returns one handler per supported framework.
func DefaultHandlers(registry *Registry, embedder Embedder, exec script.Executor, logger *slog.Logger) *Handlers {
	return NewHandlers(
		NewRagasHandler(embedder),
		NewDeepEvalHandler(),
		NewGEvalHandler(registry, logger),
		NewCustomHandler(),
		NewScriptHandler(exec),
	)
}

// CatalogEntry describes a supported metric for `lseval metrics`.
type CatalogEntry struct {
	Identifier  string
	UsesJudge   bool
	Description string
}

// Catalog lists the fixed metrics of every handler followed by the GEval
// registry entries.
func (h *Handlers) Catalog(registry *Registry) []CatalogEntry {
	var out []CatalogEntry
	for _, f := range h.Frameworks() {
		handler := h.byFramework[f]
		for _, name := range handler.Metrics() {
			out = append(out, CatalogEntry{
				Identifier: f + ":" + name,
				UsesJudge:  handler.UsesJudge(name),
			})
		}
	}
	for _, name := range registry.Names() {
		def, _ := registry.Lookup(name)
		out = append(out, CatalogEntry{
			Identifier:  "geval:" + name,
			UsesJudge:   true,
			Description: def.Description,
		})
	}
	return out
}
