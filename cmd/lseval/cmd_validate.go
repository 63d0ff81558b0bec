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
	"sort"
	"text/tabwriter"

	"github.com/jinterlante1206/lightspeed-eval/pkg/ux"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/metrics"
	"github.com/spf13/cobra"
)

func runValidateCmd(cmd *cobra.Command, flags *cliFlags) error {
	report, err := validateInputs(flags.systemConfig, flags.evalData, cmd.ErrOrStderr())
	if err != nil {
		return &runError{op: "Validation failed", err: err}
	}
	ux.Success(fmt.Sprintf("%s and %s are valid", flags.systemConfig, flags.evalData))
	ux.Detail("conversation groups", report.conversations)
	ux.Detail("turns", report.turns)
	ux.Detail("geval registry entries", report.registryEntries)
	return nil
}

// validationReport counts what validateInputs checked.
type validationReport struct {
	conversations   int
	turns           int
	registryEntries int
}

// validateInputs loads every input file without building judges or
// calling the API.
//
// Description:
//
//	On top of the schema checks done while loading, every metric
//	identifier named in the data must have a handler, and every geval
//	metric must exist in the registry or carry criteria in its metadata.
//
// Inputs:
//
//	systemPath - Path to system.yaml.
//	dataPath - Path to the evaluation data.
//	logOut - Destination for warnings.
//
// Outputs:
//
//	validationReport - Counts of validated items.
//	error - The first problem found.
func validateInputs(systemPath, dataPath string, logOut io.Writer) (validationReport, error) {
	sys, err := config.Load(systemPath)
	if err != nil {
		return validationReport{}, err
	}
	logs, err := newLogger(sys.Logging, logOut)
	if err != nil {
		return validationReport{}, err
	}
	defer logs.Close()

	in, err := loadInputs(sys, dataPath, logs.Slog())
	if err != nil {
		return validationReport{}, err
	}

	handlers := metrics.DefaultHandlers(in.registry, nil, nil, logs.Slog())
	manager := metrics.NewManager(sys, in.registry)
	manager.InjectDefaults(in.data)

	report := validationReport{conversations: len(in.data), registryEntries: in.registry.Len()}
	for i := range in.data {
		conv := &in.data[i]
		report.turns += len(conv.Turns)
		for t := range conv.Turns {
			turn := &conv.Turns[t]
			for _, id := range manager.TurnMetrics(turn) {
				if err := checkMetric(handlers, in.registry, id, turn.TurnMetricsMetadata, conv.ConversationMetricsMetadata); err != nil {
					return report, fmt.Errorf("conversation %s turn %s: %w", conv.ConversationGroupID, conv.Turns[t].TurnID, err)
				}
			}
		}
		for _, id := range manager.ConversationMetrics(conv) {
			if err := checkMetric(handlers, in.registry, id, conv.ConversationMetricsMetadata); err != nil {
				return report, fmt.Errorf("conversation %s: %w", conv.ConversationGroupID, err)
			}
		}
	}
	logs.Component("cli").Debug("inputs valid",
		slog.Int("conversations", report.conversations),
		slog.Int("turns", report.turns))
	return report, nil
}

// checkMetric reports whether id can be evaluated. GEval metrics need a
// registry entry or criteria in one of the runtime metadata maps.
func checkMetric(handlers *metrics.Handlers, registry *metrics.Registry, id string, metas ...map[string]map[string]any) error {
	handler, name, err := handlers.Lookup(id)
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}

	if handler.Framework() == datatypes.FrameworkGEval {
		if _, ok := registry.Lookup(name); ok {
			return nil
		}
		for _, meta := range metas {
			if c, ok := meta[id]["criteria"].(string); ok && c != "" {
				return nil
			}
		}
		return fmt.Errorf("%w: %s is neither in the geval registry nor has criteria in its metadata", metrics.ErrUnknownMetric, id)
	}

	for _, m := range handler.Metrics() {
		if m == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", metrics.ErrUnknownMetric, id)
}

// -----------------------------------------------------------------------------
// lseval metrics
// -----------------------------------------------------------------------------

func runMetricsCmd(cmd *cobra.Command, flags *cliFlags) error {
	// Built-in metrics are listed even without a readable config.
	sys, loadErr := config.Load(flags.systemConfig)

	registry := metrics.NewRegistry(nil)
	if loadErr == nil && sys.GEval.Enabled {
		logs, err := newLogger(sys.Logging, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer logs.Close()
		if registry, err = metrics.LoadRegistry(sys.GEval.RegistryPath, logs.Slog()); err != nil {
			return &runError{op: "Loading geval registry failed", err: err}
		}
	}

	handlers := metrics.DefaultHandlers(registry, nil, nil, slog.New(slog.DiscardHandler))
	return printCatalog(cmd.OutOrStdout(), handlers.Catalog(registry), ux.GetPersonality().Level)
}

// printCatalog writes one line per metric. Machine style is tab separated
// without a header.
func printCatalog(w io.Writer, entries []metrics.CatalogEntry, level ux.PersonalityLevel) error {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Identifier < entries[j].Identifier })

	if level == ux.PersonalityMachine {
		for _, e := range entries {
			if _, err := fmt.Fprintf(w, "%s\t%t\t%s\n", e.Identifier, e.UsesJudge, e.Description); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tJUDGE\tDESCRIPTION")
	for _, e := range entries {
		judge := "no"
		if e.UsesJudge {
			judge = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Identifier, judge, e.Description)
	}
	return tw.Flush()
}
