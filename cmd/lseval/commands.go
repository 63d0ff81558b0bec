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

	"github.com/jinterlante1206/lightspeed-eval/pkg/ux"
	"github.com/spf13/cobra"
)

// Default input locations, relative to the working directory.
const (
	defaultSystemConfig = "config/system.yaml"
	defaultEvalData     = "config/evaluation_data.yaml"
)

// cliFlags holds the values bound to the command line flags.
type cliFlags struct {
	systemConfig string
	evalData     string
	outputDir    string
	style        string
}

// newRootCmd builds the command tree. Running the root command without a
// subcommand is the same as `lseval evaluate`.
func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	evaluate := func(cmd *cobra.Command, _ []string) error {
		return runEvaluateCmd(cmd, flags)
	}

	rootCmd := &cobra.Command{
		Use:   "lseval",
		Short: "Evaluate the Lightspeed assistant with LLM-as-judge metrics",
		Long: `lseval scores conversations with the Lightspeed assistant using Ragas,
DeepEval, GEval, custom and script metrics, optionally asking the live API
for responses first. Reports are written as CSV, JSON and text with PNG
graphs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ux.InitPersonality(flags.style)
		},
		RunE: evaluate,
	}

	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run the evaluation and write reports (default command)",
		Args:  cobra.NoArgs,
		RunE:  evaluate,
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the system config, GEval registry and evaluation data",
		Long: `Loads and validates every input file without calling any LLM or the
Lightspeed API. Exits 1 on the first problem.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidateCmd(cmd, flags)
		},
	}

	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "List supported metrics and the GEval registry entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMetricsCmd(cmd, flags)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the lseval version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lseval %s\n", version)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.systemConfig, "system-config", defaultSystemConfig, "Path to the system configuration file")
	pf.StringVar(&flags.evalData, "eval-data", defaultEvalData, "Path to the evaluation data file")
	pf.StringVar(&flags.style, "style", "", "Output style: full, standard, minimal or machine (env "+ux.StyleEnv+")")

	// --output-dir belongs to the evaluation, which is also the root action.
	rootCmd.Flags().StringVar(&flags.outputDir, "output-dir", "", "Override output.output_dir from the system config")
	evaluateCmd.Flags().StringVar(&flags.outputDir, "output-dir", "", "Override output.output_dir from the system config")

	rootCmd.AddCommand(evaluateCmd, validateCmd, metricsCmd, versionCmd)
	return rootCmd
}
