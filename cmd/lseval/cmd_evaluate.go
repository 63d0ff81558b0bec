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
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jinterlante1206/lightspeed-eval/pkg/logging"
	"github.com/jinterlante1206/lightspeed-eval/pkg/ux"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/metrics"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/output"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/pipeline"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/telemetry"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/visualization"
	"github.com/jinterlante1206/lightspeed-eval/services/llm"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

// MetricsFileSuffix is appended to output.base_filename for the Prometheus
// textfile written when telemetry.metric_exporter is "prometheus".
const MetricsFileSuffix = "_metrics.prom"

// shutdownTimeout bounds telemetry flushing at the end of a run.
const shutdownTimeout = 5 * time.Second

// evalOptions configure runEvaluation. The hooks replace external services
// in tests.
type evalOptions struct {
	SystemConfig string
	EvalData     string
	OutputDir    string

	LogWriter  io.Writer
	NewClient  func(cfg config.LLMConfig) (llm.LLMClient, error)
	Embedder   metrics.Embedder
	HTTPClient *http.Client
	Uploader   output.Uploader
}

// evalOutcome is everything a finished run produced.
type evalOutcome struct {
	RunID         string
	System        *config.SystemConfig
	Conversations int
	Results       []datatypes.EvaluationResult
	ReportDir     string
	Report        *output.Report
	Graphs        []string
	AmendedData   string
	MetricsFile   string
	Uploaded      []string
}

// Files lists every file written by the run.
func (o *evalOutcome) Files() []string {
	var files []string
	if o.Report != nil {
		files = append(files, o.Report.Files...)
	}
	files = append(files, o.Graphs...)
	if o.AmendedData != "" {
		files = append(files, o.AmendedData)
	}
	if o.MetricsFile != "" {
		files = append(files, o.MetricsFile)
	}
	return files
}

func runEvaluateCmd(cmd *cobra.Command, flags *cliFlags) error {
	ux.Banner(version)

	outcome, err := runEvaluation(cmd.Context(), evalOptions{
		SystemConfig: flags.systemConfig,
		EvalData:     flags.evalData,
		OutputDir:    flags.outputDir,
	})
	if err != nil {
		return &runError{op: "Evaluation failed", err: err}
	}

	ux.PrintRunSummary(runSummary(outcome))
	return nil
}

// runEvaluation performs a complete run.
//
// Description:
//
//	Loads the inputs, sets up logging and telemetry, runs the pipeline and
//	writes the amended data (when the API is enabled), the reports, the
//	graphs and the Prometheus textfile. Optional exports (GCS upload,
//	InfluxDB) run last; their failures are logged as warnings and do not
//	fail the run.
//
// Inputs:
//
//	ctx - Cancelling ctx stops the evaluation; partial results are
//	reported and the run fails.
//	opts - Paths and test hooks.
//
// Outputs:
//
//	*evalOutcome - What the run produced.
//	error - Load, validation, pipeline or report failure.
func runEvaluation(ctx context.Context, opts evalOptions) (*evalOutcome, error) {
	ux.Step("Loading configuration")
	sys, err := config.Load(opts.SystemConfig)
	if err != nil {
		return nil, err
	}

	logs, err := newLogger(sys.Logging, opts.LogWriter)
	if err != nil {
		return nil, err
	}
	defer logs.Close()
	log := logs.Component("cli")

	in, err := loadInputs(sys, opts.EvalData, logs.Slog())
	if err != nil {
		return nil, err
	}
	ux.Detail("system config", opts.SystemConfig)
	ux.Detail("evaluation data", opts.EvalData)
	ux.Detail("judge", sys.LLM.Provider+"/"+sys.LLM.Model)
	ux.Detail("conversation groups", len(in.data))
	if path := logs.Path(); path != "" {
		ux.Detail("log file", path)
	}

	tel, meters := setupTelemetry(ctx, sys, logs)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	ux.Step("Building evaluation pipeline")
	p, err := pipeline.New(pipeline.Options{
		System:     sys,
		Registry:   in.registry,
		Metrics:    meters,
		Logger:     logs.Slog(),
		NewClient:  opts.NewClient,
		Embedder:   opts.Embedder,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("closing caches failed", slog.String("error", err.Error()))
		}
	}()

	ux.Step(fmt.Sprintf("Evaluating %d conversation group(s)", len(in.data)))
	results, runErr := p.Run(ctx, in.data)
	if runErr != nil && len(results) == 0 {
		return nil, runErr
	}

	outcome := &evalOutcome{
		RunID:         uuid.NewString(),
		System:        sys,
		Conversations: len(in.data),
		Results:       results,
	}

	ux.Step("Writing reports")
	handler, err := output.NewHandler(sys, opts.OutputDir, logs.Slog())
	if err != nil {
		return nil, err
	}
	outcome.ReportDir = handler.Dir()
	if sys.API.Enabled {
		path, err := pipeline.SaveAmendedData(in.data, handler.Dir(), sys.Output.BaseFilename)
		if err != nil {
			return nil, err
		}
		outcome.AmendedData = path
	}

	rep, err := handler.Generate(results)
	if err != nil {
		return nil, err
	}
	outcome.Report = rep

	if len(sys.Visualization.EnabledGraphs) > 0 {
		gen := visualization.NewGenerator(sys.Visualization, handler.Dir(), logs.Slog())
		graphs, err := gen.Generate(rep.Prefix, results, rep.Summary)
		if err != nil {
			log.Warn("graph generation failed", slog.String("error", err.Error()))
		}
		outcome.Graphs = graphs
	}

	if tel.PrometheusEnabled() {
		path := filepath.Join(handler.Dir(), sys.Output.BaseFilename+MetricsFileSuffix)
		if err := tel.WriteTextfile(path); err != nil {
			log.Warn("metrics textfile not written", slog.String("error", err.Error()))
		} else {
			outcome.MetricsFile = path
		}
	}

	exportResults(ctx, sys, outcome, opts.Uploader, logs.Slog())

	if runErr != nil {
		return outcome, fmt.Errorf("evaluation interrupted after %d result(s): %w", len(results), runErr)
	}
	return outcome, nil
}

// setupTelemetry installs the configured OTel providers and the lseval
// instruments. Telemetry failures never stop a run: they are logged and
// the no-op providers stay in place.
func setupTelemetry(ctx context.Context, sys *config.SystemConfig, logs *logging.Logger) (*telemetry.Provider, *telemetry.Metrics) {
	log := logs.Component("telemetry")
	otelLog := logs.Package("otel")
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		otelLog.Warn("otel error", slog.String("error", err.Error()))
	}))

	tel, err := telemetry.Init(ctx, telemetry.FromSystem(sys.Telemetry, version))
	if err != nil {
		log.Warn("telemetry disabled", slog.String("error", err.Error()))
		tel, _ = telemetry.Init(ctx, telemetry.Config{ServiceName: "lseval"})
	}

	meters, err := telemetry.NewMetrics(otel.Meter("lseval"))
	if err != nil {
		log.Warn("metric instruments unavailable", slog.String("error", err.Error()))
		return tel, nil
	}
	return tel, meters
}

// exportResults runs the optional GCS upload and InfluxDB export.
func exportResults(ctx context.Context, sys *config.SystemConfig, outcome *evalOutcome, uploader output.Uploader, logger *slog.Logger) {
	log := logger.With(slog.String("component", "export"), slog.String("run_id", outcome.RunID))

	if up := sys.Output.Upload; up != nil {
		ux.Step("Uploading reports to gs://" + up.Bucket)
		if uploader == nil {
			client, err := output.NewGCSClient(ctx, *up, logger)
			if err != nil {
				log.Warn("report upload skipped", slog.String("error", err.Error()))
			} else {
				defer client.Close()
				uploader = client
			}
		}
		if uploader != nil {
			objects, err := output.UploadReports(ctx, uploader, up.Prefix, outcome.Report.Prefix+"_"+outcome.RunID, outcome.Files())
			if err != nil {
				log.Warn("report upload incomplete", slog.Int("uploaded", len(objects)), slog.String("error", err.Error()))
			}
			outcome.Uploaded = objects
		}
	}

	if cfg := sys.Output.InfluxDB; cfg != nil {
		ux.Step("Exporting results to InfluxDB")
		exporter, err := output.NewInfluxExporter(*cfg, logger)
		if err != nil {
			log.Warn("influxdb export skipped", slog.String("error", err.Error()))
			return
		}
		defer exporter.Close()
		if err := exporter.Export(ctx, outcome.RunID, outcome.Report.Timestamp, outcome.Results); err != nil {
			log.Warn("influxdb export failed", slog.String("error", err.Error()))
		}
	}
}

// runSummary converts an outcome for the console.
func runSummary(o *evalOutcome) ux.RunSummary {
	overall := o.Report.Summary.Overall
	s := ux.RunSummary{
		Provider:      o.System.LLM.Provider,
		Model:         o.System.LLM.Model,
		Conversations: o.Conversations,
		Evaluations:   overall.Total,
		ReportDir:     o.ReportDir,
		Pass:          overall.Pass,
		Fail:          overall.Fail,
		Error:         overall.Error,
		Files:         o.Files(),
	}
	for _, id := range output.SortedKeys(o.Report.Summary.ByMetric) {
		g := o.Report.Summary.ByMetric[id]
		s.Metrics = append(s.Metrics, ux.MetricLine{Metric: id, Pass: g.Pass, Fail: g.Fail, Error: g.Error})
	}
	return s
}
