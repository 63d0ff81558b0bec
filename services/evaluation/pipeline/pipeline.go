// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs an evaluation: it builds the judges, the API client
// and the metric handlers from the system configuration, then evaluates
// conversation groups in parallel.
//
// # Usage
//
//	p, err := pipeline.New(pipeline.Options{System: cfg, Registry: reg, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	results, err := p.Run(ctx, data)
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/api"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/cache"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/metrics"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/panel"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/script"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/telemetry"
	"github.com/jinterlante1206/lightspeed-eval/services/llm"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// AmendedDataSuffix is appended to output.base_filename for the evaluation
// data amended with API responses.
const AmendedDataSuffix = "_amended_data.yaml"

// ErrNoData is returned by Run when there is nothing to evaluate.
var ErrNoData = errors.New("no evaluation data")

// Options configure New.
type Options struct {
	System   *config.SystemConfig
	Registry *metrics.Registry
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger

	// NewClient overrides judge provider construction.
	NewClient func(cfg config.LLMConfig) (llm.LLMClient, error)

	// Embedder overrides the configured embedding model.
	Embedder metrics.Embedder

	// Scripts overrides the script runner.
	Scripts script.Executor

	// HTTPClient overrides the Lightspeed API transport.
	HTTPClient *http.Client
}

// Pipeline owns every component of an evaluation run.
type Pipeline struct {
	sys       *config.SystemConfig
	caches    *cache.Registry
	manager   *metrics.Manager
	panel     *panel.Panel
	processor *Processor
	logger    *slog.Logger
}

// New builds the pipeline components.
//
// Description:
//
//	Builds, in order: the cache registry, the primary judge and the panel
//	judges, the embedder (a failure here only disables
//	ragas:response_relevancy), the script runner, the API client when
//	api.enabled, the metric handlers, the evaluator and the processor.
//
// Inputs:
//
//	opts - System config (required) and optional overrides.
//
// Outputs:
//
//	*Pipeline - Ready to Run. Call Close when done.
//	error - Non-nil if a judge or the API client cannot be built.
func New(opts Options) (*Pipeline, error) {
	if opts.System == nil {
		return nil, errors.New("pipeline: system config is required")
	}
	sys := opts.System
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	caches := cache.NewRegistry(logger)
	p := &Pipeline{
		sys:     sys,
		caches:  caches,
		manager: metrics.NewManager(sys, opts.Registry),
		logger:  logger.With(slog.String("component", "pipeline")),
	}

	primary, panelJudges, err := llm.BuildJudges(sys, llm.Deps{
		Caches:    caches,
		Metrics:   opts.Metrics,
		Logger:    logger,
		NewClient: opts.NewClient,
	})
	if err != nil {
		_ = caches.Close()
		return nil, fmt.Errorf("build judges: %w", err)
	}
	p.logger.Debug("primary judge ready",
		slog.String("provider", primary.Provider()),
		slog.String("model", primary.Model()))
	if len(panelJudges) > 0 {
		members := make([]metrics.Judge, len(panelJudges))
		for i, j := range panelJudges {
			members[i] = j
			p.logger.Debug("panel judge ready",
				slog.String("judge", j.ID()),
				slog.String("provider", j.Provider()),
				slog.String("model", j.Model()))
		}
		p.panel = panel.New(sys.Panel, members, logger)
		p.logger.Info("panel of judges enabled",
			slog.Int("judges", p.panel.Size()),
			slog.String("aggregation", sys.Panel.AggregationMethod),
			slog.Any("apply_to", sys.Panel.ApplyTo))
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder = p.buildEmbedder()
	}

	scripts := opts.Scripts
	if scripts == nil {
		scripts = script.NewRunner(script.DefaultTimeout, logger)
	}

	var querier Querier
	if sys.API.Enabled {
		client, err := p.buildAPIClient(opts, logger)
		if err != nil {
			_ = caches.Close()
			return nil, err
		}
		querier = client
	}

	evaluator := NewEvaluator(EvaluatorConfig{
		Handlers:   metrics.DefaultHandlers(opts.Registry, embedder, scripts, logger),
		Manager:    p.manager,
		Primary:    primary,
		Panel:      p.panel,
		APIEnabled: sys.API.Enabled,
		Metrics:    opts.Metrics,
		Logger:     logger,
	})
	p.processor = NewProcessor(evaluator, p.manager, querier, scripts, logger)
	return p, nil
}

func (p *Pipeline) buildEmbedder() metrics.Embedder {
	inner, err := llm.NewEmbedder(p.sys.Embedding)
	if err != nil {
		p.logger.Warn("embedding model unavailable, ragas:response_relevancy will fail",
			slog.String("error", err.Error()))
		return nil
	}
	if !p.sys.Embedding.CacheEnable {
		return inner
	}
	c, err := p.caches.Get(p.sys.Embedding.CacheDir)
	if err != nil {
		p.logger.Warn("embedding cache unavailable", slog.String("error", err.Error()))
		return inner
	}
	return llm.NewCachedEmbedder(inner, c, p.sys.Embedding.Model)
}

func (p *Pipeline) buildAPIClient(opts Options, logger *slog.Logger) (*api.Client, error) {
	apiOpts := []api.Option{api.WithLogger(logger), api.WithMetrics(opts.Metrics)}
	if opts.HTTPClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(opts.HTTPClient))
	}
	if p.sys.API.CacheEnable && p.sys.API.CacheDir != "" {
		c, err := p.caches.Get(p.sys.API.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("api cache: %w", err)
		}
		apiOpts = append(apiOpts, api.WithCache(c))
	}
	client, err := api.New(p.sys.API, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("build api client: %w", err)
	}
	return client, nil
}

// Workers returns the number of conversations evaluated in parallel for a
// run over n conversations.
func (p *Pipeline) Workers(n int) int {
	if p.sys.Core.MaxThreads != nil {
		return *p.sys.Core.MaxThreads
	}
	return max(n, 1)
}

// Run evaluates every conversation group.
//
// Description:
//
//	Default GEval metrics are injected first. Conversations are then
//	processed by a pool of Workers(len(data)) goroutines; each
//	conversation's turns stay sequential because later turns depend on
//	the conversation id of earlier ones. Results are returned in data
//	order regardless of completion order. data is amended in place.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	data - The conversation groups.
//
// Outputs:
//
//	[]datatypes.EvaluationResult - All result rows.
//	error - ErrNoData, or ctx.Err() when cancelled (partial results are
//	still returned).
func (p *Pipeline) Run(ctx context.Context, data []datatypes.EvaluationData) ([]datatypes.EvaluationResult, error) {
	if len(data) == 0 {
		return nil, ErrNoData
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Pipeline.Run")
	defer span.End()

	p.manager.InjectDefaults(data)

	workers := p.Workers(len(data))
	p.logger.Info("starting evaluation",
		slog.Int("conversations", len(data)),
		slog.Int("workers", workers))
	start := time.Now()

	perConv := make([][]datatypes.EvaluationResult, len(data))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range data {
		g.Go(func() error {
			perConv[i] = p.processor.Process(gctx, &data[i])
			return nil
		})
	}
	_ = g.Wait()

	var results []datatypes.EvaluationResult
	for _, rows := range perConv {
		results = append(results, rows...)
	}

	p.logger.Info("evaluation finished",
		slog.Int("results", len(results)),
		slog.Duration("elapsed", time.Since(start)))
	if err := ctx.Err(); err != nil {
		telemetry.RecordError(span, err)
		return results, err
	}
	telemetry.SetSpanOK(span)
	return results, nil
}

// SaveAmendedData writes data (as amended by Run) to
// {dir}/{base}_amended_data.yaml and returns the path.
func SaveAmendedData(data []datatypes.EvaluationData, dir, base string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	raw, err := yaml.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal amended data: %w", err)
	}
	path := filepath.Join(dir, base+AmendedDataSuffix)
	if err := renameio.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write amended data: %w", err)
	}
	return path, nil
}

// Close releases the caches.
func (p *Pipeline) Close() error {
	return p.caches.Close()
}
