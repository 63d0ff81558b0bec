// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package visualization renders PNG graphs of an evaluation run.
//
// Graphs are written to {output_dir}/graphs/{prefix}_{graph}.png with the
// size (inches) and resolution from the visualization section:
//
//	pass_rates            bar chart of the pass rate per metric
//	score_distribution    histogram of every score
//	conversation_heatmap  mean score per conversation and metric
//	status_breakdown      PASS/FAIL/ERROR counts per metric
package visualization

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio/v2"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/output"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// GraphsDir is the subdirectory of the output directory holding graphs.
const GraphsDir = "graphs"

// errNothingToPlot marks a graph skipped for lack of data.
var errNothingToPlot = errors.New("nothing to plot")

var (
	colorPass  = color.RGBA{R: 46, G: 160, B: 67, A: 255}
	colorFail  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	colorError = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	colorBar   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
)

// Generator renders the enabled graphs.
type Generator struct {
	cfg    config.VisualizationConfig
	dir    string
	logger *slog.Logger
}

// NewGenerator creates a generator writing under outputDir/graphs.
func NewGenerator(cfg config.VisualizationConfig, outputDir string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		cfg:    cfg,
		dir:    filepath.Join(outputDir, GraphsDir),
		logger: logger.With(slog.String("component", "visualization")),
	}
}

// Generate renders every graph in visualization.enabled_graphs.
//
// Description:
//
//	Only final rows are plotted; per-judge rows are ignored. A graph with
//	no data (for example a score histogram when every result is ERROR) is
//	skipped with a log line rather than failing the run.
//
// Inputs:
//
//	prefix - File name prefix shared with the reports.
//	results - All result rows of the run.
//	summary - Statistics computed by output.ComputeStats.
//
// Outputs:
//
//	[]string - Paths of the written PNG files.
//	error - The first rendering or write failure.
func (g *Generator) Generate(prefix string, results []datatypes.EvaluationResult, summary output.Summary) ([]string, error) {
	if len(g.cfg.EnabledGraphs) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create graphs dir: %w", err)
	}

	final := make([]datatypes.EvaluationResult, 0, len(results))
	for _, r := range results {
		if r.IsAggregate() {
			final = append(final, r)
		}
	}

	var files []string
	for _, graph := range g.cfg.EnabledGraphs {
		var (
			p   *plot.Plot
			err error
		)
		switch graph {
		case config.GraphPassRates:
			p, err = passRatesPlot(summary)
		case config.GraphScoreDistribution:
			p, err = scoreDistributionPlot(final)
		case config.GraphConversationHeatmap:
			p, err = heatmapPlot(final)
		case config.GraphStatusBreakdown:
			p, err = statusBreakdownPlot(summary)
		default:
			g.logger.Warn("unknown graph type, skipping", slog.String("graph", graph))
			continue
		}
		if errors.Is(err, errNothingToPlot) {
			g.logger.Info("no data for graph, skipping", slog.String("graph", graph))
			continue
		}
		if err != nil {
			return files, fmt.Errorf("render %s: %w", graph, err)
		}

		path := filepath.Join(g.dir, prefix+"_"+graph+".png")
		if err := g.save(p, path); err != nil {
			return files, fmt.Errorf("save %s: %w", graph, err)
		}
		g.logger.Debug("graph written", slog.String("path", path))
		files = append(files, path)
	}
	return files, nil
}

func (g *Generator) save(p *plot.Plot, path string) error {
	w, h := 12.0, 8.0
	if len(g.cfg.FigSize) == 2 {
		w, h = float64(g.cfg.FigSize[0]), float64(g.cfg.FigSize[1])
	}
	dpi := g.cfg.DPI
	if dpi <= 0 {
		dpi = config.DefaultVisualizationDP
	}

	c := vgimg.NewWith(vgimg.UseWH(vg.Length(w)*vg.Inch, vg.Length(h)*vg.Inch), vgimg.UseDPI(dpi))
	p.Draw(draw.New(c))

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(&buf); err != nil {
		return err
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}

// -----------------------------------------------------------------------------
// Graphs
// -----------------------------------------------------------------------------

func passRatesPlot(summary output.Summary) (*plot.Plot, error) {
	metrics := output.SortedKeys(summary.ByMetric)
	if len(metrics) == 0 {
		return nil, errNothingToPlot
	}
	values := make(plotter.Values, len(metrics))
	for i, m := range metrics {
		values[i] = summary.ByMetric[m].PassRate
	}

	p := plot.New()
	p.Title.Text = "Pass Rate by Metric"
	p.Y.Label.Text = "Pass rate (%)"
	p.Y.Min, p.Y.Max = 0, 100

	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return nil, err
	}
	bars.Color = colorBar
	bars.LineStyle.Width = 0
	p.Add(bars, plotter.NewGrid())
	p.NominalX(metrics...)
	return p, nil
}

func scoreDistributionPlot(results []datatypes.EvaluationResult) (*plot.Plot, error) {
	var scores plotter.Values
	for _, r := range results {
		if r.Score != nil && r.Result != datatypes.StatusError {
			scores = append(scores, *r.Score)
		}
	}
	if len(scores) == 0 {
		return nil, errNothingToPlot
	}

	p := plot.New()
	p.Title.Text = "Score Distribution"
	p.X.Label.Text = "Score"
	p.Y.Label.Text = "Count"
	p.X.Min, p.X.Max = 0, 1

	hist, err := plotter.NewHist(scores, 10)
	if err != nil {
		return nil, err
	}
	hist.FillColor = colorBar
	p.Add(hist)
	return p, nil
}

func statusBreakdownPlot(summary output.Summary) (*plot.Plot, error) {
	metrics := output.SortedKeys(summary.ByMetric)
	if len(metrics) == 0 {
		return nil, errNothingToPlot
	}
	pass := make(plotter.Values, len(metrics))
	fail := make(plotter.Values, len(metrics))
	errs := make(plotter.Values, len(metrics))
	for i, m := range metrics {
		g := summary.ByMetric[m]
		pass[i], fail[i], errs[i] = float64(g.Pass), float64(g.Fail), float64(g.Error)
	}

	p := plot.New()
	p.Title.Text = "Result Status by Metric"
	p.Y.Label.Text = "Count"
	p.Legend.Top = true

	width := vg.Points(12)
	series := []struct {
		label  string
		values plotter.Values
		color  color.Color
		offset vg.Length
	}{
		{"PASS", pass, colorPass, -width},
		{"FAIL", fail, colorFail, 0},
		{"ERROR", errs, colorError, width},
	}
	for _, s := range series {
		bars, err := plotter.NewBarChart(s.values, width)
		if err != nil {
			return nil, err
		}
		bars.Color = s.color
		bars.LineStyle.Width = 0
		bars.Offset = s.offset
		p.Add(bars)
		p.Legend.Add(s.label, bars)
	}
	p.NominalX(metrics...)
	return p, nil
}

// scoreGrid holds mean scores indexed by conversation (row) and metric
// (column). Missing cells are NaN.
type scoreGrid struct {
	convs   []string
	metrics []string
	z       [][]float64
}

func (g scoreGrid) Dims() (c, r int)   { return len(g.metrics), len(g.convs) }
func (g scoreGrid) Z(c, r int) float64 { return g.z[r][c] }
func (g scoreGrid) X(c int) float64    { return float64(c) }
func (g scoreGrid) Y(r int) float64    { return float64(r) }

func newScoreGrid(results []datatypes.EvaluationResult) scoreGrid {
	type key struct{ conv, metric string }
	sums := map[key]float64{}
	counts := map[key]int{}
	convSet := map[string]bool{}
	metricSet := map[string]bool{}
	for _, r := range results {
		if r.Score == nil || r.Result == datatypes.StatusError {
			continue
		}
		k := key{r.ConversationGroupID, r.MetricIdentifier}
		sums[k] += *r.Score
		counts[k]++
		convSet[r.ConversationGroupID] = true
		metricSet[r.MetricIdentifier] = true
	}

	g := scoreGrid{convs: sortedSet(convSet), metrics: sortedSet(metricSet)}
	g.z = make([][]float64, len(g.convs))
	for ri, conv := range g.convs {
		g.z[ri] = make([]float64, len(g.metrics))
		for ci, m := range g.metrics {
			k := key{conv, m}
			if counts[k] == 0 {
				g.z[ri][ci] = math.NaN()
				continue
			}
			g.z[ri][ci] = sums[k] / float64(counts[k])
		}
	}
	return g
}

func heatmapPlot(results []datatypes.EvaluationResult) (*plot.Plot, error) {
	grid := newScoreGrid(results)
	if len(grid.convs) == 0 {
		return nil, errNothingToPlot
	}

	cmap := moreland.SmoothBlueRed()
	cmap.SetMin(0)
	cmap.SetMax(1)
	hm := plotter.NewHeatMap(grid, cmap.Palette(64))
	hm.Min, hm.Max = 0, 1
	hm.NaN = color.RGBA{R: 220, G: 220, B: 220, A: 255}

	p := plot.New()
	p.Title.Text = "Mean Score by Conversation and Metric"
	p.Add(hm)
	p.NominalX(grid.metrics...)
	p.NominalY(grid.convs...)
	return p, nil
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
