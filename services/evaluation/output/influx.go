// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package output

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/jinterlante1206/lightspeed-eval/pkg/secrets"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/datatypes"
)

// DefaultMeasurement is used when influxdb.measurement is empty.
const DefaultMeasurement = "lseval_results"

// InfluxExporter writes one point per result row.
type InfluxExporter struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	logger      *slog.Logger
}

// NewInfluxExporter connects to cfg.URL. The token is read from
// cfg.TokenEnv (default INFLUXDB_TOKEN).
func NewInfluxExporter(cfg config.InfluxDBConfig, logger *slog.Logger) (*InfluxExporter, error) {
	env := cfg.TokenEnv
	if env == "" {
		env = secrets.SecretInfluxToken
	}
	token, err := secrets.FromEnv(env)
	if err != nil {
		return nil, fmt.Errorf("influxdb token: %w", err)
	}
	return newInfluxExporter(cfg, token, logger)
}

func newInfluxExporter(cfg config.InfluxDBConfig, token *secrets.Secret, logger *slog.Logger) (*InfluxExporter, error) {
	var client influxdb2.Client
	if err := token.Use(func(v []byte) error {
		client = influxdb2.NewClient(cfg.URL, string(v))
		return nil
	}); err != nil {
		return nil, fmt.Errorf("influxdb token: %w", err)
	}

	measurement := cfg.Measurement
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InfluxExporter{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
		logger:      logger.With(slog.String("component", "influxdb")),
	}, nil
}

// Points converts results to line protocol points.
//
// Tags: run_id, conversation, turn, metric, judge, result. Fields: score
// and threshold (when set), execution_time and passed (1 or 0). Empty tag
// values are omitted.
func (e *InfluxExporter) Points(runID string, ts time.Time, results []datatypes.EvaluationResult) []*write.Point {
	points := make([]*write.Point, 0, len(results))
	for _, r := range results {
		tags := map[string]string{"run_id": runID, "result": string(r.Result)}
		setTag(tags, "conversation", r.ConversationGroupID)
		setTag(tags, "turn", r.TurnID)
		setTag(tags, "metric", r.MetricIdentifier)
		setTag(tags, "judge", r.JudgeID)

		passed := 0
		if r.Result == datatypes.StatusPass {
			passed = 1
		}
		fields := map[string]interface{}{
			"execution_time": r.ExecutionTime,
			"passed":         passed,
		}
		if r.Score != nil {
			fields["score"] = *r.Score
		}
		if r.Threshold != nil {
			fields["threshold"] = *r.Threshold
		}
		points = append(points, influxdb2.NewPoint(e.measurement, tags, fields, ts))
	}
	return points
}

// Export writes every result in one blocking batch.
func (e *InfluxExporter) Export(ctx context.Context, runID string, ts time.Time, results []datatypes.EvaluationResult) error {
	points := e.Points(runID, ts, results)
	if len(points) == 0 {
		return nil
	}
	if err := e.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write %d points to influxdb: %w", len(points), err)
	}
	e.logger.Info("results exported", slog.Int("points", len(points)), slog.String("run_id", runID))
	return nil
}

// Close releases the client.
func (e *InfluxExporter) Close() {
	e.client.Close()
}

func setTag(tags map[string]string, key, value string) {
	if value != "" {
		tags[key] = value
	}
}
