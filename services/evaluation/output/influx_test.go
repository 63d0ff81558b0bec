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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/jinterlante1206/lightspeed-eval/pkg/secrets"
	"github.com/jinterlante1206/lightspeed-eval/services/evaluation/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfluxExporter_Export(t *testing.T) {
	var (
		mu    sync.Mutex
		body  string
		query string
		auth  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, query, auth = string(raw), r.URL.RawQuery, r.Header.Get("Authorization")
		mu.Unlock()
		assert.Equal(t, "/api/v2/write", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	exp, err := newInfluxExporter(config.InfluxDBConfig{URL: srv.URL, Org: "qa", Bucket: "evals"},
		secrets.New("INFLUXDB_TOKEN", []byte("tok")), nil)
	require.NoError(t, err)
	defer exp.Close()

	require.NoError(t, exp.Export(context.Background(), "run-1", fixedTime, sampleResults()[:3]))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, query, "org=qa")
	assert.Contains(t, query, "bucket=evals")
	assert.Equal(t, "Token tok", auth)

	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "lseval_results,conversation=c1,metric=ragas:faithfulness,result=PASS,run_id=run-1,turn=1 "), lines[0])
	assert.Contains(t, lines[0], "score=0.9")
	assert.Contains(t, lines[0], "passed=1i")
	assert.NotContains(t, lines[2], "score=")
	assert.NotContains(t, lines[2], "turn=")
}

func TestInfluxExporter_Points(t *testing.T) {
	exp, err := newInfluxExporter(config.InfluxDBConfig{URL: "http://localhost:8086", Measurement: "custom"},
		secrets.New("T", []byte("x")), nil)
	require.NoError(t, err)
	defer exp.Close()

	points := exp.Points("r", fixedTime, sampleResults()[5:6])
	require.Len(t, points, 1)
	line := write.PointToLineProtocol(points[0], 1)
	assert.True(t, strings.HasPrefix(line, "custom,conversation=c2,judge=judge_a,"), line)
}

func TestNewInfluxExporter_MissingToken(t *testing.T) {
	t.Setenv("LSEVAL_TEST_INFLUX", "")
	_, err := NewInfluxExporter(config.InfluxDBConfig{URL: "http://localhost:8086", TokenEnv: "LSEVAL_TEST_INFLUX"}, nil)
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
}
