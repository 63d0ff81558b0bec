// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

// Defaults applied before the YAML document is decoded on top.
const (
	DefaultLLMProvider     = "openai"
	DefaultLLMModel        = "gpt-4o-mini"
	DefaultLLMTemperature  = 0.0
	DefaultLLMMaxTokens    = 512
	DefaultLLMTimeout      = 300
	DefaultLLMRetries      = 3
	DefaultLLMCacheDir     = ".caches/llm_cache"
	DefaultEmbeddingModel  = "text-embedding-3-small"
	DefaultEmbeddingCache  = ".caches/embedding_cache"
	DefaultAPIBase         = "http://localhost:8080"
	DefaultAPIVersion      = "v1"
	DefaultAPICacheDir     = ".caches/api_cache"
	DefaultOutputDir       = "./eval_output"
	DefaultBaseFilename    = "evaluation"
	DefaultLogSourceLevel  = "INFO"
	DefaultLogPackageLevel = "WARNING"
	DefaultLogFormat       = LogFormatText
	DefaultVisualizationDP = 300
	DefaultRegistryPath    = "config/geval_metrics.yaml"
	DefaultAggregation     = AggregationMean
	DefaultScoreThreshold  = 0.5
)

// Console log formats accepted by logging.log_format.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Output types accepted by output.enabled_outputs.
const (
	OutputCSV  = "csv"
	OutputJSON = "json"
	OutputTXT  = "txt"
)

// SupportedOutputTypes lists every report format.
var SupportedOutputTypes = []string{OutputCSV, OutputJSON, OutputTXT}

// SupportedCSVColumns lists the columns of the detailed CSV report in their
// default order.
var SupportedCSVColumns = []string{
	"conversation_group_id",
	"turn_id",
	"metric_identifier",
	"judge_id",
	"result",
	"score",
	"threshold",
	"reason",
	"execution_time",
	"query",
	"response",
}

// Graph types accepted by visualization.enabled_graphs.
const (
	GraphPassRates           = "pass_rates"
	GraphScoreDistribution   = "score_distribution"
	GraphConversationHeatmap = "conversation_heatmap"
	GraphStatusBreakdown     = "status_breakdown"
)

// SupportedGraphTypes lists every graph the visualization package renders.
var SupportedGraphTypes = []string{
	GraphPassRates,
	GraphScoreDistribution,
	GraphConversationHeatmap,
	GraphStatusBreakdown,
}

// DefaultSummarySections is the set of config sections echoed in the text report.
var DefaultSummarySections = []string{"llm", "embedding", "api", "panel_of_judges"}

// Default returns a SystemConfig populated with every default value.
func Default() SystemConfig {
	noTools := false
	return SystemConfig{
		LLM: LLMConfig{
			Provider:    DefaultLLMProvider,
			Model:       DefaultLLMModel,
			Temperature: DefaultLLMTemperature,
			MaxTokens:   DefaultLLMMaxTokens,
			Timeout:     DefaultLLMTimeout,
			NumRetries:  DefaultLLMRetries,
			CacheDir:    DefaultLLMCacheDir,
			CacheEnable: true,
		},
		Embedding: EmbeddingConfig{
			Provider:    "openai",
			Model:       DefaultEmbeddingModel,
			CacheDir:    DefaultEmbeddingCache,
			CacheEnable: true,
		},
		API: APIConfig{
			Enabled:      true,
			APIBase:      DefaultAPIBase,
			Version:      DefaultAPIVersion,
			EndpointType: EndpointStreaming,
			Timeout:      DefaultLLMTimeout,
			NoTools:      &noTools,
			CacheDir:     DefaultAPICacheDir,
			CacheEnable:  true,
		},
		Output: OutputConfig{
			OutputDir:             DefaultOutputDir,
			BaseFilename:          DefaultBaseFilename,
			EnabledOutputs:        append([]string(nil), SupportedOutputTypes...),
			CSVColumns:            append([]string(nil), SupportedCSVColumns...),
			SummaryConfigSections: append([]string(nil), DefaultSummarySections...),
		},
		Logging: LoggingConfig{
			SourceLevel:      DefaultLogSourceLevel,
			PackageLevel:     DefaultLogPackageLevel,
			LogFormat:        DefaultLogFormat,
			ShowTimestamps:   true,
			PackageOverrides: map[string]string{},
		},
		Visualization: VisualizationConfig{
			FigSize: []int{12, 8},
			DPI:     DefaultVisualizationDP,
		},
		Panel: PanelConfig{
			ApplyTo:           []string{"geval", "custom"},
			AggregationMethod: DefaultAggregation,
		},
		GEval: GEvalConfig{
			Enabled:      true,
			RegistryPath: DefaultRegistryPath,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}
