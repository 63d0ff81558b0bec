// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the system configuration consumed by lseval.
//
// The system configuration is a single YAML file with one section per
// concern (judge LLM, embeddings, Lightspeed API, output, logging,
// visualization, panel of judges, GEval and telemetry). Every section has
// defaults, so an empty file is a valid configuration that evaluates with
// gpt-4o-mini against a local Lightspeed API.
//
// # Strictness
//
// Unknown keys are rejected. A typo such as `max_token` fails loading
// instead of silently falling back to the default.
package config

import "time"

// =============================================================================
// Root
// =============================================================================

// SystemConfig is the fully resolved system configuration.
type SystemConfig struct {
	Core          CoreConfig          `yaml:"core"`
	LLM           LLMConfig           `yaml:"llm"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	API           APIConfig           `yaml:"api"`
	Output        OutputConfig        `yaml:"output"`
	Logging       LoggingConfig       `yaml:"logging"`
	Visualization VisualizationConfig `yaml:"visualization"`
	Panel         PanelConfig         `yaml:"panel_of_judges"`
	GEval         GEvalConfig         `yaml:"geval"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`

	// MetricsMetadata holds default thresholds and descriptions keyed by
	// metric identifier ("ragas:faithfulness").
	MetricsMetadata MetricsMetadata `yaml:"metrics_metadata"`
}

// MetricsMetadata splits metric metadata by evaluation level.
type MetricsMetadata struct {
	TurnLevel         map[string]map[string]any `yaml:"turn_level"`
	ConversationLevel map[string]map[string]any `yaml:"conversation_level"`
}

// CoreConfig holds evaluation concurrency limits.
type CoreConfig struct {
	// MaxThreads bounds the number of conversations evaluated in parallel.
	// Nil means one worker per conversation.
	MaxThreads *int `yaml:"max_threads" validate:"omitempty,gt=0"`
}

// =============================================================================
// LLM
// =============================================================================

// LLMConfig configures the primary judge model.
type LLMConfig struct {
	Provider    string  `yaml:"provider" validate:"required"`
	Model       string  `yaml:"model" validate:"required"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=1"`
	Timeout     int     `yaml:"timeout" validate:"gte=1"`
	NumRetries  int     `yaml:"num_retries" validate:"gte=0"`
	CacheDir    string  `yaml:"cache_dir" validate:"required"`
	CacheEnable bool    `yaml:"cache_enabled"`

	// RequestsPerSecond throttles judge calls. Zero disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c LLMConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// JudgeConfig describes one member of a panel of judges.
//
// Pointer fields left nil inherit the value from the primary LLMConfig.
type JudgeConfig struct {
	JudgeID     string  `yaml:"judge_id"`
	Provider    string  `yaml:"provider" validate:"required"`
	Model       string  `yaml:"model" validate:"required"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   *int    `yaml:"max_tokens" validate:"omitempty,gte=1"`
	Timeout     *int    `yaml:"timeout" validate:"omitempty,gte=1"`
	NumRetries  *int    `yaml:"num_retries" validate:"omitempty,gte=0"`
}

// Resolve merges the judge with the primary LLM settings.
func (j JudgeConfig) Resolve(primary LLMConfig) LLMConfig {
	out := primary
	out.Provider = j.Provider
	out.Model = j.Model
	out.Temperature = j.Temperature
	if j.MaxTokens != nil {
		out.MaxTokens = *j.MaxTokens
	}
	if j.Timeout != nil {
		out.Timeout = *j.Timeout
	}
	if j.NumRetries != nil {
		out.NumRetries = *j.NumRetries
	}
	return out
}

// =============================================================================
// Embedding
// =============================================================================

// EmbeddingConfig configures the embedding model used by similarity metrics.
type EmbeddingConfig struct {
	Provider       string         `yaml:"provider" validate:"required,oneof=openai huggingface"`
	Model          string         `yaml:"model" validate:"required"`
	ProviderKwargs map[string]any `yaml:"provider_kwargs"`
	CacheDir       string         `yaml:"cache_dir" validate:"required"`
	CacheEnable    bool           `yaml:"cache_enabled"`
}

// =============================================================================
// Lightspeed API
// =============================================================================

// Endpoint types accepted by api.endpoint_type.
const (
	EndpointQuery           = "query"
	EndpointStreaming       = "streaming"
	EndpointChatCompletions = "chat/completions"
)

// APIConfig configures the live Lightspeed API used to produce responses.
type APIConfig struct {
	Enabled      bool   `yaml:"enabled"`
	APIBase      string `yaml:"api_base" validate:"omitempty,url"`
	Version      string `yaml:"version"`
	EndpointType string `yaml:"endpoint_type" validate:"oneof=query streaming chat/completions"`
	Timeout      int    `yaml:"timeout" validate:"gte=1"`
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	NoTools      *bool  `yaml:"no_tools"`
	SystemPrompt string `yaml:"system_prompt"`
	CacheDir     string `yaml:"cache_dir"`
	CacheEnable  bool   `yaml:"cache_enabled"`
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c APIConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// =============================================================================
// Output
// =============================================================================

// OutputConfig controls which reports are written and where.
type OutputConfig struct {
	OutputDir             string          `yaml:"output_dir" validate:"required"`
	BaseFilename          string          `yaml:"base_filename" validate:"required"`
	EnabledOutputs        []string        `yaml:"enabled_outputs"`
	CSVColumns            []string        `yaml:"csv_columns"`
	SummaryConfigSections []string        `yaml:"summary_config_sections"`
	Upload                *UploadConfig   `yaml:"upload"`
	InfluxDB              *InfluxDBConfig `yaml:"influxdb"`
}

// UploadConfig copies generated reports to a GCS bucket.
type UploadConfig struct {
	Bucket string `yaml:"bucket" validate:"required"`
	Prefix string `yaml:"prefix"`

	// CredentialsFile is a service account key. Empty uses
	// GOOGLE_APPLICATION_CREDENTIALS / application default credentials.
	CredentialsFile string `yaml:"credentials_file"`
}

// InfluxDBConfig exports one point per evaluation result.
type InfluxDBConfig struct {
	URL         string `yaml:"url" validate:"required,url"`
	Org         string `yaml:"org" validate:"required"`
	Bucket      string `yaml:"bucket" validate:"required"`
	TokenEnv    string `yaml:"token_env"`
	Measurement string `yaml:"measurement"`
}

// =============================================================================
// Logging / Visualization / Telemetry
// =============================================================================

// LoggingConfig mirrors the logging section of system.yaml.
type LoggingConfig struct {
	SourceLevel      string            `yaml:"source_level"`
	PackageLevel     string            `yaml:"package_level"`
	LogFormat        string            `yaml:"log_format" validate:"omitempty,oneof=text json"`
	ShowTimestamps   bool              `yaml:"show_timestamps"`
	PackageOverrides map[string]string `yaml:"package_overrides"`
	LogDir           string            `yaml:"log_dir"`
}

// VisualizationConfig controls PNG graph generation.
type VisualizationConfig struct {
	FigSize       []int    `yaml:"figsize" validate:"len=2,dive,gt=0"`
	DPI           int      `yaml:"dpi" validate:"gte=50"`
	EnabledGraphs []string `yaml:"enabled_graphs"`
}

// TelemetryConfig selects OpenTelemetry exporters.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
}

// =============================================================================
// GEval
// =============================================================================

// GEvalConfig configures registry-driven GEval metrics.
type GEvalConfig struct {
	Enabled                    bool     `yaml:"enabled"`
	RegistryPath               string   `yaml:"registry_path"`
	DefaultTurnMetrics         []string `yaml:"default_turn_metrics"`
	DefaultConversationMetrics []string `yaml:"default_conversation_metrics"`
}
