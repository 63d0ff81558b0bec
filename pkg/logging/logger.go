// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for lseval.
//
// Logs go to stderr in text form and, when a log directory is configured,
// to a JSON file as well. Every component gets its own *slog.Logger carrying
// a "component" attribute and its own minimum level:
//
//	┌──────────────────────────────────────────────────────────┐
//	│                          Logger                          │
//	│  Component("pipeline")  ──► source level or override     │
//	│  Package("badger")      ──► package level or override    │
//	│                 │                                        │
//	│        ┌────────┴────────┐                               │
//	│        ▼                 ▼                               │
//	│     stderr           {service}_{date}.log (JSON)         │
//	└──────────────────────────────────────────────────────────┘
//
// Source level applies to lseval's own components. Package level applies to
// third-party libraries that are handed a logger (BadgerDB, the OTel SDK).
// Overrides pin a single component or package to a different level.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:        logging.LevelInfo,
//	    PackageLevel: logging.LevelWarn,
//	    Overrides:    map[string]logging.Level{"api": logging.LevelDebug},
//	    LogDir:       "./eval_output/logs",
//	    Service:      "lseval",
//	})
//	if err != nil { ... }
//	defer logger.Close()
//
//	log := logger.Component("pipeline")
//	log.Info("evaluation started", "conversations", n)
//
// # Security Considerations
//
// Nothing is redacted automatically. API keys and tokens are held in
// pkg/secrets and must never be passed as attributes.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels.
//
// Levels are ordered by severity: Debug < Info < Warn < Error < Critical.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError

	// LevelCritical marks failures that abort the run.
	LevelCritical
)

// DefaultPackages are the third-party components that log at PackageLevel.
var DefaultPackages = []string{"badger", "otel"}

// slogLevelCritical sits above slog.LevelError so handlers keep ordering.
const slogLevelCritical = slog.Level(12)

// String returns the level name as accepted by ParseLevel.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// SlogLevel converts l to the matching slog.Level. Unknown levels map to Info.
func (l Level) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelCritical:
		return slogLevelCritical
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a level name from system.yaml.
//
// Description:
//
//	Matching is case-insensitive. "WARN" and "WARNING" are both accepted, as
//	is "FATAL" for Critical.
//
// Inputs:
//
//	name - Level name (e.g. "INFO", "warning").
//
// Outputs:
//
//	Level - The parsed level.
//	error - Non-nil if name is not a known level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL", "FATAL":
		return LevelCritical, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Logger.
//
// A zero-value Config writes every level to stderr in text format, without
// timestamps.
type Config struct {
	// Level is the minimum level for lseval components.
	Level Level

	// PackageLevel is the minimum level for third-party packages.
	PackageLevel Level

	// Overrides pins individual components or packages to a level,
	// keyed by component name.
	Overrides map[string]Level

	// Packages names additional components that log at PackageLevel.
	Packages []string

	// ShowTimestamps keeps the time attribute on stderr output. File logs
	// always carry timestamps.
	ShowTimestamps bool

	// LogDir enables file logging. The file is "{Service}_{YYYY-MM-DD}.log"
	// in JSON format. Supports ~ for the home directory.
	LogDir string

	// Service names the log file and is attached as the "service" attribute.
	// Default: "lseval".
	Service string

	// JSON switches stderr output to JSON.
	JSON bool

	// Quiet disables stderr output.
	Quiet bool

	// Writer replaces stderr. Used by tests.
	Writer io.Writer
}

// =============================================================================
// Logger
// =============================================================================

// Logger owns the log destinations and hands out per-component loggers.
//
// Thread Safety: Safe for concurrent use.
type Logger struct {
	config Config
	base   slog.Handler
	root   *slog.Logger

	mu   sync.Mutex
	file *os.File
	path string
}

// New creates a Logger with the given configuration.
//
// Description:
//
//	A configured LogDir that cannot be created or opened is an error.
//
// Inputs:
//
//	config - Logger configuration.
//
// Outputs:
//
//	*Logger - Configured logger. Close it to flush the log file.
//	error - Non-nil if the log file could not be opened.
func New(config Config) (*Logger, error) {
	if config.Service == "" {
		config.Service = "lseval"
	}
	out := config.Writer
	if out == nil {
		out = os.Stderr
	}

	// Filtering happens in levelHandler; the sinks accept everything.
	sinkOpts := &slog.HandlerOptions{Level: slog.LevelDebug, ReplaceAttr: replaceLevel}
	stderrOpts := &slog.HandlerOptions{Level: slog.LevelDebug, ReplaceAttr: replaceLevel}
	if !config.ShowTimestamps {
		stderrOpts.ReplaceAttr = dropTime
	}

	var handlers []slog.Handler
	if !config.Quiet {
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(out, stderrOpts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, stderrOpts))
		}
	}

	l := &Logger{config: config}
	if config.LogDir != "" {
		dir := expandPath(config.LogDir)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		l.path = filepath.Join(dir, fmt.Sprintf("%s_%s.log", config.Service, time.Now().Format("2006-01-02")))
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = file
		handlers = append(handlers, slog.NewJSONHandler(file, sinkOpts))
	}

	switch len(handlers) {
	case 0:
		l.base = discardHandler{}
	case 1:
		l.base = handlers[0]
	default:
		l.base = &multiHandler{handlers: handlers}
	}
	l.base = l.base.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	l.root = slog.New(&levelHandler{min: config.Level.SlogLevel(), inner: l.base, resolve: l.componentLevel})
	return l, nil
}

// Discard returns a Logger that drops every record.
func Discard() *Logger {
	l, _ := New(Config{Quiet: true})
	return l
}

// Slog returns the root logger at the source level.
//
// Loggers derived with With("component", name) switch to the level of that
// component, so packages that tag themselves pick up overrides without
// knowing about this package.
func (l *Logger) Slog() *slog.Logger {
	return l.root
}

// Component returns a logger for an lseval component.
func (l *Logger) Component(name string) *slog.Logger {
	return l.root.With(slog.String("component", name))
}

// Package returns a logger for a third-party package at the package level
// unless name has an override.
func (l *Logger) Package(name string) *slog.Logger {
	return slog.New(&levelHandler{
		min:     l.LevelFor(name, l.config.PackageLevel).SlogLevel(),
		inner:   l.base.WithAttrs([]slog.Attr{slog.String("component", name)}),
		resolve: l.componentLevel,
	})
}

// LevelFor reports the effective level for a component or package name.
func (l *Logger) LevelFor(name string, fallback Level) Level {
	if lvl, ok := l.config.Overrides[name]; ok {
		return lvl
	}
	return fallback
}

// componentLevel resolves the level for a "component" attribute value.
func (l *Logger) componentLevel(name string) slog.Level {
	fallback := l.config.Level
	if l.isPackage(name) {
		fallback = l.config.PackageLevel
	}
	return l.LevelFor(name, fallback).SlogLevel()
}

func (l *Logger) isPackage(name string) bool {
	for _, p := range DefaultPackages {
		if p == name {
			return true
		}
	}
	for _, p := range l.config.Packages {
		if p == name {
			return true
		}
	}
	return false
}

// Path returns the log file path, or "" when file logging is disabled.
func (l *Logger) Path() string {
	return l.path
}

// Close syncs and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	if syncErr != nil {
		return fmt.Errorf("sync log file: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close log file: %w", closeErr)
	}
	return nil
}

// =============================================================================
// Handlers (Internal)
// =============================================================================

// levelHandler applies a per-logger minimum level over shared sinks. A
// "component" attribute added through WithAttrs re-resolves the level.
type levelHandler struct {
	min     slog.Level
	inner   slog.Handler
	resolve func(component string) slog.Level
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.inner.Enabled(ctx, level)
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	level := h.min
	if h.resolve != nil {
		for _, a := range attrs {
			if a.Key == "component" && a.Value.Kind() == slog.KindString {
				level = h.resolve(a.Value.String())
			}
		}
	}
	return &levelHandler{min: level, inner: h.inner.WithAttrs(attrs), resolve: h.resolve}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{min: h.min, inner: h.inner.WithGroup(name), resolve: h.resolve}
}

// multiHandler fans out log records to multiple slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to every enabled handler. The first error wins
// but all handlers still receive the record.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool { return false }

func (discardHandler) Handle(context.Context, slog.Record) error { return nil }

func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler { return d }

func (d discardHandler) WithGroup(string) slog.Handler { return d }

// =============================================================================
// Helper Functions
// =============================================================================

// replaceLevel renders Critical and Warn with the names ParseLevel accepts.
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	lvl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch {
	case lvl >= slogLevelCritical:
		a.Value = slog.StringValue("CRITICAL")
	case lvl == slog.LevelWarn:
		a.Value = slog.StringValue("WARNING")
	}
	return a
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		return slog.Attr{}
	}
	return replaceLevel(groups, a)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
