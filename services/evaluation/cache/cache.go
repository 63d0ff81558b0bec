// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides the on-disk response caches used by lseval.
//
// Judge completions, embeddings and Lightspeed API answers are cached in
// BadgerDB so a re-run with unchanged inputs does not pay for the same
// calls twice. Each cache_dir in system.yaml maps to one database; callers
// asking for the same directory share the handle.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for one cache database.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// TTL expires entries. Zero keeps them forever.
	TTL time.Duration

	// Logger receives BadgerDB's own messages. Nil silences them.
	Logger *slog.Logger

	// GCDiscardRatio is the value log garbage ratio checked on Close.
	// Default: 0.5.
	GCDiscardRatio float64
}

// DefaultConfig returns defaults for a persistent cache at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Cache is a key/value response cache backed by BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	db       *badger.DB
	ttl      time.Duration
	ratio    float64
	inMemory bool
	logger   *slog.Logger
}

// Open creates and opens a cache.
//
// Description:
//
//	Opens a BadgerDB database at cfg.Path, or in memory if InMemory is
//	true. Creates the directory if it doesn't exist.
//
// Inputs:
//
//	cfg - Cache configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Cache - The opened cache. Caller must call Close() when done.
//	error - Non-nil if path is invalid or the database cannot be opened.
func Open(cfg Config) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With(slog.String("component", "badger"))})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", cfg.Path, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		db:       db,
		ttl:      cfg.TTL,
		ratio:    cfg.GCDiscardRatio,
		inMemory: cfg.InMemory,
		logger:   logger,
	}, nil
}

// Get returns the value stored under key.
//
// Outputs:
//
//	[]byte - A copy of the value.
//	bool - False when the key is absent or expired.
//	error - Non-nil on database failure or cancelled context.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("context cancelled: %w", err)
	}

	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return val, true, nil
}

// Set stores value under key.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if c.ttl > 0 {
			entry = entry.WithTTL(c.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// GetJSON decodes the value under key into v.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		// A corrupt entry is treated as a miss and overwritten later.
		c.logger.Warn("discarding undecodable cache entry", slog.String("error", err.Error()))
		return false, nil
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	return c.Set(ctx, key, raw)
}

// Close runs one value log GC pass on persistent caches and closes the
// database.
func (c *Cache) Close() error {
	if !c.inMemory && c.ratio > 0 {
		err := c.db.RunValueLogGC(c.ratio)
		if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
			c.logger.Warn("cache value log GC error", slog.String("error", err.Error()))
		}
	}
	return c.db.Close()
}

// Key derives a cache key from its parts. The parts are length-prefixed
// before hashing so ("ab","c") and ("a","bc") differ.
func Key(namespace string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:%s|", len(p), p)
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// Registry
// =============================================================================

// Registry hands out one Cache per directory.
//
// BadgerDB holds a directory lock, so two components configured with the
// same cache_dir must share a handle.
type Registry struct {
	mu     sync.Mutex
	caches map[string]*Cache
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{caches: make(map[string]*Cache), logger: logger}
}

// Get returns the cache for dir, opening it on first use.
func (r *Registry) Get(dir string) (*Cache, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.caches[abs]; ok {
		return c, nil
	}
	cfg := DefaultConfig(abs)
	cfg.Logger = r.logger
	c, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	r.caches[abs] = c
	return c, nil
}

// Close closes every cache opened through the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for dir, c := range r.caches {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache %s: %w", dir, err))
		}
		delete(r.caches, dir)
	}
	return errors.Join(errs...)
}
