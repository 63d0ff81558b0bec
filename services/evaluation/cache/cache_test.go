// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_InMemoryRoundTrip(t *testing.T) {
	c, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)
}

func TestCache_JSON(t *testing.T) {
	c, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer c.Close()

	type entry struct {
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	}
	ctx := context.Background()
	require.NoError(t, c.SetJSON(ctx, "e", entry{Text: "hi", Score: 0.7}))

	var got entry
	ok, err := c.GetJSON(ctx, "e", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry{Text: "hi", Score: 0.7}, got)

	require.NoError(t, c.Set(ctx, "bad", []byte("{not json")))
	ok, err = c.GetJSON(ctx, "bad", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_CancelledContext(t *testing.T) {
	c, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = c.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, c.Set(ctx, "k", nil))
}

func TestCache_PersistsAcrossOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "llm_cache")
	ctx := context.Background()

	c, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "k", []byte("persisted")))
	require.NoError(t, c.Close())

	c, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer c.Close()
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "persisted", string(val))
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	a := Key("llm", "ab", "c")
	b := Key("llm", "a", "bc")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Key("llm", "ab", "c"))
	assert.Contains(t, a, "llm:")
	assert.NotEqual(t, Key("llm", "x"), Key("api", "x"))
}

func TestRegistry_SharesHandles(t *testing.T) {
	r := NewRegistry(nil)
	dir := filepath.Join(t.TempDir(), "shared")

	a, err := r.Get(dir)
	require.NoError(t, err)
	b, err := r.Get(dir + "/")
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := r.Get(filepath.Join(t.TempDir(), "other"))
	require.NoError(t, err)
	assert.NotSame(t, a, other)

	require.NoError(t, r.Close())
}
