// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"clean JSON", `{"score":7}`, `{"score":7}`, false},
		{"whitespace", "   {\"score\":7}  ", `{"score":7}`, false},
		{"markdown block", "```json\n{\"score\":7}\n```", `{"score":7}`, false},
		{"preamble", "Here is my grade:\n{\"score\":7}", `{"score":7}`, false},
		{"postamble", "{\"score\":7}\nHope this helps!", `{"score":7}`, false},
		{"braces in string", `{"reason":"a {b} c","score":1}`, `{"reason":"a {b} c","score":1}`, false},
		{"escaped quote", `{"reason":"he said \"}\"","score":1}`, `{"reason":"he said \"}\"","score":1}`, false},
		{"nested object", `{"a":{"b":1},"score":2} trailing`, `{"a":{"b":1},"score":2}`, false},
		{"empty", "", "", true},
		{"unterminated", `{"score":7`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name       string
		answer     string
		scale      float64
		wantScore  float64
		wantReason string
		wantErr    bool
	}{
		{"json integer", `{"score": 8, "reason": "mostly right"}`, 10, 0.8, "mostly right", false},
		{"json string score", `{"score": "5", "reason": "half"}`, 10, 0.5, "half", false},
		{"clamped high", `{"score": 14}`, 10, 1, "", false},
		{"clamped low", `{"score": -2}`, 10, 0, "", false},
		{"unit scale", `{"score": 0.25}`, 1, 0.25, "", false},
		{"prose fallback", "I would give this Score: 9 because it is complete.", 10, 0.9, "I would give this Score: 9 because it is complete.", false},
		{"no score", "The answer looks fine.", 10, 0, "", true},
		{"non numeric", `{"score": "high"}`, 10, 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVerdict(tt.answer, tt.scale)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnparsableVerdict)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.wantScore, got.Value, 1e-9)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList(`["a", " ", "b"]`))
	assert.Equal(t, []string{"check facts", "check commands"}, parseList("```\n1. check facts\n2) check commands\n```"))
	assert.Equal(t, []string{"x"}, parseList(`{"steps": ["x"]}`))
	assert.Empty(t, parseList("  "))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		n     int
		want  string
	}{
		{"short", "ok", 5, "ok"},
		{"exact", "hello", 5, "hello"},
		{"ascii", "hello world", 5, "hello..."},
		{"multibyte", "héllo wörld", 7, "héllo w..."},
		{"cjk", "日本語のテキスト", 3, "日本語..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.input, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
