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
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrUnparsableVerdict is returned when a judge answer has no score.
var ErrUnparsableVerdict = errors.New("judge answer has no score")

var fallbackScorePattern = regexp.MustCompile(`(?i)"?score"?\s*[:=]\s*"?(-?[0-9]+(?:\.[0-9]+)?)`)

// extractJSON returns the first balanced JSON object in s.
//
// Markdown fences, preambles and trailing prose are skipped. Braces inside
// string literals are ignored.
func extractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errors.New("no JSON object found")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.New("unterminated JSON object")
}

// verdict is the JSON shape every judge prompt asks for.
type verdict struct {
	Score  json.RawMessage `json:"score"`
	Reason string          `json:"reason"`
	Steps  []string        `json:"steps"`
}

// parseVerdict reads a judge answer scored on [0, scale] and returns the
// score normalized to [0, 1].
//
// Description:
//
//	The JSON object is preferred. When the judge ignored the format, a
//	"score: N" fragment anywhere in the text is accepted and the whole
//	answer becomes the reason. Out-of-range scores are clamped.
func parseVerdict(answer string, scale float64) (Score, error) {
	if obj, err := extractJSON(answer); err == nil {
		var v verdict
		if err := json.Unmarshal([]byte(obj), &v); err == nil && len(v.Score) > 0 {
			value, err := numberFromJSON(v.Score)
			if err != nil {
				return Score{}, fmt.Errorf("%w: %v", ErrUnparsableVerdict, err)
			}
			return Score{Value: normalize(value, scale), Reason: strings.TrimSpace(v.Reason)}, nil
		}
	}

	m := fallbackScorePattern.FindStringSubmatch(answer)
	if m == nil {
		return Score{}, fmt.Errorf("%w: %q", ErrUnparsableVerdict, truncate(answer, 120))
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Score{}, fmt.Errorf("%w: %v", ErrUnparsableVerdict, err)
	}
	return Score{Value: normalize(value, scale), Reason: strings.TrimSpace(answer)}, nil
}

func numberFromJSON(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("score %s is not a number", raw)
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func normalize(value, scale float64) float64 {
	if scale <= 0 {
		scale = 1
	}
	v := value / scale
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// parseList reads a JSON array of strings, or one item per non-empty line.
func parseList(answer string) []string {
	trimmed := strings.TrimSpace(answer)
	if i := strings.IndexByte(trimmed, '['); i >= 0 {
		if j := strings.LastIndexByte(trimmed, ']'); j > i {
			var items []string
			if err := json.Unmarshal([]byte(trimmed[i:j+1]), &items); err == nil {
				return nonEmpty(items)
			}
		}
	}
	if obj, err := extractJSON(trimmed); err == nil {
		var v verdict
		if err := json.Unmarshal([]byte(obj), &v); err == nil && len(v.Steps) > 0 {
			return nonEmpty(v.Steps)
		}
	}

	var items []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789.)"))
		if line != "" && !strings.HasPrefix(line, "```") {
			items = append(items, line)
		}
	}
	return items
}

func nonEmpty(items []string) []string {
	out := items[:0]
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
