// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// ErrDataNotFound is returned when the evaluation data file does not exist.
	ErrDataNotFound = errors.New("evaluation data not found")

	// ErrInvalidData wraps every evaluation data problem.
	ErrInvalidData = errors.New("invalid evaluation data")
)

// dataValidate is the validator instance for evaluation data.
// Initialized in init() with custom validators.
var dataValidate *validator.Validate

func init() {
	dataValidate = validator.New()
	dataValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	_ = dataValidate.RegisterValidation("metricid", validateMetricID)
}

// validateMetricID accepts "framework:name" with a known framework.
func validateMetricID(fl validator.FieldLevel) bool {
	framework, _, err := ParseMetricIdentifier(fl.Field().String())
	return err == nil && IsKnownFramework(framework)
}

// fieldRequirement names a turn field a metric cannot run without.
type fieldRequirement struct {
	field string
	// apiProvided is true when a live API call fills the field in.
	apiProvided bool
	missing     func(t *TurnData) bool
}

var (
	needResponse = fieldRequirement{"response", true, func(t *TurnData) bool { return t.Response == "" }}
	needContexts = fieldRequirement{"contexts", true, func(t *TurnData) bool { return len(t.Contexts) == 0 }}
	needExpected = fieldRequirement{"expected_response", false, func(t *TurnData) bool { return t.ExpectedResponse == "" }}
	needTools    = fieldRequirement{"tool_calls", true, func(t *TurnData) bool { return len(t.ToolCalls) == 0 }}
	needExpTools = fieldRequirement{"expected_tool_calls", false, func(t *TurnData) bool { return len(t.ExpectedToolCalls) == 0 }}
	needVerify   = fieldRequirement{"verify_script", false, func(t *TurnData) bool { return t.VerifyScript == "" }}
)

// metricRequirements lists the turn fields each turn-level metric reads.
// Metrics not listed only need a response.
var metricRequirements = map[string][]fieldRequirement{
	"ragas:faithfulness":        {needResponse, needContexts},
	"ragas:context_recall":      {needContexts, needExpected},
	"ragas:context_precision":   {needResponse, needContexts},
	"ragas:response_relevancy":  {needResponse},
	"custom:answer_correctness": {needResponse, needExpected},
	"custom:tool_eval":          {needTools, needExpTools},
	"script:action_eval":        {needVerify},
}

// LoadEvaluationData reads and validates an evaluation data file.
//
// Description:
//
//	The file is a YAML list of conversation groups. Decoding is strict.
//	All structural and metric problems are collected and returned together
//	so a user can fix the file in one pass.
//
// Inputs:
//
//	path - Path to evaluation_data.yaml.
//	apiEnabled - Whether responses will be produced by the live API. When
//	  false, every metric that reads the response requires it in the file.
//
// Outputs:
//
//	[]EvaluationData - The conversation groups, in file order.
//	error - ErrDataNotFound or ErrInvalidData (wrapped).
func LoadEvaluationData(path string, apiEnabled bool) ([]EvaluationData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDataNotFound, path)
		}
		return nil, fmt.Errorf("read evaluation data: %w", err)
	}
	return ParseEvaluationData(raw, apiEnabled)
}

// ParseEvaluationData decodes and validates an evaluation data document.
func ParseEvaluationData(raw []byte, apiEnabled bool) ([]EvaluationData, error) {
	var data []EvaluationData
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: file is empty", ErrInvalidData)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no conversation groups", ErrInvalidData)
	}
	if err := ValidateEvaluationData(data, apiEnabled); err != nil {
		return nil, err
	}
	return data, nil
}

// ValidateEvaluationData checks already-decoded conversation groups.
func ValidateEvaluationData(data []EvaluationData, apiEnabled bool) error {
	var problems []string
	seenGroups := make(map[string]bool, len(data))

	for i := range data {
		conv := &data[i]
		label := conv.ConversationGroupID
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}

		if err := dataValidate.Struct(conv); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					problems = append(problems, fmt.Sprintf("conversation %s: %s", label, describeDataError(fe)))
				}
			} else {
				problems = append(problems, fmt.Sprintf("conversation %s: %v", label, err))
			}
		}

		if conv.ConversationGroupID != "" {
			if seenGroups[conv.ConversationGroupID] {
				problems = append(problems, fmt.Sprintf("duplicate conversation_group_id %q", conv.ConversationGroupID))
			}
			seenGroups[conv.ConversationGroupID] = true
		}

		seenTurns := make(map[string]bool, len(conv.Turns))
		for j := range conv.Turns {
			turn := &conv.Turns[j]
			if turn.TurnID != "" {
				if seenTurns[turn.TurnID] {
					problems = append(problems, fmt.Sprintf("conversation %s: duplicate turn_id %q", label, turn.TurnID))
				}
				seenTurns[turn.TurnID] = true
			}
			problems = append(problems, checkTurnMetrics(label, turn, apiEnabled)...)
			if len(conv.ConversationMetrics) > 0 && !apiEnabled && turn.Response == "" {
				problems = append(problems, fmt.Sprintf("conversation %s, turn %s: conversation metrics require response when the API is disabled",
					label, turn.TurnID))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidData, strings.Join(problems, "\n  - "))
	}
	return nil
}

func checkTurnMetrics(conv string, turn *TurnData, apiEnabled bool) []string {
	var problems []string
	for _, metric := range turn.TurnMetrics {
		framework, _, err := ParseMetricIdentifier(metric)
		if err != nil || !IsKnownFramework(framework) {
			// reported by the struct validator
			continue
		}
		reqs, ok := metricRequirements[metric]
		if !ok {
			reqs = []fieldRequirement{needResponse}
		}
		for _, req := range reqs {
			if req.apiProvided && apiEnabled {
				continue
			}
			if req.missing(turn) {
				problems = append(problems, fmt.Sprintf("conversation %s, turn %s: metric %s requires %s",
					conv, turn.TurnID, metric, req.field))
			}
		}
	}
	return problems
}

func describeDataError(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return path + " is required"
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", path, fe.Param())
	case "metricid":
		return fmt.Sprintf("%s: %q is not a valid metric (framework:name with framework in %v)", path, fe.Value(), Frameworks)
	}
	return fmt.Sprintf("%s: failed '%s'", path, fe.Tag())
}
