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
	"bytes"
	"fmt"
	"text/template"
)

// All rubric prompts ask for {"score": 0-10, "reason": "..."} unless they
// ask for per-statement verdicts.
const rubricScale = 10.0

const jsonScoreInstruction = `Respond with ONLY valid JSON (no markdown, no preamble):
{"score": <integer 0-10>, "reason": "<one or two sentences>"}`

const verdictInstruction = `Respond with ONLY valid JSON (no markdown, no preamble):
{"verdicts": [{"statement": "<text>", "verdict": 1 or 0, "reason": "<brief>"}], "reason": "<one sentence summary>"}`

// =============================================================================
// GEval
// =============================================================================

const gevalStepsTemplate = `You are designing an evaluation rubric.

Evaluation criteria:
{{.Criteria}}

Write 3 to 5 concise, ordered evaluation steps a grader should follow to judge a response against these criteria.

Respond with ONLY a JSON array of strings (no markdown, no preamble).`

const gevalTurnTemplate = `You are an impartial evaluator.

Evaluation criteria:
{{.Criteria}}

Evaluation steps:
{{range $i, $s := .Steps}}{{inc $i}}. {{$s}}
{{end}}
{{range .Fields}}{{.Label}}:
{{.Value}}

{{end}}Score how well the content meets the criteria, where 0 is completely fails and 10 is fully meets.

` + jsonScoreInstruction

const gevalConversationTemplate = `You are an impartial evaluator of a multi-turn conversation.

Evaluation criteria:
{{.Criteria}}

Evaluation steps:
{{range $i, $s := .Steps}}{{inc $i}}. {{$s}}
{{end}}
Conversation:
{{template "turns" .Turns}}
Score how well the conversation meets the criteria, where 0 is completely fails and 10 is fully meets.

` + jsonScoreInstruction

// =============================================================================
// DeepEval conversation rubrics
// =============================================================================

const completenessTemplate = `You are evaluating whether an assistant satisfied every user intention in a conversation.

Conversation:
{{template "turns" .Turns}}
Identify the intentions the user expressed across the conversation and judge how many of them the assistant fully addressed. 10 means every intention was satisfied; 0 means none were.

` + jsonScoreInstruction

const relevancyTemplate = `You are evaluating whether each assistant message is relevant to the conversation so far.

Conversation:
{{template "turns" .Turns}}
Judge every assistant message in the context of the preceding turns. 10 means every message is relevant; 0 means none are.

` + jsonScoreInstruction

const retentionTemplate = `You are evaluating whether an assistant retains information the user provided earlier in a conversation.

Conversation:
{{template "turns" .Turns}}
Look for assistant messages that forget, contradict or ask again for facts the user already gave. 10 means no lapses; 0 means the assistant consistently forgets.

` + jsonScoreInstruction

// =============================================================================
// Ragas-style retrieval metrics
// =============================================================================

const faithfulnessTemplate = `Break the answer into standalone factual statements and decide for each whether it can be directly inferred from the context.

Question:
{{.Query}}

Answer:
{{.Response}}

Context:
{{range $i, $c := .Contexts}}[{{inc $i}}] {{$c}}
{{end}}
Use verdict 1 when the statement is supported by the context and 0 otherwise.

` + verdictInstruction

const contextRecallTemplate = `Break the reference answer into standalone statements and decide for each whether it can be attributed to the retrieved context.

Question:
{{.Query}}

Reference answer:
{{.ExpectedResponse}}

Context:
{{range $i, $c := .Contexts}}[{{inc $i}}] {{$c}}
{{end}}
Use verdict 1 when the statement is attributable to the context and 0 otherwise.

` + verdictInstruction

const contextPrecisionTemplate = `Decide for each retrieved context, in the given order, whether it was useful in arriving at the answer.

Question:
{{.Query}}

Answer:
{{.Response}}

Contexts:
{{range $i, $c := .Contexts}}[{{inc $i}}] {{$c}}
{{end}}
Return exactly one verdict per context, in order, using the context text as the statement. Use verdict 1 when the context was useful and 0 otherwise.

` + verdictInstruction

const questionGenerationTemplate = `Generate {{.N}} distinct questions that the following answer would be a direct response to.

Answer:
{{.Response}}

Respond with ONLY a JSON array of strings (no markdown, no preamble).`

// =============================================================================
// Custom
// =============================================================================

const answerCorrectnessTemplate = `You are grading an assistant answer against a reference answer.

Question:
{{.Query}}

Reference answer:
{{.ExpectedResponse}}

Assistant answer:
{{.Response}}

Judge factual agreement with the reference. Extra correct detail is fine; missing key facts or contradictions lower the score. 10 means fully correct; 0 means wrong.

` + jsonScoreInstruction

const turnsPartial = `{{define "turns"}}{{range $i, $t := .}}Turn {{inc $i}}
User: {{$t.Query}}
Assistant: {{$t.Response}}
{{end}}{{end}}`

// promptSet holds every compiled prompt template.
type promptSet struct {
	root *template.Template
}

var prompts = mustCompilePrompts()

func mustCompilePrompts() *promptSet {
	root := template.New("prompts").Funcs(template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	})
	template.Must(root.Parse(turnsPartial))
	for name, text := range map[string]string{
		"geval_steps":        gevalStepsTemplate,
		"geval_turn":         gevalTurnTemplate,
		"geval_conversation": gevalConversationTemplate,
		"completeness":       completenessTemplate,
		"relevancy":          relevancyTemplate,
		"retention":          retentionTemplate,
		"faithfulness":       faithfulnessTemplate,
		"context_recall":     contextRecallTemplate,
		"context_precision":  contextPrecisionTemplate,
		"questions":          questionGenerationTemplate,
		"answer_correctness": answerCorrectnessTemplate,
	} {
		template.Must(root.New(name).Parse(text))
	}
	return &promptSet{root: root}
}

// render executes the named template with data.
func (p *promptSet) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := p.root.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}

// promptTurn is one user/assistant exchange in a conversation prompt.
type promptTurn struct {
	Query    string
	Response string
}

// promptField is one labelled input of a GEval turn prompt.
type promptField struct {
	Label string
	Value string
}
