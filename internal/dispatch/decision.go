// Package dispatch turns a transcript into executed tool calls. It
// narrows the catalog with the semantic index, asks the reasoning
// service for a decision, classifies the reply and runs the chosen
// tool or plan through the confirmation gate and the executor.
package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/nugget/scriptvoice/internal/llm"
)

// Kind is the shape of a reasoning reply.
type Kind string

// Reply kinds, in classification priority order.
const (
	KindFunctionCall Kind = "function_call"
	KindPlan         Kind = "plan"
	KindText         Kind = "text"
	KindEmpty        Kind = "empty"
)

// Step is one entry of a multi-step plan. Tool is empty when the
// reasoning service omitted it or sent a non-string value.
type Step struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// Decision is a classified reasoning reply. Exactly one of Call, Plan
// or Text is meaningful, selected by Kind.
type Decision struct {
	Kind Kind
	Call llm.FunctionCall
	Plan []Step
	Text string
}

// Classify maps a reply onto a [Decision]. A structured function call
// wins over everything; the first one is used when several are present.
// Otherwise text holding a JSON object with a "plan" array is a plan,
// other non-blank text is a spoken answer, and anything else is empty.
func Classify(resp *llm.Response) Decision {
	if resp == nil {
		return Decision{Kind: KindEmpty}
	}
	if len(resp.Calls) > 0 {
		return Decision{Kind: KindFunctionCall, Call: resp.Calls[0]}
	}
	if plan, ok := parsePlan(resp.Text); ok {
		return Decision{Kind: KindPlan, Plan: plan}
	}
	if strings.TrimSpace(resp.Text) != "" {
		return Decision{Kind: KindText, Text: resp.Text}
	}
	return Decision{Kind: KindEmpty}
}

func parsePlan(text string) ([]Step, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return nil, false
	}
	raw, ok := envelope["plan"]
	if !ok {
		return nil, false
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}

	steps := make([]Step, 0, len(items))
	for _, item := range items {
		steps = append(steps, stepFrom(item))
	}
	return steps, true
}

func stepFrom(item any) Step {
	obj, ok := item.(map[string]any)
	if !ok {
		return Step{}
	}
	var s Step
	if tool, ok := obj["tool"].(string); ok {
		s.Tool = strings.TrimSpace(tool)
	}
	if args, ok := obj["args"].(map[string]any); ok {
		s.Args = args
	}
	return s
}
