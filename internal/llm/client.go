// Package llm connects the dispatcher to a reasoning service that picks
// a tool (or a multi-step plan) for a transcript.
package llm

import (
	"context"

	"github.com/nugget/scriptvoice/internal/catalog"
)

// Client is implemented by every reasoning provider.
type Client interface {
	// Decide sends one single-turn request. Providers that support it
	// force the model to answer with a function call when tools are
	// offered.
	Decide(ctx context.Context, req *Request) (*Response, error)

	// Name identifies the provider in logs.
	Name() string
}

// Request is a single-turn reasoning request.
type Request struct {
	Model  string
	System string
	Prompt string
	Tools  []catalog.ToolSchema
}

// FunctionCall is a structured tool invocation chosen by the model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Response is the provider-neutral reply. Either field may be empty.
type Response struct {
	Calls []FunctionCall
	Text  string

	InputTokens  int
	OutputTokens int
}
