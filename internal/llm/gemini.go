package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/nugget/scriptvoice/internal/catalog"
	"github.com/nugget/scriptvoice/internal/config"
)

// GeminiClient talks to the Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiClient creates a client authenticated with apiKey. model is
// used when a request does not name one.
func NewGeminiClient(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &GeminiClient{
		client: client,
		model:  model,
		logger: logger.With("provider", "gemini"),
	}, nil
}

// Name implements [Client].
func (c *GeminiClient) Name() string { return "gemini" }

// Decide implements [Client]. When tools are offered the function
// calling mode is ANY, so the model must pick one of them.
func (c *GeminiClient) Decide(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: FunctionDeclarations(req.Tools)}}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAny,
			},
		}
	}

	if c.logger.Enabled(ctx, config.LevelTrace) {
		c.logger.Log(ctx, config.LevelTrace, "gemini request", "model", model, "prompt", req.Prompt, "tools", len(req.Tools))
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}

	out := FromGenaiResponse(resp)
	if c.logger.Enabled(ctx, config.LevelTrace) {
		raw, _ := json.Marshal(resp)
		c.logger.Log(ctx, config.LevelTrace, "gemini response", "body", string(raw))
	}
	return out, nil
}

// FunctionDeclarations converts catalog schemas to genai declarations.
// Catalog types are already the upper-case names genai uses.
func FunctionDeclarations(tools []catalog.ToolSchema) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		params := &genai.Schema{
			Type:       genai.Type(t.Parameters.Type),
			Properties: make(map[string]*genai.Schema, len(t.Parameters.Properties)),
			Required:   t.Parameters.Required,
		}
		if params.Type == "" {
			params.Type = genai.TypeObject
		}
		for name, p := range t.Parameters.Properties {
			params.Properties[name] = &genai.Schema{
				Type:        genai.Type(p.Type),
				Description: p.Description,
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return decls
}

// FromGenaiResponse extracts function calls, text and token usage.
func FromGenaiResponse(resp *genai.GenerateContentResponse) *Response {
	out := &Response{}
	if resp == nil {
		return out
	}
	for _, fc := range resp.FunctionCalls() {
		if fc == nil {
			continue
		}
		args := fc.Args
		if args == nil {
			args = map[string]any{}
		}
		out.Calls = append(out.Calls, FunctionCall{ID: fc.ID, Name: fc.Name, Args: args})
	}
	if len(out.Calls) == 0 {
		out.Text = resp.Text()
	}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
	}
	return out
}
