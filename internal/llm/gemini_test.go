package llm

import (
	"context"
	"testing"

	"google.golang.org/genai"

	"github.com/nugget/scriptvoice/internal/catalog"
)

func TestFunctionDeclarations(t *testing.T) {
	tools := []catalog.ToolSchema{
		{
			Name:        "set-volume",
			Description: "Sets the volume",
			Parameters: catalog.Parameters{
				Type:       "OBJECT",
				Properties: map[string]catalog.Property{"level": {Type: "INTEGER", Description: "percent"}},
				Required:   []string{"level"},
			},
		},
		{Name: "lock-screen", Description: "Locks", Parameters: catalog.Parameters{Properties: map[string]catalog.Property{}}},
	}

	decls := FunctionDeclarations(tools)
	if len(decls) != 2 {
		t.Fatalf("decls = %d", len(decls))
	}
	vol := decls[0]
	if vol.Name != "set-volume" || vol.Parameters.Type != genai.TypeObject {
		t.Errorf("decl = %+v", vol)
	}
	if vol.Parameters.Properties["level"].Type != genai.TypeInteger {
		t.Errorf("level type = %q", vol.Parameters.Properties["level"].Type)
	}
	if len(vol.Parameters.Required) != 1 {
		t.Errorf("required = %v", vol.Parameters.Required)
	}
	if decls[1].Parameters.Type != genai.TypeObject {
		t.Errorf("empty type should default to OBJECT, got %q", decls[1].Parameters.Type)
	}
}

func TestFromGenaiResponse_FunctionCall(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: "model",
				Parts: []*genai.Part{{
					FunctionCall: &genai.FunctionCall{Name: "open-calculator"},
				}},
			},
		}},
	}

	got := FromGenaiResponse(resp)
	if len(got.Calls) != 1 || got.Calls[0].Name != "open-calculator" {
		t.Fatalf("Calls = %+v", got.Calls)
	}
	if got.Calls[0].Args == nil {
		t.Error("nil args should become an empty map")
	}
	if got.Text != "" {
		t.Errorf("Text = %q, want empty when a call is present", got.Text)
	}
}

func TestFromGenaiResponse_Text(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: `{"plan": []}`}}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 12, CandidatesTokenCount: 3},
	}

	got := FromGenaiResponse(resp)
	if len(got.Calls) != 0 || got.Text != `{"plan": []}` {
		t.Errorf("Response = %+v", got)
	}
	if got.InputTokens != 12 || got.OutputTokens != 3 {
		t.Errorf("tokens = %d/%d", got.InputTokens, got.OutputTokens)
	}
}

func TestFromGenaiResponse_Empty(t *testing.T) {
	if got := FromGenaiResponse(nil); len(got.Calls) != 0 || got.Text != "" {
		t.Errorf("nil response = %+v", got)
	}
	if got := FromGenaiResponse(&genai.GenerateContentResponse{}); len(got.Calls) != 0 || got.Text != "" {
		t.Errorf("empty response = %+v", got)
	}
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	if _, err := NewGeminiClient(context.Background(), "", "gemini-2.5-flash", nil); err == nil {
		t.Fatal("expected error without api key")
	}
}
