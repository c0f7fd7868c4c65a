package supervisor

import (
	"testing"

	"google.golang.org/genai"

	"github.com/parlance-ai/parlance/pkg/core"
)

func TestToGenaiSchema(t *testing.T) {
	t.Parallel()

	schema := &core.JSONSchema{
		Type:        "object",
		Description: "lookup arguments",
		Properties: map[string]core.JSONSchema{
			"topic": {Type: "string", Enum: []string{"pricing", "coverage"}},
			"count": {Type: "integer"},
			"tags":  {Type: "array", Items: &core.JSONSchema{Type: "string"}},
		},
		Required: []string{"topic"},
	}

	got := toGenaiSchema(schema)
	if got.Type != genai.TypeObject {
		t.Errorf("Type = %v, want %v", got.Type, genai.TypeObject)
	}
	if got.Description != "lookup arguments" {
		t.Errorf("Description = %q", got.Description)
	}
	if len(got.Required) != 1 || got.Required[0] != "topic" {
		t.Errorf("Required = %v", got.Required)
	}

	topic := got.Properties["topic"]
	if topic == nil || topic.Type != genai.TypeString || len(topic.Enum) != 2 {
		t.Errorf("topic schema = %+v", topic)
	}
	if count := got.Properties["count"]; count == nil || count.Type != genai.TypeInteger {
		t.Errorf("count schema = %+v", count)
	}
	tags := got.Properties["tags"]
	if tags == nil || tags.Type != genai.TypeArray || tags.Items == nil || tags.Items.Type != genai.TypeString {
		t.Errorf("tags schema = %+v", tags)
	}

	if toGenaiSchema(nil) != nil {
		t.Error("toGenaiSchema(nil) != nil")
	}
}

func TestInputToContents(t *testing.T) {
	t.Parallel()

	contents := inputToContents([]InputItem{
		{Type: ItemMessage, Role: core.RoleUser, Content: "hi"},
		{Type: ItemMessage, Role: core.RoleAssistant, Content: "hello"},
		{Type: ItemFunctionCall, CallID: "call_1", Name: "lookupInfo", Arguments: `{"topic":"pricing"}`},
		{Type: ItemFunctionCallOutput, CallID: "call_1", Name: "lookupInfo", Output: `{"price":"$9"}`},
	})
	if len(contents) != 4 {
		t.Fatalf("len(contents) = %d, want 4", len(contents))
	}

	if contents[0].Role != "user" || contents[0].Parts[0].Text != "hi" {
		t.Errorf("contents[0] = %+v", contents[0])
	}
	if contents[1].Role != "model" || contents[1].Parts[0].Text != "hello" {
		t.Errorf("contents[1] = %+v", contents[1])
	}

	call := contents[2].Parts[0].FunctionCall
	if contents[2].Role != "model" || call == nil || call.Name != "lookupInfo" || call.Args["topic"] != "pricing" {
		t.Errorf("contents[2] = %+v", contents[2])
	}

	fr := contents[3].Parts[0].FunctionResponse
	if contents[3].Role != "user" || fr == nil || fr.Name != "lookupInfo" || fr.Response["price"] != "$9" {
		t.Errorf("contents[3] = %+v", contents[3])
	}
}

func TestInputToContentsWrapsNonObjectOutput(t *testing.T) {
	t.Parallel()

	contents := inputToContents([]InputItem{
		{Type: ItemFunctionCallOutput, CallID: "call_1", Name: "t", Output: `"plain string"`},
	})
	fr := contents[0].Parts[0].FunctionResponse
	if fr == nil || fr.Response["result"] != `"plain string"` {
		t.Errorf("non-object output not wrapped: %+v", fr)
	}
}

func TestParseGeminiResponse(t *testing.T) {
	t.Parallel()

	genResp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: "model",
				Parts: []*genai.Part{
					{Text: "Let me check. "},
					{FunctionCall: &genai.FunctionCall{Name: "lookupInfo", Args: map[string]any{"topic": "pricing"}}},
				},
			},
		}},
	}

	resp, err := parseGeminiResponse(genResp)
	if err != nil {
		t.Fatalf("parseGeminiResponse() error = %v", err)
	}
	if len(resp.Output) != 2 {
		t.Fatalf("len(Output) = %d, want 2", len(resp.Output))
	}
	if resp.Output[0].Type != ItemMessage || resp.Output[0].Text != "Let me check. " {
		t.Errorf("Output[0] = %+v", resp.Output[0])
	}
	call := resp.Output[1]
	if call.Type != ItemFunctionCall || call.Name != "lookupInfo" {
		t.Errorf("Output[1] = %+v", call)
	}
	if call.CallID == "" {
		t.Error("missing call id was not synthesized")
	}
	if call.Arguments != `{"topic":"pricing"}` {
		t.Errorf("Arguments = %q", call.Arguments)
	}

	if _, err := parseGeminiResponse(&genai.GenerateContentResponse{}); err == nil {
		t.Error("empty response must error")
	}
}
