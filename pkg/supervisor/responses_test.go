package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parlance-ai/parlance/pkg/core"
)

func TestResponsesBackendRoundTrip(t *testing.T) {
	t.Parallel()

	var gotBody responsesRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/responses" {
			t.Errorf("path = %q, want /responses", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": []map[string]any{
				{
					"type": "message",
					"content": []map[string]any{
						{"type": "output_text", "text": "Hello "},
						{"type": "output_text", "text": "there."},
					},
				},
				{
					"type":      "function_call",
					"call_id":   "call_9",
					"name":      "lookupInfo",
					"arguments": `{"topic":"x"}`,
				},
			},
		})
	}))
	defer server.Close()

	backend := NewResponsesBackend("sk-test",
		WithResponsesBaseURL(server.URL),
		WithResponsesModel("gpt-4.1-mini"),
	)

	resp, err := backend.CreateResponse(context.Background(), &Request{
		Instructions: "be brief",
		Input: []InputItem{
			{Type: ItemMessage, Role: core.RoleUser, Content: "hi"},
		},
		Tools: []core.ToolSchema{{
			Name:        "lookupInfo",
			Description: "Look something up.",
			Parameters: &core.JSONSchema{
				Type: "object",
				Properties: map[string]core.JSONSchema{
					"topic": {Type: "string"},
				},
				Required: []string{"topic"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("CreateResponse() error = %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Model != "gpt-4.1-mini" {
		t.Errorf("model = %q", gotBody.Model)
	}
	if gotBody.Instructions != "be brief" {
		t.Errorf("instructions = %q", gotBody.Instructions)
	}
	if len(gotBody.Tools) != 1 || gotBody.Tools[0].Type != "function" || gotBody.Tools[0].Name != "lookupInfo" {
		t.Errorf("tools = %+v", gotBody.Tools)
	}
	if gotBody.ParallelToolCalls == nil || *gotBody.ParallelToolCalls {
		t.Error("parallel_tool_calls should be explicitly false when tools are declared")
	}

	if len(resp.Output) != 2 {
		t.Fatalf("len(Output) = %d, want 2", len(resp.Output))
	}
	if resp.Output[0].Type != ItemMessage || resp.Output[0].Text != "Hello there." {
		t.Errorf("Output[0] = %+v", resp.Output[0])
	}
	if resp.Output[1].Type != ItemFunctionCall || resp.Output[1].CallID != "call_9" || resp.Output[1].Name != "lookupInfo" {
		t.Errorf("Output[1] = %+v", resp.Output[1])
	}
}

func TestResponsesBackendUpstreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer server.Close()

	backend := NewResponsesBackend("sk-test", WithResponsesBaseURL(server.URL))
	_, err := backend.CreateResponse(context.Background(), &Request{})
	if err == nil {
		t.Fatal("CreateResponse() error = nil, want upstream error")
	}
	ce, ok := core.AsError(err)
	if !ok || ce.Type != core.ErrUpstream {
		t.Fatalf("error = %v, want %v", err, core.ErrUpstream)
	}
	if ce.Message != "slow down" {
		t.Errorf("Message = %q, want upstream message", ce.Message)
	}
}

func TestResponsesBackendMalformedBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	backend := NewResponsesBackend("", WithResponsesBaseURL(server.URL))
	_, err := backend.CreateResponse(context.Background(), &Request{})
	if err == nil {
		t.Fatal("CreateResponse() error = nil, want protocol error")
	}
	ce, ok := core.AsError(err)
	if !ok || ce.Type != core.ErrProtocol {
		t.Fatalf("error = %v, want %v", err, core.ErrProtocol)
	}
}

func TestResponsesBackendOmitsEmptyAuth(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var sawHeader bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, sawHeader = r.Header["Authorization"]
		_ = json.NewEncoder(w).Encode(map[string]any{"output": []any{}})
	}))
	defer server.Close()

	// Empty key: the gateway relay injects its own credential.
	backend := NewResponsesBackend("", WithResponsesBaseURL(server.URL))
	if _, err := backend.CreateResponse(context.Background(), &Request{}); err != nil {
		t.Fatalf("CreateResponse() error = %v", err)
	}
	if sawHeader {
		t.Errorf("Authorization header sent with empty key: %q", gotAuth)
	}
}
