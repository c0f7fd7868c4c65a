package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/parlance-ai/parlance/pkg/core"
)

// DefaultResponsesBaseURL is the default upstream endpoint. Deployments
// going through the gateway relay point BaseURL there instead.
const DefaultResponsesBaseURL = "https://api.openai.com/v1"

const defaultResponsesModel = "gpt-4.1"

// ResponsesBackend resolves against the Responses API over HTTP.
type ResponsesBackend struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// ResponsesOption configures a ResponsesBackend.
type ResponsesOption func(*ResponsesBackend)

// WithResponsesBaseURL points the backend at a different endpoint, such as
// the gateway relay.
func WithResponsesBaseURL(baseURL string) ResponsesOption {
	return func(b *ResponsesBackend) { b.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithResponsesModel overrides the resolving model.
func WithResponsesModel(model string) ResponsesOption {
	return func(b *ResponsesBackend) { b.model = model }
}

// WithResponsesHTTPClient overrides the HTTP client.
func WithResponsesHTTPClient(client *http.Client) ResponsesOption {
	return func(b *ResponsesBackend) {
		if client != nil {
			b.httpClient = client
		}
	}
}

// NewResponsesBackend creates a Responses API backend. The key may be empty
// when the endpoint (for instance the gateway relay) injects its own.
func NewResponsesBackend(apiKey string, opts ...ResponsesOption) *ResponsesBackend {
	b := &ResponsesBackend{
		apiKey:     apiKey,
		baseURL:    DefaultResponsesBaseURL,
		model:      defaultResponsesModel,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// responsesRequest is the wire request.
type responsesRequest struct {
	Model             string          `json:"model"`
	Instructions      string          `json:"instructions,omitempty"`
	Input             []wireInputItem `json:"input"`
	Tools             []wireTool      `json:"tools,omitempty"`
	ParallelToolCalls *bool           `json:"parallel_tool_calls,omitempty"`
}

type wireInputItem struct {
	Type      string `json:"type"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

type wireTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// responsesResponse is the wire response.
type responsesResponse struct {
	Output []wireOutputItem `json:"output"`
	Error  *wireError       `json:"error,omitempty"`
}

type wireOutputItem struct {
	Type      string           `json:"type"`
	Content   []wireOutputPart `json:"content,omitempty"`
	CallID    string           `json:"call_id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Arguments string           `json:"arguments,omitempty"`
}

type wireOutputPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type wireError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type wireErrorEnvelope struct {
	Error *wireError `json:"error"`
}

// CreateResponse submits one resolution round.
func (b *ResponsesBackend) CreateResponse(ctx context.Context, req *Request) (*Response, error) {
	wireReq := b.buildRequest(req)
	respBody, err := b.doRequest(ctx, wireReq)
	if err != nil {
		return nil, err
	}
	return parseResponsesBody(respBody)
}

func (b *ResponsesBackend) buildRequest(req *Request) *responsesRequest {
	wireReq := &responsesRequest{
		Model:        b.model,
		Instructions: req.Instructions,
		Input:        make([]wireInputItem, 0, len(req.Input)),
	}
	for _, item := range req.Input {
		wireReq.Input = append(wireReq.Input, wireInputItem(item))
	}
	for _, tool := range req.Tools {
		params, err := json.Marshal(tool.Parameters)
		if err != nil || tool.Parameters == nil {
			params = nil
		}
		wireReq.Tools = append(wireReq.Tools, wireTool{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		})
	}
	if len(wireReq.Tools) > 0 {
		// The loop executes serially; one call per round keeps causal
		// ordering between dependent calls.
		parallel := false
		wireReq.ParallelToolCalls = &parallel
	}
	return wireReq
}

func (b *ResponsesBackend) doRequest(ctx context.Context, wireReq *responsesRequest) ([]byte, error) {
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewTransportError("responses request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseResponsesError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func parseResponsesError(status int, body []byte) error {
	var envelope wireErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return core.NewUpstreamError(envelope.Error.Message, status)
	}
	return core.NewUpstreamError(fmt.Sprintf("responses endpoint returned status %d", status), status)
}

func parseResponsesBody(body []byte) (*Response, error) {
	var wireResp responsesResponse
	if err := json.Unmarshal(body, &wireResp); err != nil {
		return nil, core.NewProtocolError("decode responses body", err)
	}
	if wireResp.Error != nil && wireResp.Error.Message != "" {
		return nil, core.NewUpstreamError(wireResp.Error.Message, http.StatusOK)
	}

	out := &Response{Output: make([]OutputItem, 0, len(wireResp.Output))}
	for _, item := range wireResp.Output {
		switch item.Type {
		case ItemMessage:
			var text strings.Builder
			for _, part := range item.Content {
				if part.Type == "output_text" || part.Type == "text" {
					text.WriteString(part.Text)
				}
			}
			out.Output = append(out.Output, OutputItem{Type: ItemMessage, Text: text.String()})
		case ItemFunctionCall:
			out.Output = append(out.Output, OutputItem{
				Type:      ItemFunctionCall,
				CallID:    item.CallID,
				Name:      item.Name,
				Arguments: item.Arguments,
			})
		}
	}
	return out, nil
}
