package supervisor

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/parlance-ai/parlance/pkg/core"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiBackend resolves against Gemini over the genai SDK, speaking the
// same Responder contract as the HTTP Responses backend.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// GeminiOption configures a GeminiBackend.
type GeminiOption func(*GeminiBackend)

// WithGeminiModel overrides the resolving model.
func WithGeminiModel(model string) GeminiOption {
	return func(b *GeminiBackend) { b.model = model }
}

// NewGeminiBackend creates a Gemini backend.
func NewGeminiBackend(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, core.NewCredentialError("gemini api key must not be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, core.NewTransportError("create gemini client", err)
	}
	b := &GeminiBackend{client: client, model: defaultGeminiModel}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// CreateResponse submits one resolution round.
func (b *GeminiBackend) CreateResponse(ctx context.Context, req *Request) (*Response, error) {
	contents := inputToContents(req.Input)
	config := &genai.GenerateContentConfig{}
	if req.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{Text: req.Instructions}},
		}
	}
	for _, tool := range req.Tools {
		config.Tools = append(config.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  toGenaiSchema(tool.Parameters),
			}},
		})
	}

	genResp, err := b.client.Models.GenerateContent(ctx, b.model, contents, config)
	if err != nil {
		return nil, core.NewTransportError("gemini generation failed", err)
	}
	return parseGeminiResponse(genResp)
}

func inputToContents(input []InputItem) []*genai.Content {
	contents := make([]*genai.Content, 0, len(input))
	for _, item := range input {
		switch item.Type {
		case ItemMessage:
			role := "user"
			if item.Role == core.RoleAssistant {
				role = "model"
			}
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: []*genai.Part{{Text: item.Content}},
			})
		case ItemFunctionCall:
			var args map[string]any
			_ = json.Unmarshal([]byte(item.Arguments), &args)
			contents = append(contents, &genai.Content{
				Role: "model",
				Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{
					ID:   item.CallID,
					Name: item.Name,
					Args: args,
				}}},
			})
		case ItemFunctionCallOutput:
			var response map[string]any
			if err := json.Unmarshal([]byte(item.Output), &response); err != nil || response == nil {
				response = map[string]any{"result": item.Output}
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       item.CallID,
					Name:     item.Name,
					Response: response,
				}}},
			})
		}
	}
	return contents
}

func parseGeminiResponse(genResp *genai.GenerateContentResponse) (*Response, error) {
	if len(genResp.Candidates) == 0 || genResp.Candidates[0].Content == nil {
		return nil, core.NewUpstreamError("empty response from gemini", 0)
	}

	out := &Response{}
	for _, part := range genResp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			out.Output = append(out.Output, OutputItem{Type: ItemMessage, Text: part.Text})
		}
		if fc := part.FunctionCall; fc != nil {
			callID := fc.ID
			if callID == "" {
				callID = "call_" + uuid.NewString()
			}
			args, err := json.Marshal(fc.Args)
			if err != nil {
				args = []byte("{}")
			}
			out.Output = append(out.Output, OutputItem{
				Type:      ItemFunctionCall,
				CallID:    callID,
				Name:      fc.Name,
				Arguments: string(args),
			})
		}
	}
	return out, nil
}

// toGenaiSchema converts the declared JSON tool schema into the genai form.
func toGenaiSchema(schema *core.JSONSchema) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{
		Type:        genaiType(schema.Type),
		Description: schema.Description,
		Required:    schema.Required,
	}
	if len(schema.Properties) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(schema.Properties))
		for name, prop := range schema.Properties {
			p := prop
			s.Properties[name] = toGenaiSchema(&p)
		}
	}
	if schema.Items != nil {
		s.Items = toGenaiSchema(schema.Items)
	}
	if len(schema.Enum) > 0 {
		s.Enum = append(s.Enum, schema.Enum...)
	}
	return s
}

func genaiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeUnspecified
	}
}
