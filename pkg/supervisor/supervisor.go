// Package supervisor runs the delegated tool-call loop: a context bundle is
// submitted to a resolving agent, function calls in its output are executed
// against registered handlers, and the call/result pairs are appended to the
// running context until the agent yields a final textual answer.
package supervisor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/parlance-ai/parlance/pkg/core"
)

// DefaultMaxRounds caps loop iterations. An unresolvable model response
// would otherwise resubmit forever; the loop fails closed at the cap.
const DefaultMaxRounds = 8

// FailureAnswer is the generic user-facing answer reported when resolution
// fails. Diagnostic detail goes to the returned error and the log, never to
// the user.
const FailureAnswer = "I'm sorry, I wasn't able to look that up just now. Could you try again?"

// placeholderOutput stands in for the result of a tool no handler is
// registered for. Unmapped tools keep the conversation moving; stricter
// callers should treat them as a config gap.
const placeholderOutput = `{"result": true}`

// Input item and output item discriminants of the resolution wire format.
const (
	ItemMessage            = "message"
	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
)

// InputItem is one entry of the running context submitted to the resolver.
type InputItem struct {
	Type string `json:"type"`
	// Message fields.
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	// Function call and call output fields.
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

// OutputItem is one entry of the resolver's response.
type OutputItem struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Request is one resolution submission: instructions, the running context,
// and the declared tool schema.
type Request struct {
	Instructions string
	Input        []InputItem
	Tools        []core.ToolSchema
}

// Response is the resolver's output item list.
type Response struct {
	Output []OutputItem
}

// Responder is the resolving agent: a local mock, the HTTP Responses
// backend, or the Gemini backend.
type Responder interface {
	CreateResponse(ctx context.Context, req *Request) (*Response, error)
}

// Handler executes one tool call. The returned value is marshaled to JSON
// as the call's output.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// ContextBundle is the loop's input: system instructions, prior history
// filtered to message-type entries only, and a short summary of the most
// recent user utterance.
type ContextBundle struct {
	Instructions string
	History      []core.Message
	UserSummary  string
}

// Breadcrumb records one executed tool call for observability.
type Breadcrumb struct {
	Tool      string
	Arguments string
	Result    string
}

// Result is a resolved answer and the number of rounds it took.
type Result struct {
	Answer string
	Rounds int
}

// Loop drives iterative resolution against one Responder.
type Loop struct {
	responder    Responder
	tools        map[string]Handler
	maxRounds    int
	logger       *slog.Logger
	onBreadcrumb func(Breadcrumb)
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithTool registers a handler for one tool name.
func WithTool(name string, h Handler) LoopOption {
	return func(l *Loop) { l.tools[name] = h }
}

// WithMaxRounds overrides the round cap.
func WithMaxRounds(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxRounds = n
		}
	}
}

// WithLogger sets the loop's logger.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithBreadcrumbs registers a per-call observability callback.
func WithBreadcrumbs(fn func(Breadcrumb)) LoopOption {
	return func(l *Loop) { l.onBreadcrumb = fn }
}

// NewLoop creates a loop over the given resolving agent.
func NewLoop(responder Responder, opts ...LoopOption) *Loop {
	l := &Loop{
		responder: responder,
		tools:     make(map[string]Handler),
		maxRounds: DefaultMaxRounds,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resolve runs the loop to completion. On success the answer is the
// resolver's concatenated text output. On any failure (submission error,
// handler error, or the round cap) the answer is FailureAnswer and the
// error carries the diagnostic cause. Submission failures are never retried.
func (l *Loop) Resolve(ctx context.Context, bundle ContextBundle, tools []core.ToolSchema) (Result, error) {
	input := make([]InputItem, 0, len(bundle.History)+2)
	for _, msg := range bundle.History {
		if msg.Content == "" {
			continue
		}
		input = append(input, InputItem{Type: ItemMessage, Role: msg.Role, Content: msg.Content})
	}
	if summary := strings.TrimSpace(bundle.UserSummary); summary != "" {
		input = append(input, InputItem{Type: ItemMessage, Role: core.RoleUser, Content: summary})
	}

	for round := 1; round <= l.maxRounds; round++ {
		resp, err := l.responder.CreateResponse(ctx, &Request{
			Instructions: bundle.Instructions,
			Input:        input,
			Tools:        tools,
		})
		if err != nil {
			l.logger.Error("supervisor submission failed", "round", round, "error", err)
			return Result{Answer: FailureAnswer, Rounds: round}, err
		}

		var calls []OutputItem
		for _, item := range resp.Output {
			if item.Type == ItemFunctionCall {
				calls = append(calls, item)
			}
		}

		if len(calls) == 0 {
			var text strings.Builder
			for _, item := range resp.Output {
				if item.Type == ItemMessage {
					text.WriteString(item.Text)
				}
			}
			return Result{Answer: text.String(), Rounds: round}, nil
		}

		// Calls run serially in the order returned, so dependent calls keep
		// deterministic causal ordering.
		for _, call := range calls {
			output, err := l.execute(ctx, call)
			if err != nil {
				l.logger.Error("tool handler failed", "tool", call.Name, "error", err)
				return Result{Answer: FailureAnswer, Rounds: round}, err
			}
			if l.onBreadcrumb != nil {
				l.onBreadcrumb(Breadcrumb{Tool: call.Name, Arguments: call.Arguments, Result: output})
			}
			input = append(input,
				InputItem{Type: ItemFunctionCall, CallID: call.CallID, Name: call.Name, Arguments: call.Arguments},
				InputItem{Type: ItemFunctionCallOutput, CallID: call.CallID, Name: call.Name, Output: output},
			)
		}
	}

	l.logger.Error("supervisor loop exceeded round cap", "max_rounds", l.maxRounds)
	return Result{Answer: FailureAnswer, Rounds: l.maxRounds},
		core.NewToolError("", "resolution did not terminate within the round cap")
}

func (l *Loop) execute(ctx context.Context, call OutputItem) (string, error) {
	handler, ok := l.tools[call.Name]
	if !ok {
		l.logger.Warn("no handler registered for tool", "tool", call.Name)
		return placeholderOutput, nil
	}
	value, err := handler(ctx, json.RawMessage(call.Arguments))
	if err != nil {
		return "", core.NewToolError(call.Name, err.Error())
	}
	out, err := json.Marshal(value)
	if err != nil {
		return "", core.NewToolError(call.Name, "encode tool result: "+err.Error())
	}
	return string(out), nil
}
