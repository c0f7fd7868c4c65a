package realtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/parlance-ai/parlance/pkg/agents"
	"github.com/parlance-ai/parlance/pkg/core"
	"github.com/parlance-ai/parlance/pkg/realtime/protocol"
	"github.com/parlance-ai/parlance/pkg/realtime/transcript"
	"github.com/parlance-ai/parlance/pkg/supervisor"
)

// toolFailureOutput is written back when a local tool handler fails; the
// raw error stays in the log.
const toolFailureOutput = `{"error": "tool execution failed"}`

// handleFrame routes one inbound frame by its discriminant. Unknown
// discriminants and malformed frames are logged and dropped; they never
// crash the session. The returned bool reports whether the frame was a
// session acknowledgement.
func (m *Manager) handleFrame(sess *session, data []byte) bool {
	event, err := protocol.DecodeServerEvent(data)
	if err != nil {
		if protocol.IsUnknownType(err) {
			m.logger.Debug("dropping unrecognized event", "error", err)
		} else {
			m.logger.Warn("dropping malformed frame", "error", err)
		}
		return false
	}

	switch msg := event.(type) {
	case protocol.SessionCreated, protocol.SessionUpdated:
		return true

	case protocol.ItemCreated:
		if msg.Item.Type != "" && msg.Item.Type != "message" {
			return false
		}
		role := msg.Item.Role
		if role == "" {
			role = core.RoleAssistant
		}
		m.mu.Lock()
		item, created := sess.agg.ItemCreated(msg.Item.ID, role)
		m.mu.Unlock()
		if created {
			m.emit(TranscriptUpdatedEvent{Item: item})
		}

	case protocol.TranscriptDelta:
		m.mu.Lock()
		item, changed := sess.agg.AppendDelta(msg.ItemID, msg.Delta)
		m.mu.Unlock()
		if changed {
			m.emit(TranscriptUpdatedEvent{Item: item})
		}

	case protocol.TranscriptDone:
		m.mu.Lock()
		item, changed := sess.agg.Complete(msg.ItemID, msg.Transcript)
		m.mu.Unlock()
		if changed {
			m.emit(TranscriptUpdatedEvent{Item: item})
			if item.Role == core.RoleAssistant {
				m.runGuardrails(item)
			}
		}

	case protocol.InputTranscriptionCompleted:
		// The final text of a user audio item.
		m.mu.Lock()
		sess.agg.ItemCreated(msg.ItemID, core.RoleUser)
		item, changed := sess.agg.Complete(msg.ItemID, msg.Transcript)
		m.mu.Unlock()
		if changed {
			m.emit(TranscriptUpdatedEvent{Item: item})
		}

	case protocol.ResponseCreated:
		m.mu.Lock()
		sess.activeResponseID = msg.Response.ID
		m.mu.Unlock()

	case protocol.ResponseDone:
		m.mu.Lock()
		if sess.activeResponseID == msg.Response.ID {
			sess.activeResponseID = ""
		}
		m.mu.Unlock()

	case protocol.FunctionCallArgsDone:
		m.handleToolCall(sess, msg)

	case protocol.ServerError:
		remote := &core.Error{
			Type:    core.ErrUpstream,
			Message: msg.Error.Message,
			Code:    msg.Error.Code,
		}
		m.logger.Warn("remote error event", "code", msg.Error.Code, "message", msg.Error.Message)
		m.emit(ErrorEvent{Err: remote})
	}
	return false
}

// handleToolCall resolves one function call from the remote model and
// writes the outcome back into the session as a function_call_output item
// followed by a generation trigger. Runs on the dispatch flow; resolution
// is bounded by the configured tool timeout, and session teardown cancels
// it, so a hung resolver cannot wedge the session or stall Disconnect.
func (m *Manager) handleToolCall(sess *session, call protocol.FunctionCallArgsDone) {
	m.emit(BreadcrumbEvent{Text: "tool call: " + call.Name + "(" + call.Arguments + ")"})

	ctx, cancel := context.WithTimeout(sess.ctx, m.cfg.ToolTimeout)
	defer cancel()

	var output string
	switch {
	case call.Name == m.cfg.DelegationTool && m.loop != nil:
		output = m.resolveDelegated(ctx, sess, call)
	default:
		handler, ok := m.cfg.LocalTools[call.Name]
		if !ok {
			// Unmapped tools get a placeholder success so the conversation
			// keeps moving.
			m.logger.Warn("no handler registered for tool", "tool", call.Name)
			output = `{"result": true}`
			break
		}
		value, err := handler(ctx, json.RawMessage(call.Arguments))
		if err != nil {
			m.logger.Error("local tool failed", "tool", call.Name, "error", err)
			output = toolFailureOutput
			break
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			m.logger.Error("encode tool result", "tool", call.Name, "error", err)
			output = toolFailureOutput
			break
		}
		output = string(encoded)
	}

	m.emit(BreadcrumbEvent{Text: "tool result: " + call.Name + " -> " + output})

	if err := m.sendCommand(sess, protocol.NewFunctionCallOutputItem(call.CallID, output)); err != nil {
		return
	}
	_ = m.sendCommand(sess, protocol.NewResponseCreate())
}

// resolveDelegated builds the context bundle from the transcript and runs
// the supervisor loop. Failures resolve to the loop's generic failure
// answer; the cause stays in the log.
func (m *Manager) resolveDelegated(ctx context.Context, sess *session, call protocol.FunctionCallArgsDone) string {
	m.mu.Lock()
	history := sess.agg.Messages()
	lastUser, _ := sess.agg.LastUserText()
	m.mu.Unlock()

	summary := delegationSummary(call.Arguments)
	if summary == "" {
		summary = lastUser
	}

	result, err := m.loop.Resolve(ctx, supervisor.ContextBundle{
		Instructions: m.cfg.SupervisorInstructions,
		History:      history,
		UserSummary:  summary,
	}, m.cfg.SupervisorTools)
	if err != nil {
		m.logger.Error("delegated resolution failed", "error", err)
	}

	encoded, err := json.Marshal(map[string]string{"nextResponse": result.Answer})
	if err != nil {
		return toolFailureOutput
	}
	return string(encoded)
}

// delegationSummary extracts the free-text summary of the latest user
// utterance from the delegation tool's arguments.
func delegationSummary(arguments string) string {
	var args struct {
		RelevantContext string `json:"relevantContextFromLastUserMessage"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return ""
	}
	return strings.TrimSpace(args.RelevantContext)
}

// runGuardrails checks a completed assistant item against the active
// agent's guardrails. A guardrail error counts as PASS; a FLAG is emitted
// and logged but never aborts the session.
func (m *Manager) runGuardrails(item transcript.Item) {
	active := m.cfg.Agents.Active()
	if len(active.Guardrails) == 0 {
		return
	}
	in := agents.GuardrailInput{Text: item.Text, CompanyName: m.cfg.CompanyName}
	for _, g := range active.Guardrails {
		ctx, cancel := context.WithTimeout(context.Background(), defaultGuardrailTimeout)
		verdict, err := g.Check(ctx, in)
		cancel()
		if err != nil {
			m.logger.Warn("guardrail check failed", "guardrail", g.Name(), "error", err)
			continue
		}
		if verdict.Decision == agents.DecisionFlag {
			m.logger.Warn("guardrail flagged output", "guardrail", g.Name(), "reason", verdict.Reason, "item", item.ID)
			m.emit(GuardrailFlagEvent{
				Agent:     active.Name,
				Guardrail: g.Name(),
				Reason:    verdict.Reason,
				ItemID:    item.ID,
			})
		}
	}
}
