package realtime

import (
	"github.com/parlance-ai/parlance/pkg/realtime/transcript"
)

// Status is the connection state of a session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Event is a notification emitted on Manager.Events() for the UI to
// consume.
type Event interface {
	eventType() string
}

// StatusChangedEvent signals a connection state transition.
type StatusChangedEvent struct {
	Status Status
}

func (e StatusChangedEvent) eventType() string { return "status_changed" }

// TranscriptUpdatedEvent carries the item that changed. The item is a copy;
// the aggregator remains the sole writer.
type TranscriptUpdatedEvent struct {
	Item transcript.Item
}

func (e TranscriptUpdatedEvent) eventType() string { return "transcript_updated" }

// BreadcrumbEvent is a human-readable observability entry surfaced
// alongside the transcript.
type BreadcrumbEvent struct {
	Text string
}

func (e BreadcrumbEvent) eventType() string { return "breadcrumb" }

// GuardrailFlagEvent reports a tripped guardrail. Flags are observable but
// never terminate the session by themselves.
type GuardrailFlagEvent struct {
	Agent     string
	Guardrail string
	Reason    string
	ItemID    string
}

func (e GuardrailFlagEvent) eventType() string { return "guardrail_flag" }

// ErrorEvent surfaces a session error to the UI. Err is a *core.Error whose
// UserMessage is safe to display.
type ErrorEvent struct {
	Err error
}

func (e ErrorEvent) eventType() string { return "error" }
