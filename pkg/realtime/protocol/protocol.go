package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wire event discriminants. Commands are client-originated, notifications
// server-originated.
const (
	TypeSessionUpdate    = "session.update"
	TypeItemCreate       = "conversation.item.create"
	TypeResponseCreate   = "response.create"
	TypeResponseCancel   = "response.cancel"
	TypeInputAudioAppend = "input_audio_buffer.append"

	TypeSessionCreated         = "session.created"
	TypeSessionUpdated         = "session.updated"
	TypeItemCreated            = "conversation.item.created"
	TypeInputTranscriptionDone = "conversation.item.input_audio_transcription.completed"
	TypeResponseCreated        = "response.created"
	TypeResponseDone           = "response.done"
	TypeTranscriptDelta        = "response.audio_transcript.delta"
	TypeTranscriptDone         = "response.audio_transcript.done"
	TypeFunctionCallArgsDone   = "response.function_call_arguments.done"
	TypeError                  = "error"
)

// Item content part types.
const (
	ContentInputText = "input_text"
	ContentText      = "text"
	ContentAudio     = "audio"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

func unknownType(typ string) *DecodeError {
	return &DecodeError{Code: "unknown_type", Message: "unknown event type", Param: typ}
}

// IsUnknownType reports whether err marks an event whose discriminant is not
// part of this codec. Such events are dropped by the caller, never fatal.
func IsUnknownType(err error) bool {
	de, ok := err.(*DecodeError)
	return ok && de.Code == "unknown_type"
}

// SessionConfig is the configuration pushed in a session.update command.
type SessionConfig struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
	Tools                   []ToolDecl           `json:"tools,omitempty"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
}

// TranscriptionConfig selects the model transcribing inbound user audio.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// TurnDetection is the server-side voice activity policy.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    *bool   `json:"create_response,omitempty"`
}

// ToolDecl declares one callable function to the remote model.
type ToolDecl struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Item is a conversation entry carried by item.create / item.created.
type Item struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type,omitempty"` // "message" or "function_call_output"
	Role    string        `json:"role,omitempty"`
	Status  string        `json:"status,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

// ContentPart is one segment of an Item's content.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// SessionUpdate pushes session configuration.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// ItemCreate appends a conversation item.
type ItemCreate struct {
	Type string `json:"type"`
	Item Item   `json:"item"`
}

// ResponseCreate triggers generation.
type ResponseCreate struct {
	Type string `json:"type"`
}

// ResponseCancel interrupts any in-flight generation.
type ResponseCancel struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

// InputAudioAppend carries one base64 audio chunk on the socket transport.
type InputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// SessionCreated acknowledges the session after connect.
type SessionCreated struct {
	Type    string          `json:"type"`
	Session json.RawMessage `json:"session,omitempty"`
}

// SessionUpdated acknowledges a configuration push.
type SessionUpdated struct {
	Type    string          `json:"type"`
	Session json.RawMessage `json:"session,omitempty"`
}

// ItemCreated announces a new conversation item.
type ItemCreated struct {
	Type string `json:"type"`
	Item Item   `json:"item"`
}

// InputTranscriptionCompleted carries the final transcript of a user audio item.
type InputTranscriptionCompleted struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// ResponseCreated announces a generation starting.
type ResponseCreated struct {
	Type     string       `json:"type"`
	Response ResponseMeta `json:"response"`
}

// ResponseDone announces a generation finishing.
type ResponseDone struct {
	Type     string       `json:"type"`
	Response ResponseMeta `json:"response"`
}

// ResponseMeta identifies a generation.
type ResponseMeta struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// TranscriptDelta carries one incremental transcript fragment.
type TranscriptDelta struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

// TranscriptDone carries the authoritative final transcript for an item.
type TranscriptDone struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// FunctionCallArgsDone announces a completed function call request.
type FunctionCallArgsDone struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

// ServerError is the remote's error notification.
type ServerError struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a remote error.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// DecodeServerEvent decodes one inbound frame into its typed notification.
// A frame with an unrecognized discriminant returns an error satisfying
// IsUnknownType; all other errors mark the frame as malformed.
func DecodeServerEvent(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("missing type", "type")
	}

	switch typ {
	case TypeSessionCreated:
		var msg SessionCreated
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid session.created frame", "")
		}
		return msg, nil
	case TypeSessionUpdated:
		var msg SessionUpdated
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid session.updated frame", "")
		}
		return msg, nil
	case TypeItemCreated:
		var msg ItemCreated
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid conversation.item.created frame", "")
		}
		if strings.TrimSpace(msg.Item.ID) == "" {
			return nil, badFrame("item.id is required", "item.id")
		}
		return msg, nil
	case TypeInputTranscriptionDone:
		var msg InputTranscriptionCompleted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid input transcription frame", "")
		}
		if strings.TrimSpace(msg.ItemID) == "" {
			return nil, badFrame("item_id is required", "item_id")
		}
		return msg, nil
	case TypeResponseCreated:
		var msg ResponseCreated
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid response.created frame", "")
		}
		return msg, nil
	case TypeResponseDone:
		var msg ResponseDone
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid response.done frame", "")
		}
		return msg, nil
	case TypeTranscriptDelta:
		var msg TranscriptDelta
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid transcript delta frame", "")
		}
		if strings.TrimSpace(msg.ItemID) == "" {
			return nil, badFrame("item_id is required", "item_id")
		}
		return msg, nil
	case TypeTranscriptDone:
		var msg TranscriptDone
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid transcript done frame", "")
		}
		if strings.TrimSpace(msg.ItemID) == "" {
			return nil, badFrame("item_id is required", "item_id")
		}
		return msg, nil
	case TypeFunctionCallArgsDone:
		var msg FunctionCallArgsDone
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid function call frame", "")
		}
		if strings.TrimSpace(msg.CallID) == "" {
			return nil, badFrame("call_id is required", "call_id")
		}
		if strings.TrimSpace(msg.Name) == "" {
			return nil, badFrame("name is required", "name")
		}
		return msg, nil
	case TypeError:
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid error frame", "")
		}
		return msg, nil
	default:
		return nil, unknownType(typ)
	}
}

// NewSessionUpdate builds a session.update command.
func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	return SessionUpdate{Type: TypeSessionUpdate, Session: cfg}
}

// NewUserMessageItem builds a conversation.item.create command holding one
// user text message with the given locally-assigned id.
func NewUserMessageItem(id, text string) ItemCreate {
	return ItemCreate{
		Type: TypeItemCreate,
		Item: Item{
			ID:      id,
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: ContentInputText, Text: text}},
		},
	}
}

// NewFunctionCallOutputItem builds a conversation.item.create command
// carrying a function call result.
func NewFunctionCallOutputItem(callID, output string) ItemCreate {
	return ItemCreate{
		Type: TypeItemCreate,
		Item: Item{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

// NewResponseCreate builds a response.create command.
func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}

// NewResponseCancel builds a response.cancel command.
func NewResponseCancel(responseID string) ResponseCancel {
	return ResponseCancel{Type: TypeResponseCancel, ResponseID: responseID}
}

// NewInputAudioAppend builds an input_audio_buffer.append command from an
// already base64-encoded audio chunk.
func NewInputAudioAppend(audioB64 string) InputAudioAppend {
	return InputAudioAppend{Type: TypeInputAudioAppend, Audio: audioB64}
}
