package events

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeTextChunk EventType = "text-chunk"
	EventTypeThinking  EventType = "thinking"

	// Model requested a tool call
	EventTypeToolCall   EventType = "tool-call"
	EventTypeToolResult EventType = "tool-result"
	// A gated tool is waiting on the user
	EventTypeToolConfirmation EventType = "tool-confirmation"

	EventTypeError    EventType = "error"
	EventTypeActivity EventType = "activity"
	EventTypeFinal    EventType = "final"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// raw payload when the event was decoded by NewEventFromJson
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

type EventTextChunk struct {
	EventImpl
	Delta string `json:"delta"`
}

func NewTextChunkEvent(metadata EventMetadata, delta string) *EventTextChunk {
	return &EventTextChunk{
		EventImpl: EventImpl{Type_: EventTypeTextChunk, Metadata_: metadata},
		Delta:     delta,
	}
}

type EventThinking struct {
	EventImpl
	Delta string `json:"delta"`
}

func NewThinkingEvent(metadata EventMetadata, delta string) *EventThinking {
	return &EventThinking{
		EventImpl: EventImpl{Type_: EventTypeThinking, Metadata_: metadata},
		Delta:     delta,
	}
}

type ToolCall struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string `json:"name" yaml:"name"`
	Input string `json:"input,omitempty" yaml:"input,omitempty"`
}

type EventToolCall struct {
	EventImpl
	ToolCall ToolCall `json:"tool_call"`
}

func NewToolCallEvent(metadata EventMetadata, toolCall ToolCall) *EventToolCall {
	return &EventToolCall{
		EventImpl: EventImpl{Type_: EventTypeToolCall, Metadata_: metadata},
		ToolCall:  toolCall,
	}
}

type ToolResult struct {
	ID              string `json:"id,omitempty" yaml:"id,omitempty"`
	Name            string `json:"name" yaml:"name"`
	Success         bool   `json:"success" yaml:"success"`
	Code            string `json:"code,omitempty" yaml:"code,omitempty"`
	Result          string `json:"result" yaml:"result"`
	ToolDurationMs  int64  `json:"tool_duration_ms" yaml:"tool_duration_ms"`
	TotalDurationMs int64  `json:"total_duration_ms" yaml:"total_duration_ms"`
}

type EventToolResult struct {
	EventImpl
	ToolResult ToolResult `json:"tool_result"`
}

func NewToolResultEvent(metadata EventMetadata, toolResult ToolResult) *EventToolResult {
	return &EventToolResult{
		EventImpl:  EventImpl{Type_: EventTypeToolResult, Metadata_: metadata},
		ToolResult: toolResult,
	}
}

type EventToolConfirmation struct {
	EventImpl
	ToolName    string `json:"tool_name"`
	Title       string `json:"title"`
	Message     string `json:"message,omitempty"`
	SafetyLevel string `json:"safety_level"`
}

func NewToolConfirmationEvent(metadata EventMetadata, toolName, title, message, level string) *EventToolConfirmation {
	return &EventToolConfirmation{
		EventImpl:   EventImpl{Type_: EventTypeToolConfirmation, Metadata_: metadata},
		ToolName:    toolName,
		Title:       title,
		Message:     message,
		SafetyLevel: level,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
	UserMessage string `json:"user_message,omitempty"`
}

func NewErrorEvent(metadata EventMetadata, err error, userMessage string) *EventError {
	ret := &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		UserMessage: userMessage,
	}
	if err != nil {
		ret.ErrorString = err.Error()
	}
	return ret
}

type EventActivity struct {
	EventImpl
	State   ActivityState `json:"state"`
	Message string        `json:"message,omitempty"`
}

func NewActivityEvent(metadata EventMetadata, activity Activity) *EventActivity {
	return &EventActivity{
		EventImpl: EventImpl{Type_: EventTypeActivity, Metadata_: metadata},
		State:     activity.State,
		Message:   activity.Message,
	}
}

type EventFinal struct {
	EventImpl
	Text    string `json:"text"`
	Success bool   `json:"success"`
	IsJSON  bool   `json:"is_json,omitempty"`
}

func NewFinalEvent(metadata EventMetadata, text string, success, isJSON bool) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata},
		Text:      text,
		Success:   success,
		IsJSON:    isJSON,
	}
}

var (
	_ Event = &EventTextChunk{}
	_ Event = &EventThinking{}
	_ Event = &EventToolCall{}
	_ Event = &EventToolResult{}
	_ Event = &EventToolConfirmation{}
	_ Event = &EventError{}
	_ Event = &EventActivity{}
	_ Event = &EventFinal{}
)

func decodeAs[T any, PT interface {
	*T
	Event
	setPayload([]byte)
}](b []byte) (Event, error) {
	var ret T
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, err
	}
	p := PT(&ret)
	p.setPayload(b)
	return p, nil
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}

// NewEventFromJson decodes an event published by WatermillSink.
func NewEventFromJson(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, err
	}

	switch hdr.Type {
	case EventTypeTextChunk:
		return decodeAs[EventTextChunk](b)
	case EventTypeThinking:
		return decodeAs[EventThinking](b)
	case EventTypeToolCall:
		return decodeAs[EventToolCall](b)
	case EventTypeToolResult:
		return decodeAs[EventToolResult](b)
	case EventTypeToolConfirmation:
		return decodeAs[EventToolConfirmation](b)
	case EventTypeError:
		return decodeAs[EventError](b)
	case EventTypeActivity:
		return decodeAs[EventActivity](b)
	case EventTypeFinal:
		return decodeAs[EventFinal](b)
	default:
		return nil, fmt.Errorf("unknown event type: %q", hdr.Type)
	}
}
