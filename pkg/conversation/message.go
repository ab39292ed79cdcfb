package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeToolCall   ContentType = "tool-call"
	ContentTypeToolResult ContentType = "tool-result"
)

// MetadataCompressionLevel marks a message produced by conversation compression.
// Its value is the decimal compression level.
const MetadataCompressionLevel = "lifeguard.compression-level"

// ToolCall is a model-issued request to invoke a tool. Arguments are passed
// through opaquely; only the safety layer interprets them.
type ToolCall struct {
	ID        string          `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string          `json:"name" yaml:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

func (t ToolCall) String() string {
	return fmt.Sprintf("ToolCall{ID: %s, Name: %s, Arguments: %s}", t.ID, t.Name, string(t.Arguments))
}

// ToolResult is the tool output as fed back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id,omitempty" yaml:"tool_call_id,omitempty"`
	Name       string `json:"name" yaml:"name"`
	Content    string `json:"content" yaml:"content"`
	IsError    bool   `json:"is_error,omitempty" yaml:"is_error,omitempty"`
	// Masked is set once the payload has been elided by observation masking.
	Masked bool `json:"masked,omitempty" yaml:"masked,omitempty"`
}

// Part is one element of a message. Exactly one of Text, ToolCall and
// ToolResult is meaningful, selected by Type.
type Part struct {
	Type       ContentType `json:"type" yaml:"type"`
	Text       string      `json:"text,omitempty" yaml:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty" yaml:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty" yaml:"tool_result,omitempty"`
}

func NewTextPart(text string) Part {
	return Part{Type: ContentTypeText, Text: text}
}

func NewToolCallPart(call ToolCall) Part {
	return Part{Type: ContentTypeToolCall, ToolCall: &call}
}

func NewToolResultPart(result ToolResult) Part {
	return Part{Type: ContentTypeToolResult, ToolResult: &result}
}

// Message is a single conversation turn. Messages are treated as immutable
// once they have been handed to a Store or returned from a run.
type Message struct {
	ID       uuid.UUID         `json:"id" yaml:"id"`
	Role     Role              `json:"role" yaml:"role"`
	Parts    []Part            `json:"parts" yaml:"parts"`
	Time     time.Time         `json:"time" yaml:"time"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type MessageOption func(*Message)

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
	}
}

func WithMetadata(key, value string) MessageOption {
	return func(m *Message) {
		if m.Metadata == nil {
			m.Metadata = map[string]string{}
		}
		m.Metadata[key] = value
	}
}

func NewMessage(role Role, parts []Part, opts ...MessageOption) Message {
	ret := Message{
		ID:    uuid.New(),
		Role:  role,
		Parts: parts,
		Time:  time.Now(),
	}
	for _, opt := range opts {
		opt(&ret)
	}
	return ret
}

func NewTextMessage(role Role, text string, opts ...MessageOption) Message {
	return NewMessage(role, []Part{NewTextPart(text)}, opts...)
}

// NewToolCallMessage builds the assistant turn that issued a batch of tool calls,
// keeping any text the model produced before the calls.
func NewToolCallMessage(text string, calls []ToolCall, opts ...MessageOption) Message {
	parts := make([]Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, NewTextPart(text))
	}
	for _, c := range calls {
		parts = append(parts, NewToolCallPart(c))
	}
	return NewMessage(RoleAssistant, parts, opts...)
}

// NewToolResultsMessage builds the synthetic assistant message carrying the
// results of one tool batch.
func NewToolResultsMessage(results []ToolResult, opts ...MessageOption) Message {
	parts := make([]Part, 0, len(results))
	for _, r := range results {
		parts = append(parts, NewToolResultPart(r))
	}
	return NewMessage(RoleAssistant, parts, opts...)
}

// Text returns the concatenation of all text parts.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == ContentTypeText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

func (m Message) ToolCalls() []ToolCall {
	var ret []ToolCall
	for _, p := range m.Parts {
		if p.Type == ContentTypeToolCall && p.ToolCall != nil {
			ret = append(ret, *p.ToolCall)
		}
	}
	return ret
}

func (m Message) ToolResults() []ToolResult {
	var ret []ToolResult
	for _, p := range m.Parts {
		if p.Type == ContentTypeToolResult && p.ToolResult != nil {
			ret = append(ret, *p.ToolResult)
		}
	}
	return ret
}

// CharCount is the number of characters the message contributes to a prompt.
func (m Message) CharCount() int {
	n := 0
	for _, p := range m.Parts {
		switch p.Type {
		case ContentTypeText:
			n += len(p.Text)
		case ContentTypeToolCall:
			if p.ToolCall != nil {
				n += len(p.ToolCall.Name) + len(p.ToolCall.Arguments)
			}
		case ContentTypeToolResult:
			if p.ToolResult != nil {
				n += len(p.ToolResult.Name) + len(p.ToolResult.Content)
			}
		}
	}
	return n
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	return clone.Clone(m).(Message)
}

func (m Message) String() string {
	var parts []string
	for _, p := range m.Parts {
		switch p.Type {
		case ContentTypeText:
			parts = append(parts, p.Text)
		case ContentTypeToolCall:
			if p.ToolCall != nil {
				parts = append(parts, p.ToolCall.String())
			}
		case ContentTypeToolResult:
			if p.ToolResult != nil {
				parts = append(parts, fmt.Sprintf("ToolResult{Name: %s, Content: %s}", p.ToolResult.Name, p.ToolResult.Content))
			}
		}
	}
	return fmt.Sprintf("[%s]: %s", m.Role, strings.Join(parts, "\n"))
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	ret := make([]Message, len(msgs))
	for i, m := range msgs {
		ret[i] = m.Clone()
	}
	return ret
}
