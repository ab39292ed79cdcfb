package engine

import (
	"context"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
)

type FrameKind int

const (
	FrameKindText FrameKind = iota
	FrameKindThinking
	// FrameKindToolCalls carries every tool call of the turn. Providers emit it
	// once the calls are fully assembled, never partial arguments.
	FrameKindToolCalls
	FrameKindUsage
	// FrameKindError terminates the stream.
	FrameKindError
)

func (k FrameKind) String() string {
	switch k {
	case FrameKindText:
		return "text"
	case FrameKindThinking:
		return "thinking"
	case FrameKindToolCalls:
		return "tool-calls"
	case FrameKindUsage:
		return "usage"
	case FrameKindError:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is one element of a provider stream. Kind selects which field is set.
type Frame struct {
	Kind      FrameKind
	Text      string
	ToolCalls []conversation.ToolCall
	Usage     *Usage
	Err       error
}

func TextFrame(text string) Frame {
	return Frame{Kind: FrameKindText, Text: text}
}

func ThinkingFrame(text string) Frame {
	return Frame{Kind: FrameKindThinking, Text: text}
}

func ToolCallsFrame(calls []conversation.ToolCall) Frame {
	return Frame{Kind: FrameKindToolCalls, ToolCalls: calls}
}

func UsageFrame(u Usage) Frame {
	return Frame{Kind: FrameKindUsage, Usage: &u}
}

func ErrorFrame(err error) Frame {
	return Frame{Kind: FrameKindError, Err: err}
}

// Send delivers f unless ctx is done first. Providers use it from their
// stream goroutines so an abandoned consumer never blocks them.
func Send(ctx context.Context, out chan<- Frame, f Frame) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}
