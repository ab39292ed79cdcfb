package engine

import (
	"context"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
)

// Provider is a streaming LLM backend. StreamCompletion returns once the
// request has been accepted; frames then arrive on the channel until it is
// closed. An ErrorFrame is always the last frame before the close.
// Cancelling ctx aborts the stream and closes the channel.
type Provider interface {
	// Name identifies the provider for error classification and circuit breaking,
	// e.g. "openai" or "anthropic".
	Name() string
	StreamCompletion(ctx context.Context, messages []conversation.Message, opts CompletionOptions) (<-chan Frame, error)
}

// Collect drains a frame channel and returns the concatenated text, the
// tool calls seen and the terminal error, if any.
func Collect(ctx context.Context, frames <-chan Frame) (string, []conversation.ToolCall, error) {
	var text []byte
	var calls []conversation.ToolCall
	for {
		select {
		case <-ctx.Done():
			return string(text), calls, ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return string(text), calls, nil
			}
			switch f.Kind {
			case FrameKindText:
				text = append(text, f.Text...)
			case FrameKindToolCalls:
				calls = append(calls, f.ToolCalls...)
			case FrameKindError:
				return string(text), calls, f.Err
			case FrameKindThinking, FrameKindUsage:
			}
		}
	}
}
