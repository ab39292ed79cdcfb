package tools

import (
	"context"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
)

type currentToolCallKey struct{}

// WithCurrentToolCall annotates ctx with the call a tool is executing for,
// so tools can correlate their own logs with the run.
func WithCurrentToolCall(ctx context.Context, call conversation.ToolCall) context.Context {
	return context.WithValue(ctx, currentToolCallKey{}, call)
}

func CurrentToolCall(ctx context.Context) (conversation.ToolCall, bool) {
	if ctx == nil {
		return conversation.ToolCall{}, false
	}
	call, ok := ctx.Value(currentToolCallKey{}).(conversation.ToolCall)
	return call, ok
}
