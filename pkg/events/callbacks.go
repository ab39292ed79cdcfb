package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/inference/tools"
)

type ActivityState string

const (
	ActivityIdle             ActivityState = "idle"
	ActivityStreaming        ActivityState = "streaming"
	ActivityToolCallsPending ActivityState = "tool-calls-pending"
	ActivityExecuting        ActivityState = "executing"
	ActivityMerging          ActivityState = "merging"
	ActivityCompressing      ActivityState = "compressing"
	ActivityRetrying         ActivityState = "retrying"
	ActivityCompleted        ActivityState = "completed"
	ActivityCancelled        ActivityState = "cancelled"
	ActivityFailed           ActivityState = "failed"
)

type Activity struct {
	State   ActivityState `json:"state"`
	Message string        `json:"message,omitempty"`
}

// Callbacks is how a host observes and steers a run. Every field is
// optional. OnToolConfirmation may be called concurrently from the tool
// goroutines of one batch; all other callbacks are called from the run
// goroutine.
type Callbacks struct {
	OnTextChunk  func(text string)
	OnThinking   func(text string)
	OnToolCall   func(call conversation.ToolCall)
	OnToolResult func(call conversation.ToolCall, result tools.Result, toolDuration, totalDuration time.Duration)
	// OnToolConfirmation returns true to let the tool run. An error counts as a refusal.
	OnToolConfirmation func(ctx context.Context, details tools.ConfirmationDetails) (bool, error)
	// OnError receives the underlying error and the message meant for the user.
	OnError    func(err error, userMessage string)
	OnActivity func(activity Activity)
}

func (c *Callbacks) TextChunk(text string) {
	if c != nil && c.OnTextChunk != nil && text != "" {
		c.OnTextChunk(text)
	}
}

func (c *Callbacks) Thinking(text string) {
	if c != nil && c.OnThinking != nil && text != "" {
		c.OnThinking(text)
	}
}

func (c *Callbacks) ToolCall(call conversation.ToolCall) {
	if c != nil && c.OnToolCall != nil {
		c.OnToolCall(call)
	}
}

func (c *Callbacks) ToolResult(call conversation.ToolCall, result tools.Result, toolDuration, totalDuration time.Duration) {
	if c != nil && c.OnToolResult != nil {
		c.OnToolResult(call, result, toolDuration, totalDuration)
	}
}

func (c *Callbacks) CanConfirm() bool {
	return c != nil && c.OnToolConfirmation != nil
}

func (c *Callbacks) ConfirmTool(ctx context.Context, details tools.ConfirmationDetails) (bool, error) {
	if !c.CanConfirm() {
		return false, nil
	}
	return c.OnToolConfirmation(ctx, details)
}

func (c *Callbacks) Error(err error, userMessage string) {
	if c != nil && c.OnError != nil {
		c.OnError(err, userMessage)
	}
}

func (c *Callbacks) Activity(state ActivityState, message string) {
	if c != nil && c.OnActivity != nil {
		c.OnActivity(Activity{State: state, Message: message})
	}
}

// Tee fans every notification out to all non-nil callbacks in order. The
// first confirmation handler found answers confirmation requests.
func Tee(cbs ...*Callbacks) *Callbacks {
	var live []*Callbacks
	for _, c := range cbs {
		if c != nil {
			live = append(live, c)
		}
	}
	ret := &Callbacks{
		OnTextChunk: func(text string) {
			for _, c := range live {
				c.TextChunk(text)
			}
		},
		OnThinking: func(text string) {
			for _, c := range live {
				c.Thinking(text)
			}
		},
		OnToolCall: func(call conversation.ToolCall) {
			for _, c := range live {
				c.ToolCall(call)
			}
		},
		OnToolResult: func(call conversation.ToolCall, result tools.Result, toolDuration, totalDuration time.Duration) {
			for _, c := range live {
				c.ToolResult(call, result, toolDuration, totalDuration)
			}
		},
		OnError: func(err error, userMessage string) {
			for _, c := range live {
				c.Error(err, userMessage)
			}
		},
		OnActivity: func(activity Activity) {
			for _, c := range live {
				c.Activity(activity.State, activity.Message)
			}
		},
	}
	for _, c := range live {
		if c.CanConfirm() {
			ret.OnToolConfirmation = c.OnToolConfirmation
			break
		}
	}
	return ret
}

// SinkCallbacks turns callbacks into events published on sink. It never
// answers confirmation requests; pair it with an interactive handler via Tee.
func SinkCallbacks(sink EventSink, runID string) *Callbacks {
	publish := func(e Event) {
		publishAll([]EventSink{sink}, e)
	}
	meta := func() EventMetadata {
		return NewEventMetadata(runID)
	}
	return &Callbacks{
		OnTextChunk: func(text string) {
			publish(NewTextChunkEvent(meta(), text))
		},
		OnThinking: func(text string) {
			publish(NewThinkingEvent(meta(), text))
		},
		OnToolCall: func(call conversation.ToolCall) {
			publish(NewToolCallEvent(meta(), ToolCall{
				ID:    call.ID,
				Name:  call.Name,
				Input: compactArgs(call.Arguments),
			}))
		},
		OnToolResult: func(call conversation.ToolCall, result tools.Result, toolDuration, totalDuration time.Duration) {
			tr := ToolResult{
				ID:              call.ID,
				Name:            call.Name,
				Success:         result.Success(),
				Result:          tools.AgentText(result),
				ToolDurationMs:  toolDuration.Milliseconds(),
				TotalDurationMs: totalDuration.Milliseconds(),
			}
			if e, ok := tools.AsErr(result); ok {
				tr.Code = string(e.Code)
			}
			publish(NewToolResultEvent(meta(), tr))
		},
		OnError: func(err error, userMessage string) {
			publish(NewErrorEvent(meta(), err, userMessage))
		},
		OnActivity: func(activity Activity) {
			publish(NewActivityEvent(meta(), activity))
		},
	}
}

// ConfirmationEvent wraps a confirmation handler so that every request is
// also published on sink before the handler is asked.
func ConfirmationEvent(sink EventSink, runID string, handler func(ctx context.Context, details tools.ConfirmationDetails) (bool, error)) func(ctx context.Context, details tools.ConfirmationDetails) (bool, error) {
	return func(ctx context.Context, details tools.ConfirmationDetails) (bool, error) {
		publishAll([]EventSink{sink}, NewToolConfirmationEvent(NewEventMetadata(runID), details.ToolName, details.Title, details.Message, string(details.SafetyLevel)))
		return handler(ctx, details)
	}
}

// compactArgs renders tool arguments on one line for display.
func compactArgs(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var v interface{}
	if err := json.Unmarshal(args, &v); err != nil {
		return string(args)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(args)
	}
	return string(b)
}
