package claude

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
	"github.com/go-go-golems/lifeguard/pkg/steps/ai/claude/api"
	"github.com/pkg/errors"
)

// ContentBlockMerger folds the events of one Messages API stream into
// engine frames. Text and thinking deltas pass straight through; tool_use
// blocks are accumulated and released as one batch at message_stop, once
// their input JSON is complete.
type ContentBlockMerger struct {
	response      *api.MessageResponse
	contentBlocks map[int]*contentBlock
	usage         engine.Usage
	stopped       bool
}

type contentBlock struct {
	block       api.ContentBlock
	partialJSON strings.Builder
}

func NewContentBlockMerger() *ContentBlockMerger {
	return &ContentBlockMerger{
		contentBlocks: make(map[int]*contentBlock),
	}
}

// Stopped reports whether message_stop has been seen.
func (cbm *ContentBlockMerger) Stopped() bool {
	return cbm.stopped
}

func (cbm *ContentBlockMerger) Usage() engine.Usage {
	return cbm.usage
}

// Add processes one event and returns the frames it produces. An error
// return is terminal for the stream.
func (cbm *ContentBlockMerger) Add(event api.StreamingEvent) ([]engine.Frame, error) {
	switch event.Type {
	case api.PingType, api.ContentBlockStopType:
		return nil, nil

	case api.MessageStartType:
		if event.Message == nil {
			return nil, errors.New("message_start event must have a message")
		}
		cbm.response = event.Message
		cbm.usage.InputTokens = event.Message.Usage.InputTokens
		cbm.usage.OutputTokens = event.Message.Usage.OutputTokens
		cbm.usage.CacheReadInputTokens = event.Message.Usage.CacheReadInputTokens
		return nil, nil

	case api.ContentBlockStartType:
		if event.ContentBlock == nil {
			return nil, errors.New("content_block_start event must have a content block")
		}
		if _, exists := cbm.contentBlocks[event.Index]; exists {
			return nil, errors.Errorf("content block %d started twice", event.Index)
		}
		cb := &contentBlock{block: *event.ContentBlock}
		cbm.contentBlocks[event.Index] = cb
		if cb.block.Type == api.ContentTypeText && cb.block.Text != "" {
			return []engine.Frame{engine.TextFrame(cb.block.Text)}, nil
		}
		return nil, nil

	case api.ContentBlockDeltaType:
		if event.Delta == nil {
			return nil, errors.New("content_block_delta event must have a delta")
		}
		cb, exists := cbm.contentBlocks[event.Index]
		if !exists {
			return nil, errors.Errorf("content_block_delta for unknown block %d", event.Index)
		}
		switch event.Delta.Type {
		case api.TextDeltaType:
			cb.block.Text += event.Delta.Text
			if event.Delta.Text != "" {
				return []engine.Frame{engine.TextFrame(event.Delta.Text)}, nil
			}
		case api.ThinkingDeltaType:
			if event.Delta.Thinking != "" {
				return []engine.Frame{engine.ThinkingFrame(event.Delta.Thinking)}, nil
			}
		case api.InputJSONDeltaType:
			cb.partialJSON.WriteString(event.Delta.PartialJSON)
		case api.SignatureDeltaType:
		}
		return nil, nil

	case api.MessageDeltaType:
		if event.Usage != nil {
			cbm.usage.OutputTokens = event.Usage.OutputTokens
		}
		if event.Delta != nil && event.Delta.StopReason != "" && cbm.response != nil {
			cbm.response.StopReason = event.Delta.StopReason
		}
		return nil, nil

	case api.MessageStopType:
		cbm.stopped = true
		calls, err := cbm.toolCalls()
		if err != nil {
			return nil, err
		}
		frames := []engine.Frame{}
		if len(calls) > 0 {
			frames = append(frames, engine.ToolCallsFrame(calls))
		}
		frames = append(frames, engine.UsageFrame(cbm.usage))
		return frames, nil

	case api.ErrorType:
		if event.Err != nil {
			return nil, event.Err
		}
		if event.Error == nil {
			return nil, errors.New("error event must have an error")
		}
		return nil, &api.APIError{Type: event.Error.Type, Message: event.Error.Message}

	default:
		return nil, nil
	}
}

// toolCalls returns the tool_use blocks in index order.
func (cbm *ContentBlockMerger) toolCalls() ([]conversation.ToolCall, error) {
	indices := make([]int, 0, len(cbm.contentBlocks))
	for idx, cb := range cbm.contentBlocks {
		if cb.block.Type == api.ContentTypeToolUse {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)

	calls := make([]conversation.ToolCall, 0, len(indices))
	for _, idx := range indices {
		cb := cbm.contentBlocks[idx]
		args := json.RawMessage(strings.TrimSpace(cb.partialJSON.String()))
		if len(args) == 0 {
			args = cb.block.Input
		}
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		if !json.Valid(args) {
			return nil, &engine.MalformedToolCallError{
				Provider: ProviderName,
				ToolName: cb.block.Name,
				Raw:      string(args),
				Cause:    errors.New("tool input is not valid JSON"),
			}
		}
		calls = append(calls, conversation.ToolCall{
			ID:        cb.block.ID,
			Name:      cb.block.Name,
			Arguments: args,
		})
	}
	return calls, nil
}
