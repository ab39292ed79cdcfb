package openai

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
)

// ToolCallMerger reassembles streamed tool call deltas. OpenAI sends the id
// and name on the first delta of each call and spreads the arguments over
// the following ones, all keyed by index.
type ToolCallMerger struct {
	toolCalls map[int]*go_openai.ToolCall
}

func NewToolCallMerger() *ToolCallMerger {
	return &ToolCallMerger{
		toolCalls: make(map[int]*go_openai.ToolCall),
	}
}

func (tcm *ToolCallMerger) AddToolCalls(toolCalls []go_openai.ToolCall) {
	for _, call := range toolCalls {
		index := 0
		if call.Index != nil {
			index = *call.Index
		}
		existing, found := tcm.toolCalls[index]
		if !found {
			c := call
			tcm.toolCalls[index] = &c
			continue
		}
		if existing.ID == "" {
			existing.ID = call.ID
		}
		existing.Function.Name += call.Function.Name
		existing.Function.Arguments += call.Function.Arguments
	}
}

func (tcm *ToolCallMerger) Len() int {
	return len(tcm.toolCalls)
}

// ToolCalls returns the merged calls in index order. Arguments that do not
// parse as JSON yield a *engine.MalformedToolCallError.
func (tcm *ToolCallMerger) ToolCalls() ([]conversation.ToolCall, error) {
	indices := make([]int, 0, len(tcm.toolCalls))
	for idx := range tcm.toolCalls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	ret := make([]conversation.ToolCall, 0, len(indices))
	for _, idx := range indices {
		call := tcm.toolCalls[idx]
		args := strings.TrimSpace(call.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			return nil, &engine.MalformedToolCallError{
				Provider: ProviderName,
				ToolName: call.Function.Name,
				Raw:      call.Function.Arguments,
				Cause:    errors.New("tool arguments are not valid JSON"),
			}
		}
		ret = append(ret, conversation.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return ret, nil
}
