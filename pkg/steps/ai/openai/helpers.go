package openai

import (
	"strings"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
	go_openai "github.com/sashabaranov/go-openai"
)

// messagesToOpenAI converts the conversation into chat completion messages.
// Tool results become one "tool" message per result, in call order.
func messagesToOpenAI(systemPrompt string, msgs []conversation.Message) []go_openai.ChatCompletionMessage {
	ret := make([]go_openai.ChatCompletionMessage, 0, len(msgs)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		ret = append(ret, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, msg := range msgs {
		results := msg.ToolResults()
		calls := msg.ToolCalls()
		text := msg.Text()

		switch {
		case len(results) > 0:
			for _, r := range results {
				content := r.Content
				if content == "" {
					content = "(no output)"
				}
				ret = append(ret, go_openai.ChatCompletionMessage{
					Role:       go_openai.ChatMessageRoleTool,
					Content:    content,
					ToolCallID: r.ToolCallID,
				})
			}
		case len(calls) > 0:
			m := go_openai.ChatCompletionMessage{
				Role:    go_openai.ChatMessageRoleAssistant,
				Content: text,
			}
			for _, c := range calls {
				m.ToolCalls = append(m.ToolCalls, go_openai.ToolCall{
					ID:   c.ID,
					Type: go_openai.ToolTypeFunction,
					Function: go_openai.FunctionCall{
						Name:      c.Name,
						Arguments: string(c.Arguments),
					},
				})
			}
			ret = append(ret, m)
		default:
			ret = append(ret, go_openai.ChatCompletionMessage{
				Role:    roleToOpenAI(msg.Role),
				Content: text,
			})
		}
	}
	return ret
}

func roleToOpenAI(role conversation.Role) string {
	switch role {
	case conversation.RoleSystem:
		return go_openai.ChatMessageRoleSystem
	case conversation.RoleAssistant:
		return go_openai.ChatMessageRoleAssistant
	default:
		return go_openai.ChatMessageRoleUser
	}
}

func toolsToOpenAI(defs []engine.ToolDefinition) []go_openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	ret := make([]go_openai.Tool, 0, len(defs))
	for _, d := range defs {
		var params interface{} = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		if d.Parameters != nil {
			params = d.Parameters
		}
		ret = append(ret, go_openai.Tool{
			Type: go_openai.ToolTypeFunction,
			Function: &go_openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return ret
}

func toolChoiceToOpenAI(choice engine.ToolChoice) interface{} {
	switch choice {
	case engine.ToolChoiceAuto, engine.ToolChoiceNone, engine.ToolChoiceRequired:
		return string(choice)
	default:
		return nil
	}
}
