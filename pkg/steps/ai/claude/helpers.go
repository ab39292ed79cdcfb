package claude

import (
	"encoding/json"
	"strings"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
	"github.com/go-go-golems/lifeguard/pkg/steps/ai/claude/api"
	"github.com/pkg/errors"
)

// messagesToClaude converts the conversation into Messages API form.
// System messages are hoisted into the system prompt. Tool results travel
// in user turns, as the API requires, and consecutive turns of the same
// role are merged so roles alternate.
func messagesToClaude(msgs []conversation.Message) (string, []api.Message) {
	var system []string
	ret := make([]api.Message, 0, len(msgs))

	appendContent := func(role string, content ...api.Content) {
		if len(content) == 0 {
			return
		}
		if n := len(ret); n > 0 && ret[n-1].Role == role {
			ret[n-1].Content = append(ret[n-1].Content, content...)
			return
		}
		ret = append(ret, api.Message{Role: role, Content: content})
	}

	for _, msg := range msgs {
		if msg.Role == conversation.RoleSystem {
			if t := msg.Text(); t != "" {
				system = append(system, t)
			}
			continue
		}

		role := "user"
		if msg.Role == conversation.RoleAssistant {
			role = "assistant"
		}
		for _, p := range msg.Parts {
			switch p.Type {
			case conversation.ContentTypeText:
				if strings.TrimSpace(p.Text) != "" {
					appendContent(role, api.NewTextContent(p.Text))
				}
			case conversation.ContentTypeToolCall:
				if p.ToolCall != nil {
					appendContent("assistant", api.NewToolUseContent(p.ToolCall.ID, p.ToolCall.Name, p.ToolCall.Arguments))
				}
			case conversation.ContentTypeToolResult:
				if p.ToolResult != nil {
					appendContent("user", api.NewToolResultContent(p.ToolResult.ToolCallID, p.ToolResult.Content, p.ToolResult.IsError))
				}
			}
		}
	}
	return strings.Join(system, "\n\n"), ret
}

func toolsToClaude(defs []engine.ToolDefinition) ([]api.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	ret := make([]api.Tool, 0, len(defs))
	for _, d := range defs {
		var schema interface{} = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		if d.Parameters != nil {
			b, err := json.Marshal(d.Parameters)
			if err != nil {
				return nil, errors.Wrapf(err, "could not marshal schema for tool %s", d.Name)
			}
			var m map[string]interface{}
			if err := json.Unmarshal(b, &m); err != nil {
				return nil, errors.Wrapf(err, "could not decode schema for tool %s", d.Name)
			}
			delete(m, "$schema")
			delete(m, "$id")
			schema = m
		}
		ret = append(ret, api.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schema,
		})
	}
	return ret, nil
}

func toolChoiceToClaude(choice engine.ToolChoice) *api.ToolChoice {
	switch choice {
	case engine.ToolChoiceRequired:
		return &api.ToolChoice{Type: "any"}
	case engine.ToolChoiceNone:
		return &api.ToolChoice{Type: "none"}
	case engine.ToolChoiceAuto:
		return &api.ToolChoice{Type: "auto"}
	default:
		return nil
	}
}
