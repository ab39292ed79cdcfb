package memory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"gopkg.in/yaml.v3"
)

type Issue struct {
	Service    string `json:"service" yaml:"service"`
	Issue      string `json:"issue" yaml:"issue"`
	Confidence string `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// ConversationState is the compressed form of a conversation. It is only
// produced by Compress.
type ConversationState struct {
	Summary              string   `json:"summary" yaml:"summary"`
	IdentifiedIssues     []Issue  `json:"identified_issues" yaml:"identified_issues,omitempty"`
	InvestigatedServices []string `json:"investigated_services" yaml:"investigated_services,omitempty"`
	ToolsUsed            []string `json:"tools_used" yaml:"tools_used,omitempty"`
	CurrentTask          string   `json:"current_task" yaml:"current_task,omitempty"`

	TokenCount       int `json:"token_count" yaml:"-"`
	MessageCount     int `json:"message_count" yaml:"-"`
	CompressionLevel int `json:"compression_level" yaml:"-"`
}

// BuildPromptFromState renders the state as a context block for the next
// turn.
func BuildPromptFromState(state *ConversationState) string {
	if state == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "[Conversation context, compressed %d time(s), covering %d earlier messages]\n",
		state.CompressionLevel, state.MessageCount)

	b, err := yaml.Marshal(state)
	if err != nil {
		// plain rendering; yaml only fails on unsupported types
		sb.WriteString(state.Summary)
		return sb.String()
	}
	sb.Write(b)
	sb.WriteString("\nContinue the investigation from this context.")
	return sb.String()
}

// StateMessage builds the synthetic message that replaces the compressed
// history. It is tagged with the compression level so a later compression
// can increment it.
func StateMessage(state *ConversationState) conversation.Message {
	return conversation.NewTextMessage(
		conversation.RoleUser,
		BuildPromptFromState(state),
		conversation.WithMetadata(conversation.MetadataCompressionLevel, strconv.Itoa(state.CompressionLevel)),
	)
}

// PreviousLevel returns the highest compression level recorded in msgs, or 0.
func PreviousLevel(msgs []conversation.Message) int {
	level := 0
	for _, m := range msgs {
		v, ok := m.Metadata[conversation.MetadataCompressionLevel]
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil && n > level {
			level = n
		}
	}
	return level
}
