package memory

import (
	"fmt"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
)

type MaskStats struct {
	MaskedParts int `json:"masked_parts"`
	TokensSaved int `json:"tokens_saved"`
}

// MaskObservations returns a copy of msgs with bulky tool results elided.
// The last KeepRecentToolResults results and every result after the most
// recent tool call batch are kept intact. The input is not modified.
func (m *Manager) MaskObservations(msgs []conversation.Message) ([]conversation.Message, MaskStats) {
	stats := MaskStats{}
	out := conversation.CloneMessages(msgs)

	protectFrom := currentTurnStart(out)
	kept := 0
	for i := len(out) - 1; i >= 0; i-- {
		parts := out[i].Parts
		for j := len(parts) - 1; j >= 0; j-- {
			r := parts[j].ToolResult
			if parts[j].Type != conversation.ContentTypeToolResult || r == nil {
				continue
			}
			if i >= protectFrom || kept < m.config.KeepRecentToolResults {
				kept++
				continue
			}
			if r.Masked || len(r.Content) <= m.config.MaskMinChars {
				continue
			}

			placeholder := fmt.Sprintf("[output of %s masked: %d characters elided; call the tool again if the details are needed]",
				r.Name, len(r.Content))
			saved := m.estimator.EstimateText(r.Content) - m.estimator.EstimateText(placeholder)
			if saved <= 0 {
				continue
			}
			r.Content = placeholder
			r.Masked = true
			stats.MaskedParts++
			stats.TokensSaved += saved
		}
	}

	if stats.MaskedParts > 0 {
		m.logger.Debug().
			Int("masked_parts", stats.MaskedParts).
			Int("tokens_saved", stats.TokensSaved).
			Msg("masked tool observations")
	}
	return out, stats
}

// currentTurnStart returns the index of the most recent message carrying tool
// calls. Results from that point on belong to the turn the model is about to
// reason over.
func currentTurnStart(msgs []conversation.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if len(msgs[i].ToolCalls()) > 0 {
			return i
		}
	}
	return len(msgs)
}
