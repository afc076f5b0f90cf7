package omega

import (
	"github.com/tpmjs/omega/internal/agent"
	"github.com/tpmjs/omega/pkg/models"
)

// buildHistory maps persisted messages into model-facing completion
// messages. Stored assistant tool calls travel with their message; stored
// TOOL-role messages become tool-result entries keyed by their original
// call ids so the provider can reconstruct the call/result pairing.
func buildHistory(msgs []*models.Message) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleUser:
			out = append(out, agent.CompletionMessage{Role: "user", Content: msg.Content})
		case models.RoleAssistant:
			out = append(out, agent.CompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: msg.ToolCalls,
			})
		case models.RoleTool:
			if len(msg.ToolResults) == 0 {
				continue
			}
			out = append(out, agent.CompletionMessage{
				Role:        "tool",
				ToolResults: msg.ToolResults,
			})
		default:
			// System messages never land in the transcript; skip anything
			// unrecognized rather than confusing the provider.
		}
	}
	return out
}
