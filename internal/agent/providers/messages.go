package providers

import "github.com/hulunote/hulunote/pkg/models"

// dropOrphanedResults removes tool results that do not answer a call from
// the assistant turn right before them. Compaction can summarize away the
// assistant turn while keeping its results, and both chat APIs reject a
// tool result without its call.
func dropOrphanedResults(messages []models.Message) []models.Message {
	var (
		out     = make([]models.Message, 0, len(messages))
		pending map[string]bool
	)
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			pending = make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				pending[tc.ID] = true
			}
		case models.RoleTool:
			if !pending[msg.ToolCallID] {
				continue
			}
			delete(pending, msg.ToolCallID)
		default:
			pending = nil
		}
		out = append(out, msg)
	}
	return out
}
