package agent

import (
	"context"
	"log/slog"

	"github.com/hulunote/hulunote/pkg/models"
)

// InterruptedToolResult is the placeholder content for a tool call that never
// received a result.
const InterruptedToolResult = `{"note":"Tool execution was interrupted. No result available."}`

// RepairStage appends a placeholder tool result for every tool call in the
// transcript that has no matching tool message. It only appends; existing
// messages are never dropped or reordered. Place it last among preprocessing
// stages so it repairs whatever earlier stages produced.
type RepairStage struct {
	logger *slog.Logger
}

// NewRepairStage creates the transcript repair stage.
func NewRepairStage(logger *slog.Logger) *RepairStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepairStage{logger: logger.With("component", "transcript_repair")}
}

// Name implements Middleware.
func (s *RepairStage) Name() string {
	return "transcript_repair"
}

// BeforeModelCall implements MessagePreprocessor.
func (s *RepairStage) BeforeModelCall(ctx context.Context, messages []models.Message, state *State) ([]models.Message, error) {
	dangling := DanglingToolCalls(messages)
	if len(dangling) == 0 {
		return messages, nil
	}

	s.logger.Debug("patching dangling tool calls", "count", len(dangling))

	repaired := make([]models.Message, len(messages), len(messages)+len(dangling))
	copy(repaired, messages)
	for _, id := range dangling {
		repaired = append(repaired, models.NewToolMessage(id, InterruptedToolResult))
	}
	return repaired, nil
}

// DanglingToolCalls returns, in first-seen order, the ids of assistant tool
// calls with no tool message carrying the same id.
func DanglingToolCalls(messages []models.Message) []string {
	pending := make(map[string]bool)
	var order []string

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			for _, call := range msg.ToolCalls {
				if call.ID == "" {
					continue
				}
				if _, seen := pending[call.ID]; !seen {
					order = append(order, call.ID)
				}
				pending[call.ID] = true
			}
		case models.RoleTool:
			if msg.ToolCallID != "" {
				if _, seen := pending[msg.ToolCallID]; seen {
					pending[msg.ToolCallID] = false
				}
			}
		}
	}

	var dangling []string
	for _, id := range order {
		if pending[id] {
			dangling = append(dangling, id)
		}
	}
	return dangling
}
