package providers

import (
	"reflect"
	"testing"

	"github.com/hulunote/hulunote/pkg/models"
)

func roles(messages []models.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = string(m.Role)
		if m.ToolCallID != "" {
			out[i] += ":" + m.ToolCallID
		}
	}
	return out
}

func TestDropOrphanedResults(t *testing.T) {
	call := func(ids ...string) models.Message {
		msg := models.Message{Role: models.RoleAssistant}
		for _, id := range ids {
			msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{ID: id, Name: "fs__read", Arguments: "{}"})
		}
		return msg
	}

	tests := []struct {
		name     string
		messages []models.Message
		want     []string
	}{
		{
			name: "matched results kept",
			messages: []models.Message{
				models.NewUserMessage("go"),
				call("a", "b"),
				models.NewToolMessage("a", "1"),
				models.NewToolMessage("b", "2"),
			},
			want: []string{"user", "assistant", "tool:a", "tool:b"},
		},
		{
			name: "result after summary dropped",
			messages: []models.Message{
				models.NewUserMessage("[Conversation summary so far]\nearlier work"),
				models.NewToolMessage("c1", "stale"),
				models.NewUserMessage("next"),
			},
			want: []string{"user", "user"},
		},
		{
			name: "leading result dropped",
			messages: []models.Message{
				models.NewToolMessage("c1", "stale"),
				models.NewUserMessage("next"),
			},
			want: []string{"user"},
		},
		{
			name: "result for an earlier turn dropped",
			messages: []models.Message{
				call("a"),
				models.NewToolMessage("a", "1"),
				call("b"),
				models.NewToolMessage("a", "again"),
				models.NewToolMessage("b", "2"),
			},
			want: []string{"assistant", "tool:a", "assistant", "tool:b"},
		},
		{
			name: "duplicate result dropped",
			messages: []models.Message{
				call("a"),
				models.NewToolMessage("a", "1"),
				models.NewToolMessage("a", "1"),
			},
			want: []string{"assistant", "tool:a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roles(dropOrphanedResults(tt.messages))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("dropOrphanedResults() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWireMessages_SkipOrphanedResults(t *testing.T) {
	compacted := []models.Message{
		models.NewUserMessage("[Conversation summary so far]\nearlier work"),
		models.NewToolMessage("c1", `{"ok":true}`),
		models.NewUserMessage("continue"),
	}

	oai := toOpenAIMessages(compacted)
	if len(oai) != 2 {
		t.Fatalf("openai messages = %+v, want 2", oai)
	}
	for _, m := range oai {
		if m.Role == "tool" {
			t.Errorf("orphaned tool message sent to openai: %+v", m)
		}
	}

	_, anth := toAnthropicMessages(compacted)
	if len(anth) != 2 {
		t.Fatalf("anthropic messages = %d, want 2", len(anth))
	}
	for _, m := range anth {
		for _, block := range m.Content {
			if block.OfToolResult != nil {
				t.Errorf("orphaned tool_result sent to anthropic: %+v", block.OfToolResult)
			}
		}
	}
}
