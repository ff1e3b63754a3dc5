package models

import (
	"encoding/json"
	"testing"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
			if !tt.constant.Valid() {
				t.Errorf("%q should be valid", tt.constant)
			}
		})
	}

	if Role("moderator").Valid() {
		t.Error("unknown role should not be valid")
	}
}

func TestMessage_JSONShape(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{
			{ID: "call_1", Name: "fs__read", Arguments: `{"path":"a.txt"}`},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, ok := decoded["content"]; ok {
		t.Error("empty content should be omitted")
	}
	if _, ok := decoded["tool_call_id"]; ok {
		t.Error("empty tool_call_id should be omitted")
	}
	calls, ok := decoded["tool_calls"].([]any)
	if !ok || len(calls) != 1 {
		t.Fatalf("tool_calls = %v, want one entry", decoded["tool_calls"])
	}
}

func TestMessage_Clone(t *testing.T) {
	orig := Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "1", Name: "a"}},
	}
	clone := orig.Clone()
	clone.ToolCalls[0].Name = "b"

	if orig.ToolCalls[0].Name != "a" {
		t.Errorf("clone aliases original tool calls")
	}
}

func TestToolNames(t *testing.T) {
	if got := ToolNames(nil); got != nil {
		t.Errorf("ToolNames(nil) = %v, want nil", got)
	}
	got := ToolNames([]ToolCall{{Name: "x"}, {Name: "y"}})
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Errorf("ToolNames() = %v", got)
	}
}

func TestLastText(t *testing.T) {
	msgs := []Message{
		NewUserMessage("first"),
		{Role: RoleAssistant, Content: "answer"},
		NewUserMessage("second"),
		{Role: RoleAssistant, Content: "  "},
	}
	if got := LastText(msgs, RoleUser); got != "second" {
		t.Errorf("LastText(user) = %q, want %q", got, "second")
	}
	if got := LastText(msgs, RoleAssistant); got != "answer" {
		t.Errorf("LastText(assistant) = %q, want %q", got, "answer")
	}
	if got := LastText(msgs, RoleTool); got != "" {
		t.Errorf("LastText(tool) = %q, want empty", got)
	}
}

func TestNewToolMessage(t *testing.T) {
	msg := NewToolMessage("call_9", `{"ok":true}`)
	if msg.Role != RoleTool || msg.ToolCallID != "call_9" || msg.Content != `{"ok":true}` {
		t.Errorf("NewToolMessage() = %+v", msg)
	}
}
