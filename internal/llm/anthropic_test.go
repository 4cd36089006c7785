package llm

import (
	"encoding/json"
	"testing"

	"github.com/huangjh/streamagent/pkg/models"
)

func TestFinalizeToolInput(t *testing.T) {
	tests := []struct {
		name        string
		accumulated string
		want        string
	}{
		{"no deltas", "", "{}"},
		{"arguments preserved", `{"timezone":"Asia/Shanghai"}`, `{"timezone":"Asia/Shanghai"}`},
		{"empty object preserved", "{}", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := finalizeToolInput(tt.accumulated)
			if string(got) != tt.want {
				t.Fatalf("finalizeToolInput(%q) = %q, want %q", tt.accumulated, got, tt.want)
			}
			var parsed map[string]any
			if err := json.Unmarshal(got, &parsed); err != nil {
				t.Fatalf("finalizeToolInput(%q) is not valid JSON: %v", tt.accumulated, err)
			}
		})
	}
}

func TestConvertAnthropicMessagesNoArgumentToolCall(t *testing.T) {
	// A persisted assistant turn whose tool call streamed no input deltas
	// must convert cleanly on the following request.
	messages := []*models.Message{
		{
			Role:    models.RoleAssistant,
			Content: "checking the clock",
			ToolCalls: []models.ToolCall{
				{ID: "tc-1", Name: "get_current_time", Input: finalizeToolInput("")},
			},
		},
	}

	converted, err := convertAnthropicMessages(messages)
	if err != nil {
		t.Fatalf("convertAnthropicMessages: %v", err)
	}
	if len(converted) != 1 {
		t.Fatalf("converted %d messages, want 1", len(converted))
	}
}
