package llm

import (
	"context"
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/huangjh/streamagent/pkg/models"
)

func TestConvertOpenAIMessages(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleUser, Content: "what's the weather?"},
		{Role: models.RoleAssistant, Content: "", ToolCalls: []models.ToolCall{
			{ID: "tc-1", Name: "get_weather", Input: json.RawMessage(`{"city":"Hangzhou"}`)},
		}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{
			{ToolCallID: "tc-1", Content: "sunny"},
			{ToolCallID: "tc-2", Content: "cloudy"},
		}},
		{Role: models.RoleAssistant, Content: "It is sunny."},
	}

	got := convertOpenAIMessages(messages, "be helpful")

	// system + user + assistant + two tool results + assistant
	if len(got) != 6 {
		t.Fatalf("converted %d messages, want 6", len(got))
	}
	if got[0].Role != openai.ChatMessageRoleSystem || got[0].Content != "be helpful" {
		t.Errorf("system message = %+v", got[0])
	}
	if got[1].Role != openai.ChatMessageRoleUser {
		t.Errorf("user message = %+v", got[1])
	}

	assistant := got[2]
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("assistant tool calls = %+v", assistant.ToolCalls)
	}
	if assistant.ToolCalls[0].ID != "tc-1" || assistant.ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("tool call = %+v", assistant.ToolCalls[0])
	}

	// One OpenAI message per tool result.
	if got[3].Role != openai.ChatMessageRoleTool || got[3].ToolCallID != "tc-1" {
		t.Errorf("first tool message = %+v", got[3])
	}
	if got[4].Role != openai.ChatMessageRoleTool || got[4].ToolCallID != "tc-2" {
		t.Errorf("second tool message = %+v", got[4])
	}
}

func TestConvertOpenAIMessagesNoSystem(t *testing.T) {
	got := convertOpenAIMessages([]*models.Message{
		{Role: models.RoleUser, Content: "hi"},
	}, "")
	if len(got) != 1 || got[0].Role != openai.ChatMessageRoleUser {
		t.Errorf("converted = %+v", got)
	}
}

type schemaTool struct{}

func (schemaTool) Name() string        { return "lookup" }
func (schemaTool) Description() string { return "looks things up" }
func (schemaTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (schemaTool) Execute(_ context.Context, _ json.RawMessage) (string, error) { return "", nil }

func TestConvertOpenAITools(t *testing.T) {
	got := convertOpenAITools([]Tool{schemaTool{}})
	if len(got) != 1 {
		t.Fatalf("converted %d tools", len(got))
	}
	fn := got[0].Function
	if got[0].Type != openai.ToolTypeFunction || fn.Name != "lookup" || fn.Description != "looks things up" {
		t.Errorf("tool = %+v", got[0])
	}
	if fn.Parameters == nil {
		t.Error("tool has no parameters schema")
	}
}
