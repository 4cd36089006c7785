package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/huangjh/streamagent/internal/llm"
)

func TestTimeTool(t *testing.T) {
	tool := &TimeTool{}
	if tool.Name() != "get_current_time" {
		t.Errorf("name = %q", tool.Name())
	}

	out, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out == "" {
		t.Error("empty time output")
	}

	out, err = tool.Execute(context.Background(), json.RawMessage(`{"timezone":"UTC"}`))
	if err != nil {
		t.Fatalf("Execute with timezone: %v", err)
	}
	if !strings.Contains(out, "UTC") {
		t.Errorf("output %q does not carry the zone", out)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"timezone":"Atlantis/Nowhere"}`)); err == nil {
		t.Error("unknown timezone accepted")
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`not json`)); err == nil {
		t.Error("malformed parameters accepted")
	}
}

func TestWeatherTool(t *testing.T) {
	tool := &WeatherTool{}
	if tool.Name() != "get_weather" {
		t.Errorf("name = %q", tool.Name())
	}

	first, err := tool.Execute(context.Background(), json.RawMessage(`{"city":"Hangzhou"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(first, "Hangzhou:") {
		t.Errorf("output = %q", first)
	}

	// Deterministic per city.
	second, _ := tool.Execute(context.Background(), json.RawMessage(`{"city":"Hangzhou"}`))
	if first != second {
		t.Errorf("report changed between calls: %q vs %q", first, second)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Error("missing city accepted")
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`broken`)); err == nil {
		t.Error("malformed parameters accepted")
	}
}

func TestToolSchemas(t *testing.T) {
	for _, tool := range []llm.Tool{&TimeTool{}, &WeatherTool{}} {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			t.Fatalf("%s schema is not valid JSON: %v", tool.Name(), err)
		}
		if schema["type"] != "object" {
			t.Errorf("%s schema type = %v", tool.Name(), schema["type"])
		}
		if _, ok := schema["properties"]; !ok {
			t.Errorf("%s schema has no properties", tool.Name())
		}
	}
}
