package main

import (
	"testing"

	"github.com/huangjh/streamagent/internal/agent"
	"github.com/huangjh/streamagent/internal/llm"
)

func TestDefaultApprovalRulesGateTimeTool(t *testing.T) {
	rules := defaultApprovalRules()
	if len(rules) != 1 || rules[0].Tool != "get_current_time" {
		t.Fatalf("approval rules = %+v, want get_current_time gated", rules)
	}

	// Every gated name must match a registered tool, or the rule is dead.
	tools := []llm.Tool{&agent.TimeTool{}, &agent.WeatherTool{}}
	for _, rule := range rules {
		found := false
		for _, tool := range tools {
			if tool.Name() == rule.Tool {
				found = true
			}
		}
		if !found {
			t.Errorf("approval rule %q matches no registered tool", rule.Tool)
		}
	}
}
