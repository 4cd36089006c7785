package tokens

import (
	"strings"
	"testing"

	"github.com/huangjh/streamagent/pkg/models"
)

func TestEstimateString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"empty", "", 0},
		{"single ascii", "a", 1},
		{"hello", "hello", 3},
		{"even ascii", "abcdef", 3},
		{"wide runes", "你好", 3},
		{"mixed", "hi你", 3}, // 2*0.5 + 1.5 = 2.5, ceil 3
		{"emoji", "👍", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateString(tt.input); got != tt.want {
				t.Errorf("EstimateString(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestEstimateStringMonotonic(t *testing.T) {
	prev := 0
	for i := 1; i <= 64; i++ {
		got := EstimateString(strings.Repeat("x", i))
		if got < prev {
			t.Fatalf("estimate decreased at length %d: %d < %d", i, got, prev)
		}
		prev = got
	}
}

func TestEstimateMessage(t *testing.T) {
	// base 4 + "hi" (1) + "user" (2) = 7
	msg := &models.Message{Role: models.RoleUser, Content: "hi"}
	if got := EstimateMessage(msg); got != 7 {
		t.Errorf("EstimateMessage = %d, want 7", got)
	}
}

func TestEstimateMessageNil(t *testing.T) {
	if got := EstimateMessage(nil); got != 0 {
		t.Errorf("EstimateMessage(nil) = %d, want 0", got)
	}
}

func TestEstimateMessageMetadata(t *testing.T) {
	base := EstimateMessage(&models.Message{Role: models.RoleUser, Content: "hi"})
	withMeta := EstimateMessage(&models.Message{
		Role:     models.RoleUser,
		Content:  "hi",
		Metadata: map[string]any{"source": "web", "retries": 2},
	})
	if withMeta <= base {
		t.Errorf("metadata did not add cost: %d <= %d", withMeta, base)
	}
	// nil values charge the key only
	nilValue := EstimateMessage(&models.Message{
		Role:     models.RoleUser,
		Content:  "hi",
		Metadata: map[string]any{"note": nil},
	})
	if want := base + EstimateString("note"); nilValue != want {
		t.Errorf("nil metadata value: got %d, want %d", nilValue, want)
	}
}

func TestEstimateHistory(t *testing.T) {
	if got := EstimateHistory(nil); got != 0 {
		t.Errorf("empty history = %d, want 0", got)
	}

	msgs := []*models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello there"},
	}
	want := EstimateMessage(msgs[0]) + EstimateMessage(msgs[1]) + 3
	if got := EstimateHistory(msgs); got != want {
		t.Errorf("EstimateHistory = %d, want %d", got, want)
	}
}

func TestEstimateHistoryGrowsWithMessages(t *testing.T) {
	history := []*models.Message{}
	prev := 0
	for i := 0; i < 10; i++ {
		history = append(history, &models.Message{Role: models.RoleUser, Content: "another message"})
		got := EstimateHistory(history)
		if got <= prev {
			t.Fatalf("history estimate did not grow at %d messages: %d <= %d", i+1, got, prev)
		}
		prev = got
	}
}
