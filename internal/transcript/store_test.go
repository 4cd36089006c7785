package transcript

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/huangjh/streamagent/pkg/models"
)

// Both backends must satisfy the same contract; run the shared suite against
// each.
func TestStores(t *testing.T) {
	backends := []struct {
		name string
		open func(t *testing.T) Store
	}{
		{"memory", func(t *testing.T) Store { return NewMemoryStore() }},
		{"sqlite", func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "transcript.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			return s
		}},
	}

	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			t.Run("append and history", func(t *testing.T) {
				store := backend.open(t)
				defer store.Close()
				testAppendAndHistory(t, store)
			})
			t.Run("history limit", func(t *testing.T) {
				store := backend.open(t)
				defer store.Close()
				testHistoryLimit(t, store)
			})
			t.Run("tool round trip", func(t *testing.T) {
				store := backend.open(t)
				defer store.Close()
				testToolRoundTrip(t, store)
			})
			t.Run("session isolation", func(t *testing.T) {
				store := backend.open(t)
				defer store.Close()
				testSessionIsolation(t, store)
			})
			t.Run("nil message rejected", func(t *testing.T) {
				store := backend.open(t)
				defer store.Close()
				if err := store.AppendMessage(context.Background(), "s1", nil); err == nil {
					t.Error("AppendMessage(nil) succeeded")
				}
			})
		})
	}
}

func testAppendAndHistory(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)
	for i, content := range []string{"first", "second", "third"} {
		msg := &models.Message{
			Role:      models.RoleUser,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.AppendMessage(ctx, "s1", msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	history, err := store.History(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i, want := range []string{"first", "second", "third"} {
		if history[i].Content != want {
			t.Errorf("history[%d] = %q, want %q", i, history[i].Content, want)
		}
		if history[i].ID == "" {
			t.Errorf("history[%d] has no id", i)
		}
	}
}

func testHistoryLimit(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		msg := &models.Message{
			Role:      models.RoleUser,
			Content:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.AppendMessage(ctx, "s1", msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	history, err := store.History(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("limited history length = %d, want 2", len(history))
	}
	// The most recent two, chronological order preserved.
	if history[0].Content != "d" || history[1].Content != "e" {
		t.Errorf("limited history = [%q, %q], want [d, e]", history[0].Content, history[1].Content)
	}
}

func testToolRoundTrip(t *testing.T, store Store) {
	ctx := context.Background()
	msg := &models.Message{
		Role:    models.RoleAssistant,
		Content: "checking the weather",
		ToolCalls: []models.ToolCall{
			{ID: "tc-1", Name: "get_weather", Input: json.RawMessage(`{"city":"Hangzhou"}`)},
		},
		ToolResults: []models.ToolResult{
			{ToolCallID: "tc-1", Content: "Hangzhou: sunny, 22°C"},
		},
		Metadata: map[string]any{"source": "api"},
	}
	if err := store.AppendMessage(ctx, "s1", msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	history, err := store.History(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d", len(history))
	}
	got := history[0]
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "get_weather" {
		t.Errorf("tool calls = %+v", got.ToolCalls)
	}
	if len(got.ToolResults) != 1 || got.ToolResults[0].ToolCallID != "tc-1" {
		t.Errorf("tool results = %+v", got.ToolResults)
	}
	if got.Metadata["source"] != "api" {
		t.Errorf("metadata = %+v", got.Metadata)
	}
}

func testSessionIsolation(t *testing.T, store Store) {
	ctx := context.Background()
	store.AppendMessage(ctx, "s1", &models.Message{Role: models.RoleUser, Content: "mine"})
	store.AppendMessage(ctx, "s2", &models.Message{Role: models.RoleUser, Content: "theirs"})

	history, err := store.History(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Content != "mine" {
		t.Errorf("session s1 history = %+v", history)
	}
}

// Mutating a returned message must not leak back into the store.
func TestMemoryStoreCopiesOnRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.AppendMessage(ctx, "s1", &models.Message{
		Role: models.RoleUser, Content: "original", Metadata: map[string]any{"k": "v"},
	})

	first, _ := store.History(ctx, "s1", 0)
	first[0].Content = "mutated"
	first[0].Metadata["k"] = "changed"

	second, _ := store.History(ctx, "s1", 0)
	if second[0].Content != "original" || second[0].Metadata["k"] != "v" {
		t.Error("mutation through a returned message reached the store")
	}
}

func TestMemoryStoreTrimsOldMessages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i := 0; i < maxMessagesPerSession+10; i++ {
		store.AppendMessage(ctx, "s1", &models.Message{Role: models.RoleUser, Content: "m"})
	}
	history, _ := store.History(ctx, "s1", 0)
	if len(history) != maxMessagesPerSession {
		t.Errorf("history length = %d, want %d", len(history), maxMessagesPerSession)
	}
}
