package interrupts

import (
	"errors"
	"sync"
	"testing"
)

func pending(node string) *PendingInterruption {
	return &PendingInterruption{
		NodeID: node,
		Feedback: []ToolFeedback{
			{ID: "tc-1", Name: "get_weather", Arguments: `{"city":"Hangzhou"}`, Result: ResultPending},
		},
	}
}

func TestStorePutGetRemove(t *testing.T) {
	s := NewStore()

	if err := s.Put("s1", pending("tool_approval")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := s.Get("s1")
	if !ok || got.NodeID != "tool_approval" {
		t.Fatalf("Get = %+v/%v", got, ok)
	}
	if !s.Contains("s1") {
		t.Error("Contains = false, want true")
	}

	removed, ok := s.Remove("s1")
	if !ok || removed != got {
		t.Fatalf("Remove = %+v/%v", removed, ok)
	}
	if _, ok := s.Get("s1"); ok {
		t.Error("entry survived Remove")
	}
	if _, ok := s.Remove("s1"); ok {
		t.Error("second Remove found an entry; consumption must be exactly once")
	}
}

func TestStorePutNil(t *testing.T) {
	s := NewStore()
	if err := s.Put("s1", nil); !errors.Is(err, ErrNilInterruption) {
		t.Errorf("Put(nil) = %v, want ErrNilInterruption", err)
	}
	if _, err := s.PutIfAbsent("s1", nil); !errors.Is(err, ErrNilInterruption) {
		t.Errorf("PutIfAbsent(nil) = %v, want ErrNilInterruption", err)
	}
}

func TestStorePutIfAbsent(t *testing.T) {
	s := NewStore()
	first := pending("a")

	existing, err := s.PutIfAbsent("s1", first)
	if err != nil || existing != nil {
		t.Fatalf("first PutIfAbsent = %+v, %v", existing, err)
	}

	second := pending("b")
	existing, err = s.PutIfAbsent("s1", second)
	if err != nil {
		t.Fatalf("second PutIfAbsent: %v", err)
	}
	if existing != first {
		t.Error("PutIfAbsent replaced an existing entry")
	}
	got, _ := s.Get("s1")
	if got != first {
		t.Error("store no longer holds the first entry")
	}
}

func TestStorePutReplaces(t *testing.T) {
	s := NewStore()
	s.Put("s1", pending("a"))
	replacement := pending("b")
	s.Put("s1", replacement)

	got, _ := s.Get("s1")
	if got != replacement {
		t.Error("Put did not replace the existing entry")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestStoreClear(t *testing.T) {
	s := NewStore()
	s.Put("s1", pending("a"))
	s.Put("s2", pending("b"))
	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", s.Len())
	}
}

// Concurrent removers for the same session: exactly one wins.
func TestStoreConcurrentRemove(t *testing.T) {
	s := NewStore()
	s.Put("s1", pending("a"))

	var wg sync.WaitGroup
	wins := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Remove("s1"); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("%d removers won, want exactly 1", count)
	}
}
