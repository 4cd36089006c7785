package channels

import (
	"errors"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, timeout time.Duration) *Registry {
	t.Helper()
	return NewRegistry(RegistryConfig{Timeout: timeout})
}

func TestRegistryOpenAndGet(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	ch := r.Open("s1")
	got, ok := r.Get("s1")
	if !ok || got != ch {
		t.Fatalf("Get returned %v/%v, want the opened channel", got, ok)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryOpenReplacesExisting(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	first := r.Open("s1")
	second := r.Open("s1")

	if first == second {
		t.Fatal("Open returned the same channel twice")
	}
	if !first.Closed() {
		t.Error("replaced channel was not completed")
	}
	got, ok := r.Get("s1")
	if !ok || got != second {
		t.Error("registry does not point at the replacement channel")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1 after replacement", r.Len())
	}
}

// A completion callback from a superseded channel must not evict the channel
// that replaced it.
func TestRegistryStaleCallbackDoesNotEvictReplacement(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	first := r.Open("s1")
	second := r.Open("s1")

	// Closing the stale channel again fires no callbacks (close is once-only),
	// but drive the stale path directly to prove compare-and-remove holds.
	r.removeIf("s1", first)

	got, ok := r.Get("s1")
	if !ok || got != second {
		t.Fatal("stale removal evicted the live channel")
	}
}

func TestRegistryCompleteRemovesEntry(t *testing.T) {
	r := newTestRegistry(t, time.Minute)
	ch := r.Open("s1")

	r.Complete("s1")

	if !ch.Closed() {
		t.Error("channel not closed by Complete")
	}
	if _, ok := r.Get("s1"); ok {
		t.Error("entry still present after Complete")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRegistryCompleteWithError(t *testing.T) {
	r := newTestRegistry(t, time.Minute)
	ch := r.Open("s1")
	cause := errors.New("execution failed")

	r.CompleteWithError("s1", cause)

	if !errors.Is(ch.Err(), cause) {
		t.Errorf("Err = %v, want %v", ch.Err(), cause)
	}
	if _, ok := r.Get("s1"); ok {
		t.Error("entry still present after CompleteWithError")
	}
}

func TestRegistrySendDelivers(t *testing.T) {
	r := newTestRegistry(t, time.Minute)
	ch := r.Open("s1")

	r.Send(ch, "s1", EventModel, "chunk")

	event := <-ch.Events()
	if event.Name != EventModel || event.Data != "chunk" {
		t.Errorf("got %+v", event)
	}
}

// Send to a dead channel is absorbed and the entry reclaimed; the producer
// never sees an error.
func TestRegistrySendFailureReclaimsEntry(t *testing.T) {
	r := newTestRegistry(t, time.Minute)
	ch := r.Open("s1")
	ch.Complete() // client gone; registry entry is already reclaimed by callback

	// Re-register to simulate an entry pointing at a broken channel.
	r.mu.Lock()
	r.channels["s1"] = ch
	r.mu.Unlock()

	r.Send(ch, "s1", EventModel, "chunk")

	if _, ok := r.Get("s1"); ok {
		t.Error("broken channel entry not reclaimed after failed send")
	}
}

func TestRegistrySendNilChannel(t *testing.T) {
	r := newTestRegistry(t, time.Minute)
	// Must not panic.
	r.Send(nil, "s1", EventModel, "chunk")
}

func TestRegistryTimeoutReclaimsEntry(t *testing.T) {
	r := newTestRegistry(t, 20*time.Millisecond)
	ch := r.Open("s1")

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := r.Get("s1"); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed-out channel never reclaimed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !ch.Closed() {
		t.Error("channel not closed after timeout")
	}
}
