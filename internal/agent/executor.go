// Package agent defines the execution collaborator: one run of the agent from
// a prompt (and optional resume directive) to a terminal outcome, delivered as
// a push-style stream of output events.
package agent

import (
	"context"
	"sync"

	"github.com/huangjh/streamagent/internal/interrupts"
)

// EventKind classifies an execution output event.
type EventKind string

const (
	// KindModelFragment is a streaming model output fragment. Fragments with
	// non-empty Reasoning are thinking output; otherwise Text carries the
	// visible response.
	KindModelFragment EventKind = "model_fragment"

	// KindToolStreaming is incremental tool progress. Consumers that do not
	// interpret it may log and drop it.
	KindToolStreaming EventKind = "tool_streaming"

	// KindToolFinished carries the responses of completed tool executions.
	KindToolFinished EventKind = "tool_finished"

	// KindInterruption signals that the execution paused pending human
	// approval. It is the last event of the run; no terminal event follows.
	KindInterruption EventKind = "interruption"
)

// ToolResponse is one completed tool execution inside a KindToolFinished
// event.
type ToolResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Data string `json:"data"`
}

// Event is one output event from a running execution.
type Event struct {
	Kind      EventKind
	Text      string
	Reasoning string
	Responses []ToolResponse
	// Interruption is set on KindInterruption events.
	Interruption *interrupts.PendingInterruption
}

// ResumeDirective carries a translated human decision into a new execution on
// the same session.
type ResumeDirective struct {
	Interruption *interrupts.PendingInterruption
}

// Request describes one execution.
type Request struct {
	Prompt    string
	SessionID string
	Resume    *ResumeDirective
}

// Run is a live execution's output. Events is closed when the run ends; Err
// reports the terminal error, if any, once Events is closed. An interrupted
// run ends without error — the interruption event itself is the outcome.
type Run struct {
	events chan Event

	mu  sync.Mutex
	err error
}

// NewRun creates a Run for an executor to emit into.
func NewRun() *Run {
	return &Run{events: make(chan Event, 16)}
}

// Events returns the output event stream.
func (r *Run) Events() <-chan Event { return r.events }

// Err returns the terminal error. Only valid after Events is closed.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Emit publishes one event. Blocks until the subscriber consumes it, which
// preserves per-execution event ordering.
func (r *Run) Emit(e Event) {
	r.events <- e
}

// Finish ends the run with an optional terminal error and closes Events.
// Must be called exactly once, after the last Emit.
func (r *Run) Finish(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	close(r.events)
}

// Executor starts executions. Implementations produce events asynchronously;
// the returned Run's event channel is the subscription.
type Executor interface {
	Execute(ctx context.Context, req Request) *Run
}
