// Package interrupts holds pending human-approval state for paused executions.
//
// When an execution pauses to ask for approval of one or more tool calls, the
// orchestrator stores a PendingInterruption here under the session id. The
// next request carrying a human decision consumes it exactly once; stale
// decisions can never replay because the entry is removed on consumption.
// Entries never expire on their own; the orchestrator owns their lifecycle.
package interrupts

import (
	"errors"
	"sync"
)

// ErrNilInterruption is returned by Put when given a nil value.
var ErrNilInterruption = errors.New("interruption cannot be nil")

// FeedbackResult is the human verdict attached to one tool call.
type FeedbackResult string

const (
	ResultPending  FeedbackResult = "PENDING"
	ResultApproved FeedbackResult = "APPROVED"
	ResultRejected FeedbackResult = "REJECTED"
	ResultEdited   FeedbackResult = "EDITED"
)

// ToolFeedback describes one tool call awaiting (or carrying) a verdict.
type ToolFeedback struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Arguments   string         `json:"arguments"`
	Description string         `json:"description"`
	Result      FeedbackResult `json:"result"`
}

// PendingInterruption is the snapshot of a paused execution: the node it
// paused at, its state, and the ordered tool feedback list. A session has at
// most one pending interruption at a time.
type PendingInterruption struct {
	NodeID   string         `json:"node_id"`
	State    map[string]any `json:"state,omitempty"`
	Feedback []ToolFeedback `json:"feedback"`
}

// Store is a concurrent map from session id to its pending interruption.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*PendingInterruption
}

// NewStore creates an empty interruption store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*PendingInterruption)}
}

// Put stores the interruption for the session, replacing any existing entry.
// A nil interruption is rejected.
func (s *Store) Put(sessionID string, p *PendingInterruption) error {
	if p == nil {
		return ErrNilInterruption
	}
	s.mu.Lock()
	s.entries[sessionID] = p
	s.mu.Unlock()
	return nil
}

// PutIfAbsent stores the interruption only when no entry exists for the
// session. It returns the existing entry when there is one, nil otherwise.
// The check-then-act is atomic so concurrent resume attempts on the same
// session cannot both install an entry.
func (s *Store) PutIfAbsent(sessionID string, p *PendingInterruption) (*PendingInterruption, error) {
	if p == nil {
		return nil, ErrNilInterruption
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[sessionID]; ok {
		return existing, nil
	}
	s.entries[sessionID] = p
	return nil, nil
}

// Get returns the pending interruption for the session, if any.
func (s *Store) Get(sessionID string) (*PendingInterruption, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.entries[sessionID]
	return p, ok
}

// Remove deletes and returns the session's entry, if any.
func (s *Store) Remove(sessionID string) (*PendingInterruption, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[sessionID]
	if ok {
		delete(s.entries, sessionID)
	}
	return p, ok
}

// Contains reports whether the session has a pending interruption.
func (s *Store) Contains(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[sessionID]
	return ok
}

// Len returns the number of pending interruptions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*PendingInterruption)
	s.mu.Unlock()
}
