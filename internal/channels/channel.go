// Package channels owns the mapping from session id to a live output channel
// and the delivery of named events over it.
//
// A Channel is the single delivery path for one session's event stream. It is
// created by the Registry, carries an absolute timeout, and closes exactly
// once: normally, with an error, or by timeout. Completion callbacks let the
// Registry reclaim its entry without racing a newer channel that has already
// replaced this one.
package channels

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event stream names delivered to clients. Terminal streams end with exactly
// one of EventComplete or EventError; an interrupted stream ends with neither.
const (
	EventModel     = "model"
	EventThinking  = "thinking"
	EventTool      = "tool"
	EventInterrupt = "interrupt"
	EventContext   = "context"
	EventComplete  = "complete"
	EventError     = "error"
)

// ErrChannelClosed is returned by Send once a channel has completed.
var ErrChannelClosed = errors.New("channel closed")

// DefaultTimeout is the absolute lifetime of a channel. A stream still open
// after this long is force-completed and its registry entry reclaimed.
const DefaultTimeout = 10 * time.Minute

// Event is one named payload delivered over a channel.
type Event struct {
	Name string
	Data string
}

// CloseReason records how a channel ended.
type CloseReason int

const (
	CloseCompleted CloseReason = iota
	CloseTimeout
	CloseError
)

// Channel is a session's output stream. The consumer (the SSE handler) ranges
// over Events until Done; producers go through the Registry's Send, which
// serializes writes because the underlying transport is single-writer.
type Channel struct {
	id        string
	sessionID string
	timeout   time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closed    bool
	err       error
	reason    CloseReason

	events chan Event
	done   chan struct{}
	timer  *time.Timer

	// Completion callbacks, set by the registry before the channel is
	// published. Each fires at most once, after the channel is closed.
	onCompletion func()
	onTimeout    func()
	onError      func(error)
}

func newChannel(sessionID string, timeout time.Duration) *Channel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Channel{
		id:        uuid.NewString(),
		sessionID: sessionID,
		timeout:   timeout,
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
	}
	c.timer = time.AfterFunc(timeout, c.expire)
	return c
}

// ID returns the unique identity of this channel instance. Two channels opened
// for the same session id have distinct IDs; the registry uses this to tell a
// stale callback from a live entry.
func (c *Channel) ID() string { return c.id }

// SessionID returns the session this channel belongs to.
func (c *Channel) SessionID() string { return c.sessionID }

// Events returns the stream of delivered events. It is closed after the
// channel completes.
func (c *Channel) Events() <-chan Event { return c.events }

// Done is closed when the channel has completed (normally or otherwise).
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err returns the terminal error, if the channel completed with one.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Closed reports whether the channel has completed.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send delivers one named event. It blocks while the consumer drains a full
// buffer and fails once the channel is closed. Only one Send may be in flight
// per channel at a time; the channel's own lock enforces that because the
// transport is not safe for concurrent writers.
func (c *Channel) Send(name, data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	// A concurrent close signals done before it takes the lock, so a Send
	// blocked here always unblocks.
	select {
	case c.events <- Event{Name: name, Data: data}:
		return nil
	case <-c.done:
		return ErrChannelClosed
	}
}

// Complete closes the channel normally. Safe to call more than once; only the
// first close takes effect.
func (c *Channel) Complete() {
	c.close(CloseCompleted, nil)
}

// CompleteWithError closes the channel with a terminal error.
func (c *Channel) CompleteWithError(err error) {
	c.close(CloseError, err)
}

func (c *Channel) expire() {
	c.close(CloseTimeout, nil)
}

func (c *Channel) close(reason CloseReason, err error) {
	c.closeOnce.Do(func() {
		// Unblock any in-flight Send before contending for the lock.
		close(c.done)

		c.mu.Lock()
		c.closed = true
		c.reason = reason
		c.err = err
		c.timer.Stop()
		close(c.events)
		onCompletion, onTimeout, onError := c.onCompletion, c.onTimeout, c.onError
		c.mu.Unlock()

		switch reason {
		case CloseCompleted:
			if onCompletion != nil {
				onCompletion()
			}
		case CloseTimeout:
			if onTimeout != nil {
				onTimeout()
			}
		case CloseError:
			if onError != nil {
				onError(err)
			}
		}
	})
}
